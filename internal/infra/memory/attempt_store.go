package memory

import (
	"context"
	"sync"

	"classroom-quiz-service/internal/domain"
	"github.com/google/uuid"
)

const subscriberBuffer = 16

// AttemptStore is an append-only in-memory attempt log with live subscriptions.
type AttemptStore struct {
	mu           sync.RWMutex
	attempts     []domain.Attempt
	byID         map[string]int
	bySubmission map[string]string
	subscribers  map[*attemptSubscriber]struct{}
}

type attemptSubscriber struct {
	scope domain.AttemptScope
	ch    chan domain.AttemptBatch
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		byID:         make(map[string]int),
		bySubmission: make(map[string]string),
		subscribers:  make(map[*attemptSubscriber]struct{}),
	}
}

// AppendAttempt stores the attempt once per submission id and fans it out.
func (s *AttemptStore) AppendAttempt(_ context.Context, attempt domain.Attempt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt.SubmissionID != "" {
		if id, ok := s.bySubmission[attempt.SubmissionID]; ok {
			return id, nil
		}
	}
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.Answers = append([]int(nil), attempt.Answers...)
	s.byID[attempt.ID] = len(s.attempts)
	s.attempts = append(s.attempts, attempt)
	if attempt.SubmissionID != "" {
		s.bySubmission[attempt.SubmissionID] = attempt.ID
	}

	for sub := range s.subscribers {
		if sub.scope.Matches(attempt) {
			s.deliverLocked(sub, domain.AttemptBatch{Attempts: []domain.Attempt{attempt}})
		}
	}
	return attempt.ID, nil
}

func (s *AttemptStore) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return s.attempts[i], nil
}

func (s *AttemptStore) ListAttempts(_ context.Context, scope domain.AttemptScope) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := scope.Filter(s.attempts)
	domain.SortAttempts(out)
	return out, nil
}

// SubscribeAttempts starts with a Resync of the matching set. Deltas follow;
// a subscriber that falls behind has its backlog replaced by a fresh Resync.
func (s *AttemptStore) SubscribeAttempts(ctx context.Context, scope domain.AttemptScope) (<-chan domain.AttemptBatch, func(), error) {
	sub := &attemptSubscriber{scope: scope, ch: make(chan domain.AttemptBatch, subscriberBuffer)}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	sub.ch <- s.resyncLocked(scope)
	s.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			s.mu.Lock()
			if _, ok := s.subscribers[sub]; ok {
				delete(s.subscribers, sub)
				close(sub.ch)
			}
			s.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return sub.ch, cancel, nil
}

// Resync pushes the full matching set to every subscriber.
func (s *AttemptStore) Resync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		s.deliverLocked(sub, s.resyncLocked(sub.scope))
	}
}

// Interrupt ends every live feed with err, as a lost backend connection would.
func (s *AttemptStore) Interrupt(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		drain(sub.ch)
		sub.ch <- domain.AttemptBatch{Err: &domain.SubscriptionError{Err: err}}
		close(sub.ch)
		delete(s.subscribers, sub)
	}
}

func (s *AttemptStore) deliverLocked(sub *attemptSubscriber, batch domain.AttemptBatch) {
	select {
	case sub.ch <- batch:
	default:
		// slow reader: replace its backlog with the full current set
		drain(sub.ch)
		sub.ch <- s.resyncLocked(sub.scope)
	}
}

func (s *AttemptStore) resyncLocked(scope domain.AttemptScope) domain.AttemptBatch {
	out := scope.Filter(s.attempts)
	domain.SortAttempts(out)
	return domain.AttemptBatch{Attempts: out, Resync: true}
}

func drain(ch chan domain.AttemptBatch) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
