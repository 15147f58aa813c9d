package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

var errFeedClosed = errors.New("attempt feed closed")

// ResultRow is one attempt with its display metrics.
type ResultRow struct {
	Attempt domain.Attempt `json:"attempt"`
	Ratio   float64        `json:"ratio"`
	Strong  bool           `json:"strong"`
}

// ResultSnapshot is what a live view shows at one instant: rows newest first,
// unique by attempt id. Stale is set while the feed is being re-established.
type ResultSnapshot struct {
	Scope       domain.AttemptScope `json:"scope"`
	FocusQuizID string              `json:"focusQuizId,omitempty"`
	Rows        []ResultRow         `json:"rows"`
	Stale       bool                `json:"stale"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// ResultOption customizes a ResultService.
type ResultOption func(*ResultService)

// WithResubscribeBackOff sets the policy used between resubscription attempts.
func WithResubscribeBackOff(newBackOff func() backoff.BackOff) ResultOption {
	return func(s *ResultService) {
		if newBackOff != nil {
			s.newBackOff = newBackOff
		}
	}
}

// ResultService serves teacher result views and attempt lookups.
type ResultService struct {
	quizzes    QuizRepository
	attempts   AttemptRepository
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

func NewResultService(quizzes QuizRepository, attempts AttemptRepository, opts ...ResultOption) *ResultService {
	s := &ResultService{
		quizzes:    quizzes,
		attempts:   attempts,
		newBackOff: defaultBackOff,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Watch opens a live view over the attempts of the viewer's quizzes, optionally
// focused on one of them. The caller must Close the view.
func (s *ResultService) Watch(ctx context.Context, viewer domain.User, quizID string) (*ResultView, error) {
	if !viewer.IsTeacher() {
		return nil, domain.ErrForbidden
	}
	if quizID != "" {
		if err := s.checkOwner(ctx, viewer, quizID); err != nil {
			return nil, err
		}
	}
	scope := domain.AttemptScope{CreatorID: viewer.ID}

	ctx, cancel := context.WithCancel(ctx)
	feed, stop, err := s.attempts.SubscribeAttempts(ctx, scope)
	if err != nil {
		cancel()
		return nil, &domain.SubscriptionError{Err: err}
	}

	v := &ResultView{
		service: s,
		viewer:  viewer,
		scope:   scope,
		focus:   quizID,
		rows:    make(map[string]domain.Attempt),
		stale:   true,
		updates: make(chan ResultSnapshot, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go v.run(ctx, feed, stop)
	return v, nil
}

// GetAttempt returns an attempt to its student or to the teacher who owns the quiz.
func (s *ResultService) GetAttempt(ctx context.Context, viewer domain.User, attemptID string) (domain.Attempt, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.StudentID == viewer.ID || (viewer.IsTeacher() && attempt.QuizCreatorID == viewer.ID) {
		return attempt, nil
	}
	return domain.Attempt{}, domain.ErrForbidden
}

// ListOwnAttempts returns the viewer's own attempts, newest first.
func (s *ResultService) ListOwnAttempts(ctx context.Context, viewer domain.User) ([]domain.Attempt, error) {
	attempts, err := s.attempts.ListAttempts(ctx, domain.AttemptScope{StudentID: viewer.ID})
	if err != nil {
		return nil, err
	}
	domain.SortAttempts(attempts)
	return attempts, nil
}

func (s *ResultService) checkOwner(ctx context.Context, viewer domain.User, quizID string) error {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return err
	}
	if quiz.CreatorID != viewer.ID {
		return domain.ErrForbidden
	}
	return nil
}

// ResultView is a cancelable live view. Updates are latest-wins: a slow reader
// skips intermediate snapshots but always receives the newest one.
type ResultView struct {
	service *ResultService
	viewer  domain.User
	scope   domain.AttemptScope

	mu      sync.Mutex
	focus   string
	rows    map[string]domain.Attempt
	stale   bool
	closed  bool
	updates chan ResultSnapshot

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Updates delivers snapshots until the view is closed.
func (v *ResultView) Updates() <-chan ResultSnapshot { return v.updates }

// Snapshot returns the current state without waiting for an update.
func (v *ResultView) Snapshot() ResultSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Focus narrows the visible rows to one of the viewer's quizzes.
func (v *ResultView) Focus(ctx context.Context, quizID string) error {
	if err := v.service.checkOwner(ctx, v.viewer, quizID); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.focus = quizID
	v.publishLocked()
	return nil
}

// Unfocus returns to the teacher-wide view.
func (v *ResultView) Unfocus() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.focus = ""
	v.publishLocked()
}

// Close unsubscribes from the feed and closes Updates. Safe to call twice.
func (v *ResultView) Close() {
	v.closeOnce.Do(func() {
		v.cancel()
		<-v.done
		v.mu.Lock()
		v.closed = true
		close(v.updates)
		v.mu.Unlock()
	})
}

func (v *ResultView) run(ctx context.Context, feed <-chan domain.AttemptBatch, stop func()) {
	defer close(v.done)
	b := v.service.newBackOff()

	for {
		err := v.consume(ctx, feed, b)
		stop()
		if ctx.Err() != nil {
			return
		}
		v.markStale()
		log.Warn().Err(err).Str("creatorId", v.scope.CreatorID).Msg("result feed disrupted, resubscribing")

		for {
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			feed, stop, err = v.service.attempts.SubscribeAttempts(ctx, v.scope)
			if err == nil {
				break
			}
			log.Warn().Err(err).Str("creatorId", v.scope.CreatorID).Msg("resubscribe failed")
		}
	}
}

func (v *ResultView) consume(ctx context.Context, feed <-chan domain.AttemptBatch, b backoff.BackOff) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-feed:
			if !ok {
				return &domain.SubscriptionError{Err: errFeedClosed}
			}
			if batch.Err != nil {
				return batch.Err
			}
			v.apply(batch)
			b.Reset()
		}
	}
}

func (v *ResultView) apply(batch domain.AttemptBatch) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, a := range batch.Attempts {
		if v.scope.Matches(a) {
			v.rows[a.ID] = a
		}
	}
	if batch.Resync {
		v.stale = false
	}
	v.publishLocked()
}

func (v *ResultView) markStale() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stale = true
	v.publishLocked()
}

func (v *ResultView) publishLocked() {
	if v.closed {
		return
	}
	snap := v.snapshotLocked()
	select {
	case v.updates <- snap:
	default:
		select {
		case <-v.updates:
		default:
		}
		v.updates <- snap
	}
}

func (v *ResultView) snapshotLocked() ResultSnapshot {
	scope := domain.AttemptScope{QuizID: v.focus}
	attempts := make([]domain.Attempt, 0, len(v.rows))
	for _, a := range v.rows {
		if scope.Matches(a) {
			attempts = append(attempts, a)
		}
	}
	domain.SortAttempts(attempts)

	rows := make([]ResultRow, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, ResultRow{Attempt: a, Ratio: a.Ratio(), Strong: a.Strong()})
	}
	return ResultSnapshot{
		Scope:       v.scope,
		FocusQuizID: v.focus,
		Rows:        rows,
		Stale:       v.stale,
		UpdatedAt:   v.service.now(),
	}
}
