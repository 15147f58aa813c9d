package redis

import (
	"context"
	"encoding/json"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// AttemptsChannel carries every appended attempt as JSON.
const AttemptsChannel = "attempts:appended"

const feedBuffer = 16

// AttemptFeed fans attempts out across instances with Redis pub/sub while the
// wrapped repository stays the source of truth.
//   - AppendAttempt writes through, then publishes the stored attempt.
//   - SubscribeAttempts resyncs from the repository on every (re)subscription,
//     since messages published while disconnected are lost.
type AttemptFeed struct {
	app.AttemptRepository
	client *redis.Client
}

func NewAttemptFeed(client *redis.Client, next app.AttemptRepository) *AttemptFeed {
	return &AttemptFeed{AttemptRepository: next, client: client}
}

func (f *AttemptFeed) AppendAttempt(ctx context.Context, attempt domain.Attempt) (string, error) {
	id, err := f.AttemptRepository.AppendAttempt(ctx, attempt)
	if err != nil {
		return "", err
	}
	attempt.ID = id
	data, err := json.Marshal(attempt)
	if err == nil {
		err = f.client.Publish(ctx, AttemptsChannel, data).Err()
	}
	if err != nil {
		// the attempt is stored; live views catch up on their next resync
		log.Warn().Err(err).Str("attemptId", id).Msg("attempt publish failed")
	}
	return id, nil
}

func (f *AttemptFeed) SubscribeAttempts(ctx context.Context, scope domain.AttemptScope) (<-chan domain.AttemptBatch, func(), error) {
	pubsub := f.client.Subscribe(ctx, AttemptsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, &domain.SubscriptionError{Err: err}
	}

	initial, err := f.AttemptRepository.ListAttempts(ctx, scope)
	if err != nil {
		_ = pubsub.Close()
		return nil, nil, &domain.SubscriptionError{Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan domain.AttemptBatch, feedBuffer)
	ch <- domain.AttemptBatch{Attempts: initial, Resync: true}
	msgs := pubsub.ChannelWithSubscriptions(redis.WithChannelSize(feedBuffer))

	go func() {
		defer close(ch)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-msgs:
				if !ok {
					f.send(ctx, ch, domain.AttemptBatch{Err: &domain.SubscriptionError{Err: redis.ErrClosed}})
					return
				}
				batch, err := f.batchFor(ctx, scope, raw)
				if err != nil {
					f.send(ctx, ch, domain.AttemptBatch{Err: &domain.SubscriptionError{Err: err}})
					return
				}
				if batch == nil {
					continue
				}
				if !f.send(ctx, ch, *batch) {
					return
				}
			}
		}
	}()
	return ch, cancel, nil
}

// batchFor turns a pub/sub event into a batch, or nil when it is not relevant.
func (f *AttemptFeed) batchFor(ctx context.Context, scope domain.AttemptScope, raw interface{}) (*domain.AttemptBatch, error) {
	switch m := raw.(type) {
	case *redis.Subscription:
		if m.Kind != "subscribe" {
			return nil, nil
		}
		attempts, err := f.AttemptRepository.ListAttempts(ctx, scope)
		if err != nil {
			return nil, err
		}
		return &domain.AttemptBatch{Attempts: attempts, Resync: true}, nil
	case *redis.Message:
		var attempt domain.Attempt
		if err := json.Unmarshal([]byte(m.Payload), &attempt); err != nil {
			log.Warn().Err(err).Msg("dropping malformed attempt message")
			return nil, nil
		}
		if !scope.Matches(attempt) {
			return nil, nil
		}
		return &domain.AttemptBatch{Attempts: []domain.Attempt{attempt}}, nil
	}
	return nil, nil
}

func (f *AttemptFeed) send(ctx context.Context, ch chan<- domain.AttemptBatch, batch domain.AttemptBatch) bool {
	select {
	case ch <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}
