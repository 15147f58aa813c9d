package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// QuizCache keeps quiz documents in Redis in front of the quiz store and
// shares them across instances.
// Quizzes are stored as:     SET quiz:{quizID} {json}
// Share codes are stored as: SET quiz:code:{code} {quizID}
// Every write bumps:         INCR quiz:gen
// and a fill only lands while quiz:gen still holds the value read before the
// backing fetch.
type QuizCache struct {
	client *redis.Client
	next   app.QuizRepository
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizCache(client *redis.Client, next app.QuizRepository, ttl time.Duration) *QuizCache {
	return &QuizCache{
		client: client,
		next:   next,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.cached(ctx, quizID); ok {
		return quiz, nil
	}
	return c.load(ctx, "id:"+quizID, func() (domain.Quiz, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := c.cached(ctx, quizID); ok {
			return quiz, nil
		}
		return c.next.GetQuiz(ctx, quizID)
	})
}

func (c *QuizCache) GetQuizByCode(ctx context.Context, code string) (domain.Quiz, error) {
	if id, err := c.client.Get(ctx, codeKey(code)).Result(); err == nil {
		if quiz, ok := c.cached(ctx, id); ok {
			return quiz, nil
		}
	}
	return c.load(ctx, "code:"+code, func() (domain.Quiz, error) {
		return c.next.GetQuizByCode(ctx, code)
	})
}

func (c *QuizCache) CreateQuiz(ctx context.Context, quiz domain.Quiz) error {
	return c.next.CreateQuiz(ctx, quiz)
}

func (c *QuizCache) UpdateQuiz(ctx context.Context, quiz domain.Quiz) error {
	old, hadOld := c.cached(ctx, quiz.ID)
	keys := []string{quizKey(quiz.ID), codeKey(quiz.Code)}
	if hadOld && old.Code != quiz.Code {
		keys = append(keys, codeKey(old.Code))
	}
	c.evict(ctx, keys...)
	err := c.next.UpdateQuiz(ctx, quiz)
	c.evict(ctx, keys...)
	c.forget(quiz.ID, quiz.Code, old.Code)
	return err
}

func (c *QuizCache) DeleteQuiz(ctx context.Context, quizID string) error {
	keys := []string{quizKey(quizID)}
	old, hadOld := c.cached(ctx, quizID)
	if hadOld {
		keys = append(keys, codeKey(old.Code))
	}
	c.evict(ctx, keys...)
	err := c.next.DeleteQuiz(ctx, quizID)
	c.evict(ctx, keys...)
	c.forget(quizID, old.Code)
	return err
}

func (c *QuizCache) ListQuizzesByCreator(ctx context.Context, creatorID string) ([]domain.Quiz, error) {
	return c.next.ListQuizzesByCreator(ctx, creatorID)
}

func (c *QuizCache) load(ctx context.Context, key string, fetch func() (domain.Quiz, error)) (domain.Quiz, error) {
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		gen, genErr := c.generation(ctx)
		quiz, err := fetch()
		if err != nil {
			return domain.Quiz{}, err
		}
		if genErr == nil {
			c.fill(ctx, quiz, gen)
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (c *QuizCache) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	raw, err := c.client.Get(ctx, quizKey(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("quizId", quizID).Msg("quiz cache read failed")
		}
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("quiz cache generation read failed")
	}
	return gen, err
}

// fill is best-effort; a failed write only costs a later miss. It is skipped
// when a write bumped the generation after gen was read.
func (c *QuizCache) fill(ctx context.Context, quiz domain.Quiz, gen int64) {
	data, err := json.Marshal(quiz)
	if err != nil {
		return
	}
	ttl := c.ttlWithJitter()
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, quizKey(quiz.ID), data, ttl)
			if quiz.Code != "" {
				pipe.Set(ctx, codeKey(quiz.Code), quiz.ID, ttl)
			}
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		log.Debug().Str("quizId", quiz.ID).Msg("quiz changed during load; not caching")
	default:
		log.Warn().Err(err).Str("quizId", quiz.ID).Msg("quiz cache fill failed")
	}
}

func (c *QuizCache) evict(ctx context.Context, keys ...string) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("quiz cache evict failed")
	}
}

func (c *QuizCache) forget(quizID string, codes ...string) {
	c.sf.Forget("id:" + quizID)
	for _, code := range codes {
		if code != "" {
			c.sf.Forget("code:" + code)
		}
	}
}

var errStaleFill = errors.New("quiz cache: generation moved")

const genKey = "quiz:gen"

func quizKey(quizID string) string {
	return "quiz:" + quizID
}

func codeKey(code string) string {
	return "quiz:code:" + code
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
