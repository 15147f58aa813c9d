package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuizCache keeps quizzes in process memory with a TTL in front of a slower
// repository. Lookups by id and by share code are cached; writes go through
// and invalidate the quiz.
type QuizCache struct {
	next  app.QuizRepository
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu    sync.RWMutex
	byID  map[string]cachedQuiz
	codes map[string]string
	// gen advances on every invalidation; a load that observed an older
	// value must not store its result.
	gen uint64
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizCache(next app.QuizRepository, ttl time.Duration) *QuizCache {
	return &QuizCache{
		next:  next,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		byID:  make(map[string]cachedQuiz),
		codes: make(map[string]string),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.lookup(quizID); ok {
		return quiz, nil
	}
	return c.load("id:"+quizID, func() (domain.Quiz, error) {
		if quiz, ok := c.lookup(quizID); ok {
			return quiz, nil
		}
		return c.next.GetQuiz(ctx, quizID)
	})
}

func (c *QuizCache) GetQuizByCode(ctx context.Context, code string) (domain.Quiz, error) {
	if quiz, ok := c.lookupCode(code); ok {
		return quiz, nil
	}
	return c.load("code:"+code, func() (domain.Quiz, error) {
		if quiz, ok := c.lookupCode(code); ok {
			return quiz, nil
		}
		return c.next.GetQuizByCode(ctx, code)
	})
}

func (c *QuizCache) CreateQuiz(ctx context.Context, quiz domain.Quiz) error {
	return c.next.CreateQuiz(ctx, quiz)
}

func (c *QuizCache) UpdateQuiz(ctx context.Context, quiz domain.Quiz) error {
	c.Invalidate(quiz.ID)
	err := c.next.UpdateQuiz(ctx, quiz)
	c.Invalidate(quiz.ID)
	return err
}

func (c *QuizCache) DeleteQuiz(ctx context.Context, quizID string) error {
	c.Invalidate(quizID)
	err := c.next.DeleteQuiz(ctx, quizID)
	c.Invalidate(quizID)
	return err
}

// ListQuizzesByCreator is not cached; authoring screens need fresh lists.
func (c *QuizCache) ListQuizzesByCreator(ctx context.Context, creatorID string) ([]domain.Quiz, error) {
	return c.next.ListQuizzesByCreator(ctx, creatorID)
}

// Invalidate drops a quiz and any share code pointing at it. Loads already
// in flight when it runs return their result without caching it.
func (c *QuizCache) Invalidate(quizID string) {
	c.mu.Lock()
	c.gen++
	delete(c.byID, quizID)
	for code, id := range c.codes {
		if id == quizID {
			delete(c.codes, code)
			c.sf.Forget("code:" + code)
		}
	}
	c.mu.Unlock()
	c.sf.Forget("id:" + quizID)
}

func (c *QuizCache) load(key string, fetch func() (domain.Quiz, error)) (domain.Quiz, error) {
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		gen := c.generation()
		quiz, err := fetch()
		if err != nil {
			return domain.Quiz{}, err
		}
		c.store(quiz, gen)
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (c *QuizCache) lookup(quizID string) (domain.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookupLocked(quizID)
}

func (c *QuizCache) lookupCode(code string) (domain.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.codes[code]
	if !ok {
		return domain.Quiz{}, false
	}
	return c.lookupLocked(id)
}

func (c *QuizCache) lookupLocked(quizID string) (domain.Quiz, bool) {
	entry, ok := c.byID[quizID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Quiz{}, false
	}
	return entry.quiz, true
}

func (c *QuizCache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

func (c *QuizCache) store(quiz domain.Quiz, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.byID[quiz.ID] = cachedQuiz{quiz: quiz, expiresAt: c.clock().Add(c.ttlWithJitter())}
	if quiz.Code != "" {
		c.codes[quiz.Code] = quiz.ID
	}
}

// ttlWithJitter must be called with mu held; rnd is not safe for concurrent use.
func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
