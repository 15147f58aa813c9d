package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classroom-quiz-service/internal/domain"
)

func TestQuizCacheCaches(t *testing.T) {
	backing := &countingRepo{QuizStore: NewQuizStore(sampleQuiz())}
	cache := NewQuizCache(backing, time.Minute)

	if _, err := cache.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if backing.calls != 1 {
		t.Fatalf("expected backing store once, got %d", backing.calls)
	}

	if _, err := cache.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if backing.calls != 1 {
		t.Fatalf("expected cache hit, backing calls %d", backing.calls)
	}

	// the code index was filled by the id lookup
	if _, err := cache.GetQuizByCode(context.Background(), "ABC123"); err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if backing.calls != 1 {
		t.Fatalf("expected code hit from cache, backing calls %d", backing.calls)
	}
}

func TestQuizCacheExpires(t *testing.T) {
	backing := &countingRepo{QuizStore: NewQuizStore(sampleQuiz())}
	cache := NewQuizCache(backing, time.Minute)
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	_, _ = cache.GetQuiz(context.Background(), "quiz-1")
	now = now.Add(2 * time.Minute)
	_, _ = cache.GetQuiz(context.Background(), "quiz-1")
	if backing.calls != 2 {
		t.Fatalf("expected reload after ttl, got %d calls", backing.calls)
	}
}

func TestQuizCacheInvalidatesOnUpdate(t *testing.T) {
	ctx := context.Background()
	cache := NewQuizCache(NewQuizStore(sampleQuiz()), time.Minute)

	quiz, err := cache.GetQuizByCode(ctx, "ABC123")
	if err != nil || !quiz.IsActive {
		t.Fatalf("expected active quiz, got %+v %v", quiz, err)
	}
	quiz.IsActive = false
	if err := cache.UpdateQuiz(ctx, quiz); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := cache.GetQuizByCode(ctx, "ABC123")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if again.IsActive {
		t.Fatalf("expected cached copy to be invalidated")
	}

	if err := cache.DeleteQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := cache.GetQuiz(ctx, quiz.ID); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestQuizCacheDropsLoadRacingUpdate(t *testing.T) {
	ctx := context.Background()
	backing := newGatedRepo(NewQuizStore(sampleQuiz()))
	cache := NewQuizCache(backing, time.Minute)

	done := make(chan domain.Quiz, 1)
	go func() {
		quiz, _ := cache.GetQuiz(ctx, "quiz-1")
		done <- quiz
	}()
	<-backing.entered

	updated := sampleQuiz()
	updated.IsActive = false
	if err := cache.UpdateQuiz(ctx, updated); err != nil {
		t.Fatalf("update: %v", err)
	}
	close(backing.release)
	if stale := <-done; !stale.IsActive {
		t.Fatalf("expected the racing load to see the old row")
	}

	again, err := cache.GetQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if again.IsActive {
		t.Fatalf("stale quiz was cached after update")
	}
	byCode, _ := cache.GetQuizByCode(ctx, "ABC123")
	if byCode.IsActive {
		t.Fatalf("stale quiz was cached under its code")
	}
}

func TestQuizStoreRejectsDuplicateCode(t *testing.T) {
	store := NewQuizStore(sampleQuiz())
	dup := sampleQuiz()
	dup.ID = "quiz-2"
	if err := store.CreateQuiz(context.Background(), dup); !errors.Is(err, domain.ErrCodeTaken) {
		t.Fatalf("expected code taken, got %v", err)
	}
}

type countingRepo struct {
	*QuizStore
	calls int
}

func (r *countingRepo) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	r.calls++
	return r.QuizStore.GetQuiz(ctx, quizID)
}

func (r *countingRepo) GetQuizByCode(ctx context.Context, code string) (domain.Quiz, error) {
	r.calls++
	return r.QuizStore.GetQuizByCode(ctx, code)
}

// gatedRepo reads the first quiz immediately but holds it until release is
// closed.
type gatedRepo struct {
	*QuizStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedRepo(store *QuizStore) *gatedRepo {
	return &gatedRepo{QuizStore: store, entered: make(chan struct{}), release: make(chan struct{})}
}

func (r *gatedRepo) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz, err := r.QuizStore.GetQuiz(ctx, quizID)
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.entered)
		<-r.release
	}
	return quiz, err
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-1",
		Title:     "Arithmetic",
		CreatorID: "teacher-1",
		Code:      "ABC123",
		IsActive:  true,
		Questions: []domain.Question{
			{
				ID:                 "q1",
				Text:               "What is 2 + 2?",
				Options:            []string{"3", "4"},
				CorrectAnswerIndex: 1,
			},
		},
	}
}
