package app

import (
	"context"
	"strings"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/rs/zerolog/log"
)

// AttemptService opens attempt sessions for students.
type AttemptService struct {
	quizzes       QuizRepository
	attempts      AttemptRepository
	submitTimeout time.Duration
	now           func() time.Time
}

func NewAttemptService(quizzes QuizRepository, attempts AttemptRepository, submitTimeout time.Duration) *AttemptService {
	return &AttemptService{
		quizzes:       quizzes,
		attempts:      attempts,
		submitTimeout: submitTimeout,
		now:           time.Now,
	}
}

// Begin loads the quiz behind a share code and returns a fresh session for a bound student.
func (s *AttemptService) Begin(ctx context.Context, user domain.User, code string) (*AttemptSession, error) {
	taker, err := domain.TakerFromUser(user)
	if err != nil {
		return nil, err
	}
	quiz, err := s.quizzes.GetQuizByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if !quiz.IsActive {
		return nil, domain.ErrQuizInactive
	}
	session, err := NewAttemptSession(quiz, taker, s.attempts, WithSubmitTimeout(s.submitTimeout), WithClock(s.now))
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("quizId", quiz.ID).
		Str("studentId", taker.StudentID).
		Str("submissionId", session.SubmissionID()).
		Msg("attempt session opened")
	return session, nil
}

// NormalizeCode makes share codes case- and whitespace-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
