package app

import (
	"context"

	"classroom-quiz-service/internal/domain"
)

// QuizRepository stores quiz definitions (in-memory, Postgres, cached by Redis).
type QuizRepository interface {
	CreateQuiz(ctx context.Context, quiz domain.Quiz) error
	UpdateQuiz(ctx context.Context, quiz domain.Quiz) error
	DeleteQuiz(ctx context.Context, quizID string) error
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	GetQuizByCode(ctx context.Context, code string) (domain.Quiz, error)
	ListQuizzesByCreator(ctx context.Context, creatorID string) ([]domain.Quiz, error)
}

// AttemptRepository is the append-only attempt log.
//
// AppendAttempt must be idempotent on Attempt.SubmissionID: appending a record
// whose submission id already exists returns the existing id and writes nothing.
// SubscribeAttempts starts with a Resync batch of the current matching set and
// may re-deliver full sets later; the returned func releases the feed.
type AttemptRepository interface {
	AppendAttempt(ctx context.Context, attempt domain.Attempt) (string, error)
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	ListAttempts(ctx context.Context, scope domain.AttemptScope) ([]domain.Attempt, error)
	SubscribeAttempts(ctx context.Context, scope domain.AttemptScope) (<-chan domain.AttemptBatch, func(), error)
}

// UserRepository persists users keyed by principal id.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
	// CreateUser stores user unless one with the same id exists, and returns the stored user.
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	SaveUser(ctx context.Context, user domain.User) error
	// BindUser saves user only while the stored profile is still an unbound
	// student, and returns ErrAlreadyBound otherwise.
	BindUser(ctx context.Context, user domain.User) error
}

// RosterRepository holds the teacher-maintained roster and seat claims.
type RosterRepository interface {
	AddStudent(ctx context.Context, student domain.RegisteredStudent) error
	RemoveStudent(ctx context.Context, studentID string) error
	ListStudents(ctx context.Context) ([]domain.RegisteredStudent, error)
	FindStudent(ctx context.Context, className, seatNumber string) (domain.RegisteredStudent, error)
	// ClaimSeat binds a roster seat to userID. Claiming again with the same user is a no-op.
	ClaimSeat(ctx context.Context, className, seatNumber, userID string) error
	// ReleaseSeat drops a claim held by userID. Claims held by others are left alone.
	ReleaseSeat(ctx context.Context, className, seatNumber, userID string) error
}

// QuestionGenerator is the AI question-generation collaborator.
type QuestionGenerator interface {
	Generate(ctx context.Context, topic string, count int) ([]domain.Question, error)
	Explain(ctx context.Context, question, answer string) (string, error)
}
