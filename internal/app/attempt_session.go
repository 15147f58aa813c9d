package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/google/uuid"
)

// DefaultSubmitTimeout bounds a single attempt append.
const DefaultSubmitTimeout = 10 * time.Second

// SessionState is the lifecycle position of an attempt session.
type SessionState int

const (
	StateIntro SessionState = iota
	StateAnswering
	StateSubmitting
	StateSubmitted
)

func (s SessionState) String() string {
	switch s {
	case StateIntro:
		return "intro"
	case StateAnswering:
		return "answering"
	case StateSubmitting:
		return "submitting"
	case StateSubmitted:
		return "submitted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// AttemptAppender is the part of the attempt log a session writes to.
type AttemptAppender interface {
	AppendAttempt(ctx context.Context, attempt domain.Attempt) (string, error)
}

// IntroView describes the quiz before the taker starts.
type IntroView struct {
	QuizID         string `json:"quizId"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	TotalQuestions int    `json:"totalQuestions"`
}

// QuestionView is the question being asked, without its answer.
type QuestionView struct {
	Index   int      `json:"index"`
	Total   int      `json:"total"`
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// ReviewItem explains one question after submission.
type ReviewItem struct {
	Index       int    `json:"index"`
	QuestionID  string `json:"questionId"`
	Text        string `json:"text"`
	ChosenIndex int    `json:"chosenIndex"`
	ChosenText  string `json:"chosenText"`
	Correct     bool   `json:"correct"`
	CorrectText string `json:"correctText,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// SessionOption customizes an AttemptSession.
type SessionOption func(*AttemptSession)

// WithSubmitTimeout overrides DefaultSubmitTimeout.
func WithSubmitTimeout(d time.Duration) SessionOption {
	return func(s *AttemptSession) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) SessionOption {
	return func(s *AttemptSession) {
		if now != nil {
			s.now = now
		}
	}
}

// AttemptSession walks one taker through a quiz: Intro -> Answering ->
// Submitting -> Submitted. It has a single owner and is not safe for
// concurrent use.
type AttemptSession struct {
	submissionID string
	quiz         domain.Quiz
	taker        domain.Taker
	store        AttemptAppender
	timeout      time.Duration
	now          func() time.Time

	state   SessionState
	current int
	answers []int
	pending domain.Attempt
	lastErr error
}

// NewAttemptSession validates the quiz and prepares a session in Intro.
func NewAttemptSession(quiz domain.Quiz, taker domain.Taker, store AttemptAppender, opts ...SessionOption) (*AttemptSession, error) {
	if err := domain.ValidateQuiz(quiz); err != nil {
		return nil, err
	}
	answers := make([]int, len(quiz.Questions))
	for i := range answers {
		answers[i] = domain.NoAnswer
	}
	s := &AttemptSession{
		submissionID: uuid.NewString(),
		quiz:         quiz,
		taker:        taker,
		store:        store,
		timeout:      DefaultSubmitTimeout,
		now:          time.Now,
		state:        StateIntro,
		answers:      answers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *AttemptSession) State() SessionState { return s.state }

// SubmissionID is the idempotency key of the attempt this session will write.
func (s *AttemptSession) SubmissionID() string { return s.submissionID }

// LastError returns the most recent submission failure, nil once submitted.
func (s *AttemptSession) LastError() error { return s.lastErr }

// Intro describes the quiz.
func (s *AttemptSession) Intro() IntroView {
	return IntroView{
		QuizID:         s.quiz.ID,
		Title:          s.quiz.Title,
		Description:    s.quiz.Description,
		TotalQuestions: len(s.quiz.Questions),
	}
}

// Start moves from Intro to Answering.
func (s *AttemptSession) Start() error {
	if s.state != StateIntro {
		return s.stateErr("start")
	}
	if len(s.quiz.Questions) == 0 {
		return domain.Invalid("questions", "min")
	}
	s.state = StateAnswering
	return nil
}

// CurrentQuestion returns the question awaiting an answer.
func (s *AttemptSession) CurrentQuestion() (QuestionView, error) {
	if s.state != StateAnswering {
		return QuestionView{}, s.stateErr("current question")
	}
	q := s.quiz.Questions[s.current]
	return QuestionView{
		Index:   s.current,
		Total:   len(s.quiz.Questions),
		ID:      q.ID,
		Text:    q.Text,
		Options: append([]string(nil), q.Options...),
	}, nil
}

// SubmitAnswer records optionIndex for the current question and advances.
// The last answer finalizes the attempt and writes it; on a write failure the
// session stays in Submitting and Retry resends the same record.
func (s *AttemptSession) SubmitAnswer(ctx context.Context, optionIndex int) error {
	if s.state != StateAnswering {
		return s.stateErr("answer")
	}
	q := s.quiz.Questions[s.current]
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		return fmt.Errorf("%w: %d not in [0,%d)", domain.ErrOptionOutOfRange, optionIndex, len(q.Options))
	}
	s.answers[s.current] = optionIndex
	if s.current < len(s.quiz.Questions)-1 {
		s.current++
		return nil
	}
	s.finalize()
	return s.persist(ctx)
}

// Retry resends a finalized attempt whose write failed. Once the write has been
// acknowledged it returns the stored attempt without writing again.
func (s *AttemptSession) Retry(ctx context.Context) (domain.Attempt, error) {
	switch s.state {
	case StateSubmitted:
		return s.pending, nil
	case StateSubmitting:
		if err := s.persist(ctx); err != nil {
			return domain.Attempt{}, err
		}
		return s.pending, nil
	}
	return domain.Attempt{}, s.stateErr("retry")
}

// Attempt returns the acknowledged attempt.
func (s *AttemptSession) Attempt() (domain.Attempt, bool) {
	if s.state != StateSubmitted {
		return domain.Attempt{}, false
	}
	return s.pending, true
}

// Review lists every question with the taker's choice and, when wrong, the right one.
func (s *AttemptSession) Review() ([]ReviewItem, error) {
	if s.state != StateSubmitted {
		return nil, s.stateErr("review")
	}
	items := make([]ReviewItem, 0, len(s.quiz.Questions))
	for i, q := range s.quiz.Questions {
		chosen := s.pending.Answers[i]
		item := ReviewItem{
			Index:       i,
			QuestionID:  q.ID,
			Text:        q.Text,
			ChosenIndex: chosen,
			Correct:     chosen == q.CorrectAnswerIndex,
			Explanation: q.Explanation,
		}
		if chosen >= 0 && chosen < len(q.Options) {
			item.ChosenText = q.Options[chosen]
		}
		if !item.Correct {
			item.CorrectText = q.Options[q.CorrectAnswerIndex]
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *AttemptSession) finalize() {
	answers := append([]int(nil), s.answers...)
	s.pending = domain.Attempt{
		SubmissionID:   s.submissionID,
		QuizID:         s.quiz.ID,
		QuizTitle:      s.quiz.Title,
		QuizCreatorID:  s.quiz.CreatorID,
		StudentID:      s.taker.StudentID,
		StudentName:    s.taker.Name,
		ClassName:      s.taker.ClassName,
		SeatNumber:     s.taker.SeatNumber,
		Score:          domain.Score(s.quiz, answers),
		TotalQuestions: len(s.quiz.Questions),
		Answers:        answers,
		SubmittedAt:    s.now().UTC(),
	}
	s.state = StateSubmitting
}

func (s *AttemptSession) persist(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	id, err := s.store.AppendAttempt(ctx, s.pending)
	if err != nil {
		var wErr *domain.WriteError
		if !errors.As(err, &wErr) {
			wErr = &domain.WriteError{Op: "append attempt", Err: err}
		}
		s.lastErr = wErr
		return wErr
	}
	s.pending.ID = id
	s.lastErr = nil
	s.state = StateSubmitted
	return nil
}

func (s *AttemptSession) stateErr(op string) error {
	return fmt.Errorf("%w: %s while %s", domain.ErrInvalidState, op, s.state)
}
