package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultQuestionCount   = 5
	MaxQuestionCount       = 20
	DefaultGenerateTimeout = 60 * time.Second

	codeLength      = 6
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts = 10
)

// Draft is a quiz under construction. It is a plain value; operations that
// may fail return a new Draft and leave the receiver's content untouched.
type Draft struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Questions   []domain.Question `json:"questions"`
}

// AddQuestion appends an empty four-option question with a fresh id.
func (d *Draft) AddQuestion() domain.Question {
	q := domain.Question{ID: uuid.NewString(), Options: make([]string, 4)}
	d.Questions = append(d.Questions, q)
	return q
}

// UpdateQuestion replaces the question with the same id.
func (d *Draft) UpdateQuestion(q domain.Question) error {
	i, ok := d.indexOf(q.ID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, q.ID)
	}
	d.Questions[i] = q
	return nil
}

// RemoveQuestion drops the question with the given id.
func (d *Draft) RemoveQuestion(id string) error {
	i, ok := d.indexOf(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, id)
	}
	d.Questions = append(d.Questions[:i:i], d.Questions[i+1:]...)
	return nil
}

func (d Draft) indexOf(id string) (int, bool) {
	for i, q := range d.Questions {
		if q.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (d Draft) clone() Draft {
	out := d
	out.Questions = make([]domain.Question, len(d.Questions))
	for i, q := range d.Questions {
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	return out
}

// withQuestionIDs is clone plus a fresh id for every question whose id is
// empty or already used earlier in the draft.
func (d Draft) withQuestionIDs() Draft {
	out := d.clone()
	seen := make(map[string]bool, len(out.Questions))
	for i := range out.Questions {
		if id := out.Questions[i].ID; id == "" || seen[id] {
			out.Questions[i].ID = uuid.NewString()
		}
		seen[out.Questions[i].ID] = true
	}
	return out
}

// PublicQuestion is a question as a student sees it before answering.
type PublicQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// PublicQuiz is the answer-free view of a quiz returned for a share code.
type PublicQuiz struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Code        string           `json:"code"`
	IsActive    bool             `json:"isActive"`
	Questions   []PublicQuestion `json:"questions"`
}

// AuthoringOption customizes an AuthoringService.
type AuthoringOption func(*AuthoringService)

// WithGenerateTimeout bounds each generator call.
func WithGenerateTimeout(d time.Duration) AuthoringOption {
	return func(s *AuthoringService) {
		if d > 0 {
			s.generateTimeout = d
		}
	}
}

// WithCodeSource replaces the random share code generator.
func WithCodeSource(next func() string) AuthoringOption {
	return func(s *AuthoringService) {
		if next != nil {
			s.newCode = next
		}
	}
}

// WithAuthoringClock sets the clock used for CreatedAt.
func WithAuthoringClock(now func() time.Time) AuthoringOption {
	return func(s *AuthoringService) {
		if now != nil {
			s.now = now
		}
	}
}

// AuthoringService drafts, generates and publishes quizzes. The generator may be nil.
type AuthoringService struct {
	quizzes         QuizRepository
	generator       QuestionGenerator
	generateTimeout time.Duration
	newCode         func() string
	now             func() time.Time
}

func NewAuthoringService(quizzes QuizRepository, generator QuestionGenerator, opts ...AuthoringOption) *AuthoringService {
	s := &AuthoringService{
		quizzes:         quizzes,
		generator:       generator,
		generateTimeout: DefaultGenerateTimeout,
		newCode:         randomCode,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate asks the generator for count questions about topic and appends the
// valid ones to a copy of draft. Invalid questions are dropped; if none are
// usable a GenerationError is returned and draft is not changed.
func (s *AuthoringService) Generate(ctx context.Context, draft Draft, topic string, count int) (Draft, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return draft, domain.Invalid("topic", "notblank")
	}
	count = clampCount(count)
	if s.generator == nil {
		return draft, &domain.GenerationError{Topic: topic, Reason: "generator not configured", Err: domain.ErrGeneratorUnavailable}
	}

	ctx, cancel := context.WithTimeout(ctx, s.generateTimeout)
	defer cancel()

	generated, err := s.generator.Generate(ctx, topic, count)
	if err != nil {
		var gErr *domain.GenerationError
		if errors.As(err, &gErr) {
			return draft, gErr
		}
		return draft, &domain.GenerationError{Topic: topic, Reason: "generator failed", Err: err}
	}

	usable := make([]domain.Question, 0, len(generated))
	for i, q := range generated {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if err := domain.ValidateQuestion(q); err != nil {
			log.Debug().Err(err).Int("index", i).Str("topic", topic).Msg("dropping generated question")
			continue
		}
		usable = append(usable, q)
		if len(usable) == count {
			break
		}
	}
	if len(usable) == 0 {
		return draft, &domain.GenerationError{Topic: topic, Reason: "no valid questions returned"}
	}

	out := draft.clone()
	out.Questions = append(out.Questions, usable...)
	if strings.TrimSpace(out.Title) == "" {
		out.Title = topic
	}
	log.Info().Str("topic", topic).Int("requested", count).Int("accepted", len(usable)).Msg("questions generated")
	return out, nil
}

// Explain fills in a missing explanation for one draft question.
func (s *AuthoringService) Explain(ctx context.Context, draft Draft, questionID string) (Draft, error) {
	i, ok := draft.indexOf(questionID)
	if !ok {
		return draft, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}
	q := draft.Questions[i]
	if strings.TrimSpace(q.Explanation) != "" {
		return draft, nil
	}
	if err := domain.ValidateQuestion(q); err != nil {
		return draft, err
	}
	if s.generator == nil {
		return draft, &domain.GenerationError{Topic: q.Text, Reason: "generator not configured", Err: domain.ErrGeneratorUnavailable}
	}

	ctx, cancel := context.WithTimeout(ctx, s.generateTimeout)
	defer cancel()

	text, err := s.generator.Explain(ctx, q.Text, q.Options[q.CorrectAnswerIndex])
	if err != nil {
		return draft, &domain.GenerationError{Topic: q.Text, Reason: "explanation failed", Err: err}
	}
	out := draft.clone()
	out.Questions[i].Explanation = strings.TrimSpace(text)
	return out, nil
}

// Publish validates the draft and stores it as an active quiz with a fresh share code.
func (s *AuthoringService) Publish(ctx context.Context, author domain.User, draft Draft) (domain.Quiz, error) {
	if !author.IsTeacher() {
		return domain.Quiz{}, domain.ErrForbidden
	}
	d := draft.withQuestionIDs()
	quiz := domain.Quiz{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(d.Title),
		Description: strings.TrimSpace(d.Description),
		Questions:   d.Questions,
		CreatorID:   author.ID,
		CreatedAt:   s.now().UTC(),
		IsActive:    true,
	}
	if err := domain.ValidateQuiz(quiz); err != nil {
		return domain.Quiz{}, err
	}

	for i := 0; i < maxCodeAttempts; i++ {
		quiz.Code = s.newCode()
		err := s.quizzes.CreateQuiz(ctx, quiz)
		if errors.Is(err, domain.ErrCodeTaken) {
			log.Debug().Str("code", quiz.Code).Msg("share code collision")
			continue
		}
		if err != nil {
			return domain.Quiz{}, err
		}
		log.Info().Str("quizId", quiz.ID).Str("code", quiz.Code).Str("creatorId", author.ID).Msg("quiz published")
		return quiz, nil
	}
	return domain.Quiz{}, fmt.Errorf("publish quiz: %w after %d attempts", domain.ErrCodeTaken, maxCodeAttempts)
}

// UpdateQuiz replaces title, description and questions of an owned quiz.
// Identity, code, activity and creation time are kept.
func (s *AuthoringService) UpdateQuiz(ctx context.Context, author domain.User, quizID string, draft Draft) (domain.Quiz, error) {
	quiz, err := s.owned(ctx, author, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	d := draft.withQuestionIDs()
	quiz.Title = strings.TrimSpace(d.Title)
	quiz.Description = strings.TrimSpace(d.Description)
	quiz.Questions = d.Questions
	if err := domain.ValidateQuiz(quiz); err != nil {
		return domain.Quiz{}, err
	}
	if err := s.quizzes.UpdateQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

// SetActive opens or closes an owned quiz for new attempts.
func (s *AuthoringService) SetActive(ctx context.Context, author domain.User, quizID string, active bool) (domain.Quiz, error) {
	quiz, err := s.owned(ctx, author, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if quiz.IsActive == active {
		return quiz, nil
	}
	quiz.IsActive = active
	if err := s.quizzes.UpdateQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

// DeleteQuiz removes an owned quiz. Stored attempts keep their snapshots.
func (s *AuthoringService) DeleteQuiz(ctx context.Context, author domain.User, quizID string) error {
	if _, err := s.owned(ctx, author, quizID); err != nil {
		return err
	}
	return s.quizzes.DeleteQuiz(ctx, quizID)
}

// ListQuizzes returns the author's quizzes, newest first.
func (s *AuthoringService) ListQuizzes(ctx context.Context, author domain.User) ([]domain.Quiz, error) {
	if !author.IsTeacher() {
		return nil, domain.ErrForbidden
	}
	quizzes, err := s.quizzes.ListQuizzesByCreator(ctx, author.ID)
	if err != nil {
		return nil, err
	}
	sort.Slice(quizzes, func(i, j int) bool {
		if !quizzes[i].CreatedAt.Equal(quizzes[j].CreatedAt) {
			return quizzes[i].CreatedAt.After(quizzes[j].CreatedAt)
		}
		return quizzes[i].ID > quizzes[j].ID
	})
	return quizzes, nil
}

// QuizByCode looks up a quiz by share code and strips the answers.
func (s *AuthoringService) QuizByCode(ctx context.Context, code string) (PublicQuiz, error) {
	quiz, err := s.quizzes.GetQuizByCode(ctx, NormalizeCode(code))
	if err != nil {
		return PublicQuiz{}, err
	}
	pub := PublicQuiz{
		ID:          quiz.ID,
		Title:       quiz.Title,
		Description: quiz.Description,
		Code:        quiz.Code,
		IsActive:    quiz.IsActive,
		Questions:   make([]PublicQuestion, 0, len(quiz.Questions)),
	}
	for _, q := range quiz.Questions {
		pub.Questions = append(pub.Questions, PublicQuestion{
			ID:      q.ID,
			Text:    q.Text,
			Options: append([]string(nil), q.Options...),
		})
	}
	return pub, nil
}

func (s *AuthoringService) owned(ctx context.Context, author domain.User, quizID string) (domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if !author.IsTeacher() || quiz.CreatorID != author.ID {
		return domain.Quiz{}, domain.ErrForbidden
	}
	return quiz, nil
}

func clampCount(n int) int {
	switch {
	case n <= 0:
		return DefaultQuestionCount
	case n > MaxQuestionCount:
		return MaxQuestionCount
	}
	return n
}

func randomCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return b.String()
}
