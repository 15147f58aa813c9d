package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/memory"
)

type stubGenerator struct {
	questions []domain.Question
	err       error
	gotCount  int
	explained string
}

func (g *stubGenerator) Generate(_ context.Context, _ string, count int) ([]domain.Question, error) {
	g.gotCount = count
	return g.questions, g.err
}

func (g *stubGenerator) Explain(_ context.Context, question, answer string) (string, error) {
	g.explained = question + "=" + answer
	return " Because halves add up. ", g.err
}

func TestDraftEditing(t *testing.T) {
	var d app.Draft
	q := d.AddQuestion()
	if len(q.Options) != 4 || q.ID == "" {
		t.Fatalf("expected empty 4-option question, got %+v", q)
	}
	q.Text = "Edited"
	if err := d.UpdateQuestion(q); err != nil || d.Questions[0].Text != "Edited" {
		t.Fatalf("update: %v %+v", err, d.Questions)
	}
	if err := d.RemoveQuestion("missing"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	if err := d.RemoveQuestion(q.ID); err != nil || len(d.Questions) != 0 {
		t.Fatalf("remove: %v %+v", err, d.Questions)
	}
}

func TestGenerateDropsInvalidQuestions(t *testing.T) {
	gen := &stubGenerator{questions: []domain.Question{
		{Text: "Good", Options: []string{"a", "b", "c", "d"}, CorrectAnswerIndex: 2},
		{Text: "Bad index", Options: []string{"a", "b", "c", "d"}, CorrectAnswerIndex: 4},
		{Text: "", Options: []string{"a", "b"}, CorrectAnswerIndex: 0},
	}}
	service := app.NewAuthoringService(memory.NewQuizStore(), gen)

	out, err := service.Generate(context.Background(), app.Draft{}, " Fractions ", 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.gotCount != app.DefaultQuestionCount {
		t.Fatalf("expected default count, got %d", gen.gotCount)
	}
	if len(out.Questions) != 1 || out.Questions[0].ID == "" {
		t.Fatalf("expected one usable question with id, got %+v", out.Questions)
	}
	if out.Title != "Fractions" {
		t.Fatalf("expected title from topic, got %q", out.Title)
	}

	_, _ = service.Generate(context.Background(), app.Draft{}, "x", 500)
	if gen.gotCount != app.MaxQuestionCount {
		t.Fatalf("expected clamped count, got %d", gen.gotCount)
	}
}

func TestGenerateFailureLeavesDraft(t *testing.T) {
	draft := app.Draft{Title: "Mine"}
	draft.AddQuestion()

	cases := map[string]app.QuestionGenerator{
		"no usable": &stubGenerator{questions: []domain.Question{{Text: "x", Options: []string{"a"}}}},
		"failure":   &stubGenerator{err: errors.New("quota exceeded")},
		"missing":   nil,
	}
	for name, gen := range cases {
		service := app.NewAuthoringService(memory.NewQuizStore(), gen)
		out, err := service.Generate(context.Background(), draft, "Fractions", 3)
		var gErr *domain.GenerationError
		if !errors.As(err, &gErr) {
			t.Fatalf("%s: expected generation error, got %v", name, err)
		}
		if len(out.Questions) != 1 || out.Title != "Mine" {
			t.Fatalf("%s: draft changed: %+v", name, out)
		}
	}

	service := app.NewAuthoringService(memory.NewQuizStore(), &stubGenerator{})
	var vErr *domain.ValidationError
	if _, err := service.Generate(context.Background(), draft, "   ", 3); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for blank topic, got %v", err)
	}
}

func TestExplainFillsExplanation(t *testing.T) {
	gen := &stubGenerator{}
	service := app.NewAuthoringService(memory.NewQuizStore(), gen)
	draft := app.Draft{Questions: sampleQuiz().Questions}

	out, err := service.Explain(context.Background(), draft, "q1")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if out.Questions[0].Explanation != "Because halves add up." || gen.explained != "1/2 + 1/2?=B" {
		t.Fatalf("unexpected explanation %q via %q", out.Questions[0].Explanation, gen.explained)
	}
	if draft.Questions[0].Explanation != "" {
		t.Fatalf("input draft must not change")
	}
}

func TestPublishAndManage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewQuizStore(sampleQuiz())
	codes := []string{"ABC123", "NEW001"}
	service := app.NewAuthoringService(store, nil,
		app.WithCodeSource(func() string {
			c := codes[0]
			codes = codes[1:]
			return c
		}),
		app.WithAuthoringClock(func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) }),
	)
	draft := app.Draft{Title: "Decimals", Questions: sampleQuiz().Questions}

	if _, err := service.Publish(ctx, boundStudent(), draft); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	var vErr *domain.ValidationError
	if _, err := service.Publish(ctx, teacher("teacher-1"), app.Draft{Title: "Empty"}); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	quiz, err := service.Publish(ctx, teacher("teacher-1"), draft)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if quiz.Code != "NEW001" || !quiz.IsActive || quiz.CreatorID != "teacher-1" {
		t.Fatalf("unexpected quiz %+v", quiz)
	}

	list, err := service.ListQuizzes(ctx, teacher("teacher-1"))
	if err != nil || len(list) != 2 || list[0].ID != quiz.ID {
		t.Fatalf("expected newest first, got %+v %v", list, err)
	}

	if _, err := service.SetActive(ctx, teacher("teacher-2"), quiz.ID, false); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for other teacher, got %v", err)
	}
	closed, err := service.SetActive(ctx, teacher("teacher-1"), quiz.ID, false)
	if err != nil || closed.IsActive {
		t.Fatalf("set active: %+v %v", closed, err)
	}

	edit := draft
	edit.Title = "Decimals v2"
	updated, err := service.UpdateQuiz(ctx, teacher("teacher-1"), quiz.ID, edit)
	if err != nil || updated.Title != "Decimals v2" || updated.Code != "NEW001" || updated.IsActive {
		t.Fatalf("update: %+v %v", updated, err)
	}

	pub, err := service.QuizByCode(ctx, "new001")
	if err != nil || pub.Title != "Decimals v2" || len(pub.Questions) != 3 {
		t.Fatalf("quiz by code: %+v %v", pub, err)
	}

	if err := service.DeleteQuiz(ctx, teacher("teacher-1"), quiz.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := service.QuizByCode(ctx, "NEW001"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestPublishAssignsMissingAndDuplicateQuestionIDs(t *testing.T) {
	ctx := context.Background()
	service := app.NewAuthoringService(memory.NewQuizStore(), nil)

	questions := sampleQuiz().Questions
	questions[0].ID = ""
	questions[2].ID = questions[1].ID
	keep := questions[1].ID

	quiz, err := service.Publish(ctx, teacher("teacher-1"), app.Draft{Title: "Fractions", Questions: questions})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	assertDistinctIDs(t, quiz.Questions)
	if quiz.Questions[1].ID != keep {
		t.Fatalf("expected the first use of %s to keep it, got %s", keep, quiz.Questions[1].ID)
	}
	if questions[0].ID != "" {
		t.Fatalf("caller's draft was modified")
	}

	edit := app.Draft{Title: "Fractions", Questions: sampleQuiz().Questions}
	edit.Questions[1].ID = ""
	edit.Questions[2].ID = edit.Questions[0].ID
	updated, err := service.UpdateQuiz(ctx, teacher("teacher-1"), quiz.ID, edit)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	assertDistinctIDs(t, updated.Questions)
}

func assertDistinctIDs(t *testing.T, questions []domain.Question) {
	t.Helper()
	seen := make(map[string]bool)
	for i, q := range questions {
		if q.ID == "" || seen[q.ID] {
			t.Fatalf("question %d has empty or repeated id %q", i, q.ID)
		}
		seen[q.ID] = true
	}
}
