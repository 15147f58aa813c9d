package gemini

import (
	"context"
	"errors"
	"testing"

	"classroom-quiz-service/internal/domain"
)

func TestParseQuestions(t *testing.T) {
	raw := "```json\n[" +
		`{"id":"x","text":" Half of 8? ","options":["2","4","6","8"],"correctAnswerIndex":1,"explanation":"8/2"},` +
		`{"text":"Broken","options":["a","b"],"correctAnswerIndex":1.5},` +
		`{"text":"No index","options":["a","b"]}` +
		"]\n```"
	questions, err := parseQuestions(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(questions))
	}
	if questions[0].Text != "Half of 8?" || questions[0].CorrectAnswerIndex != 1 || questions[0].ID != "" {
		t.Fatalf("unexpected first question %+v", questions[0])
	}
	if questions[1].CorrectAnswerIndex != -1 || questions[2].CorrectAnswerIndex != -1 {
		t.Fatalf("expected invalid indexes mapped to -1, got %+v", questions[1:])
	}
	if err := domain.ValidateQuestion(questions[1]); err == nil {
		t.Fatalf("expected fractional index to fail validation")
	}
}

func TestParseQuestionsRejectsGarbage(t *testing.T) {
	if _, err := parseQuestions("I cannot help with that."); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestGeneratorWithoutKeyIsUnavailable(t *testing.T) {
	g, err := NewGenerator(context.Background(), Config{})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	defer g.Close()

	if _, err := g.Generate(context.Background(), "fractions", 3); !errors.Is(err, domain.ErrGeneratorUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := g.Explain(context.Background(), "q", "a"); !errors.Is(err, domain.ErrGeneratorUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
