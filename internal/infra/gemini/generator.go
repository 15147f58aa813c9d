package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"classroom-quiz-service/internal/domain"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

const (
	DefaultQuizModel    = "gemini-1.5-pro"
	DefaultExplainModel = "gemini-1.5-flash"
	DefaultLanguage     = "Traditional Chinese (Taiwan)"
)

// Config selects models and output language.
type Config struct {
	APIKey       string
	QuizModel    string
	ExplainModel string
	Language     string
}

// Generator produces quiz questions and answer explanations with Gemini.
type Generator struct {
	client *genai.Client
	cfg    Config
}

// NewGenerator returns a non-functional generator when no API key is set, so
// manual authoring keeps working.
func NewGenerator(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.QuizModel == "" {
		cfg.QuizModel = DefaultQuizModel
	}
	if cfg.ExplainModel == "" {
		cfg.ExplainModel = DefaultExplainModel
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.APIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY is not set; question generation is disabled")
		return &Generator{cfg: cfg}, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &Generator{client: client, cfg: cfg}, nil
}

// Close releases the underlying client.
func (g *Generator) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Generator) Generate(ctx context.Context, topic string, count int) ([]domain.Question, error) {
	if g.client == nil {
		return nil, domain.ErrGeneratorUnavailable
	}
	model := g.client.GenerativeModel(g.cfg.QuizModel)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = questionsSchema

	prompt := fmt.Sprintf(
		"Write %d multiple-choice questions about %q in %s. Each question has id, text, "+
			"options (exactly 4), correctAnswerIndex (0-3) and a short explanation.",
		count, topic, g.cfg.Language)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	raw, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	questions, err := parseQuestions(raw)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("gemini returned unparsable questions")
		return nil, err
	}
	return questions, nil
}

func (g *Generator) Explain(ctx context.Context, question, answer string) (string, error) {
	if g.client == nil {
		return "", domain.ErrGeneratorUnavailable
	}
	model := g.client.GenerativeModel(g.cfg.ExplainModel)
	prompt := fmt.Sprintf(
		"Explain why %q is the correct answer to the question %q. Answer in %s, "+
			"in a friendly tone a student can follow.",
		answer, question, g.cfg.Language)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("explain answer: %w", err)
	}
	return responseText(resp)
}

var questionsSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"id":                 {Type: genai.TypeString},
			"text":               {Type: genai.TypeString, Description: "question text"},
			"options":            {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"correctAnswerIndex": {Type: genai.TypeInteger, Description: "index of the correct option, 0-3"},
			"explanation":        {Type: genai.TypeString},
		},
		Required: []string{"text", "options", "correctAnswerIndex"},
	},
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no content")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return b.String(), nil
}

type generatedQuestion struct {
	ID                 string   `json:"id"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	CorrectAnswerIndex *float64 `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation"`
}

// parseQuestions decodes the model output. It does not validate questions;
// a missing or fractional answer index is mapped to -1 so validation drops it.
func parseQuestions(raw string) ([]domain.Question, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var generated []generatedQuestion
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &generated); err != nil {
		return nil, fmt.Errorf("decode generated questions: %w", err)
	}
	out := make([]domain.Question, 0, len(generated))
	for _, g := range generated {
		idx := -1
		if g.CorrectAnswerIndex != nil && *g.CorrectAnswerIndex == math.Trunc(*g.CorrectAnswerIndex) {
			idx = int(*g.CorrectAnswerIndex)
		}
		out = append(out, domain.Question{
			Text:               strings.TrimSpace(g.Text),
			Options:            g.Options,
			CorrectAnswerIndex: idx,
			Explanation:        strings.TrimSpace(g.Explanation),
		})
	}
	return out, nil
}
