// Package question generates validated multiple-choice questions for a concept.
package question

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/lynki/internal/apperr"
	"github.com/pavelanni/lynki/internal/llm"
	"github.com/pavelanni/lynki/internal/llm/prompts"
	"github.com/pavelanni/lynki/internal/model"
)

// Config controls question generation.
type Config struct {
	MaxTokens   int
	Temperature float64
	// MaxAttempts is the number of tries per question slot.
	MaxAttempts int
	Timeout     time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxTokens:   2000,
		Temperature: 0.3,
		MaxAttempts: 3,
		Timeout:     60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Generator produces questions for concepts using a language model.
type Generator struct {
	llm    llm.Completer
	cfg    Config
	logger *slog.Logger
}

// New creates a Generator. A nil logger uses slog.Default().
func New(c llm.Completer, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: c, cfg: cfg.withDefaults(), logger: logger}
}

// Distribution returns the difficulty of each of n questions.
func Distribution(n int) []model.Difficulty {
	const (
		e = model.DifficultyEasy
		m = model.DifficultyMedium
		h = model.DifficultyHard
	)
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []model.Difficulty{m}
	case n == 2:
		return []model.Difficulty{e, h}
	case n == 3:
		return []model.Difficulty{e, m, h}
	case n == 4:
		return []model.Difficulty{e, m, m, h}
	case n == 5:
		return []model.Difficulty{e, e, m, h, h}
	}

	easy, hard := n/3, n/3
	out := make([]model.Difficulty, 0, n)
	for range easy {
		out = append(out, e)
	}
	for range n - easy - hard {
		out = append(out, m)
	}
	for range hard {
		out = append(out, h)
	}
	return out
}

// QuestionsPerConcept sizes a concept's question set by how much material it has.
func QuestionsPerConcept(explanation, sourceText string, minQ, maxQ int) int {
	l := utf8.RuneCountInString(sourceText) + utf8.RuneCountInString(explanation)
	switch {
	case l < 200:
		return minQ
	case l < 500:
		return min(3, maxQ)
	case l < 1000:
		return min(4, maxQ)
	default:
		return maxQ
	}
}

// GenerateQuestions produces up to count questions for concept. Slots that
// fail every attempt are dropped, so the result may be shorter than count.
func (g *Generator) GenerateQuestions(ctx context.Context, concept model.Concept, count int) []model.GeneratedQuestion {
	difficulties := Distribution(count)
	log := g.logger.With("concept", concept.Name, "concept_id", concept.ID)
	log.Info("generating questions", "count", count)

	var out []model.GeneratedQuestion
	for i, d := range difficulties {
		if ctx.Err() != nil {
			log.Warn("question generation interrupted", "error", ctx.Err())
			break
		}
		q, ok := g.generateOne(ctx, log, concept, d, i+1, count)
		if ok {
			out = append(out, q)
		}
	}

	log.Info("questions generated", "generated", len(out), "requested", count)
	return out
}

func (g *Generator) generateOne(ctx context.Context, log *slog.Logger, concept model.Concept, d model.Difficulty, number, total int) (model.GeneratedQuestion, bool) {
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		q, err := g.attempt(ctx, concept, d, number, total)
		if err == nil {
			return q, true
		}
		if apperr.Is(err, apperr.QualityRejected) {
			log.Warn("question rejected", "number", number, "attempt", attempt, "reason", apperr.Message(err))
		} else {
			log.Error("question generation failed", "number", number, "attempt", attempt, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return model.GeneratedQuestion{}, false
}

type generatedJSON struct {
	Question string `json:"question"`
	Options  []struct {
		Text        string `json:"text"`
		IsCorrect   bool   `json:"is_correct"`
		Explanation string `json:"explanation"`
	} `json:"options"`
	Hint string `json:"hint"`
}

func (g *Generator) attempt(ctx context.Context, concept model.Concept, d model.Difficulty, number, total int) (model.GeneratedQuestion, error) {
	system, err := prompts.QuestionSystem(d)
	if err != nil {
		return model.GeneratedQuestion{}, fmt.Errorf("build system prompt: %w", err)
	}
	user, err := prompts.QuestionUser(prompts.QuestionData{
		Number:      number,
		Total:       total,
		Difficulty:  d,
		ConceptName: concept.Name,
		Explanation: concept.Explanation,
		SourceText:  concept.SourceText,
	})
	if err != nil {
		return model.GeneratedQuestion{}, fmt.Errorf("build user prompt: %w", err)
	}

	resp, err := llm.CompleteWithTimeout(ctx, g.llm, llm.Request{
		System:      system,
		User:        user,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}, g.cfg.Timeout)
	if err != nil {
		return model.GeneratedQuestion{}, err
	}

	var parsed generatedJSON
	if err := llm.DecodeJSON(resp.Text, &parsed); err != nil {
		return model.GeneratedQuestion{}, err
	}

	q := model.GeneratedQuestion{
		ConceptID:  concept.ID,
		Text:       strings.TrimSpace(parsed.Question),
		Difficulty: d,
		Hint:       strings.TrimSpace(parsed.Hint),
	}
	for _, o := range parsed.Options {
		q.Options = append(q.Options, model.GeneratedOption{
			Text:        strings.TrimSpace(o.Text),
			IsCorrect:   o.IsCorrect,
			Explanation: strings.TrimSpace(o.Explanation),
		})
	}
	if err := Validate(q); err != nil {
		return model.GeneratedQuestion{}, err
	}
	return q, nil
}
