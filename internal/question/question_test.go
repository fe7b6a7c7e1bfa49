package question

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/pavelanni/lynki/internal/apperr"
	"github.com/pavelanni/lynki/internal/llm"
	"github.com/pavelanni/lynki/internal/model"
)

func validQuestion() model.GeneratedQuestion {
	return model.GeneratedQuestion{
		Text:       "What does a goroutine do?",
		Difficulty: model.DifficultyEasy,
		Hint:       "Think about concurrency.",
		Options: []model.GeneratedOption{
			{Text: "Runs a function concurrently", IsCorrect: true, Explanation: "Goroutines are concurrent functions."},
			{Text: "Allocates memory", Explanation: "That is the job of the allocator."},
			{Text: "Compiles code", Explanation: "The compiler does this, not goroutines."},
			{Text: "Formats source", Explanation: "gofmt formats source code."},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *model.GeneratedQuestion)
		ok     bool
	}{
		{"valid", func(q *model.GeneratedQuestion) {}, true},
		{"three options", func(q *model.GeneratedQuestion) { q.Options = q.Options[:3] }, false},
		{"two correct", func(q *model.GeneratedQuestion) { q.Options[1].IsCorrect = true }, false},
		{"no correct", func(q *model.GeneratedQuestion) { q.Options[0].IsCorrect = false }, false},
		{"text length 10", func(q *model.GeneratedQuestion) { q.Text = strings.Repeat("a", 10) }, false},
		{"text length 21", func(q *model.GeneratedQuestion) { q.Text = strings.Repeat("a", 21) }, true},
		{"text length 501", func(q *model.GeneratedQuestion) { q.Text = strings.Repeat("a", 501) }, false},
		{"short option", func(q *model.GeneratedQuestion) { q.Options[2].Text = "ab" }, false},
		{"short explanation", func(q *model.GeneratedQuestion) { q.Options[3].Explanation = "too short" }, false},
		{"duplicate options", func(q *model.GeneratedQuestion) { q.Options[1].Text = "RUNS A FUNCTION CONCURRENTLY" }, false},
		{"short hint", func(q *model.GeneratedQuestion) { q.Hint = "think" }, false},
		{"no hint", func(q *model.GeneratedQuestion) { q.Hint = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validQuestion()
			tt.mutate(&q)
			err := Validate(q)
			if tt.ok && err != nil {
				t.Errorf("Validate() error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("Validate() should reject")
				}
				if !apperr.Is(err, apperr.QualityRejected) {
					t.Errorf("kind = %v, want QualityRejected", apperr.KindOf(err))
				}
			}
		})
	}
}

func TestDistribution(t *testing.T) {
	e, m, h := model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard
	tests := []struct {
		n    int
		want []model.Difficulty
	}{
		{1, []model.Difficulty{m}},
		{2, []model.Difficulty{e, h}},
		{3, []model.Difficulty{e, m, h}},
		{4, []model.Difficulty{e, m, m, h}},
		{5, []model.Difficulty{e, e, m, h, h}},
		{6, []model.Difficulty{e, e, m, m, h, h}},
		{7, []model.Difficulty{e, e, m, m, m, h, h}},
	}
	for _, tt := range tests {
		got := Distribution(tt.n)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Distribution(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}

	counts := map[model.Difficulty]int{}
	for _, d := range Distribution(6) {
		counts[d]++
	}
	if counts[e] != 2 || counts[m] != 2 || counts[h] != 2 {
		t.Errorf("Distribution(6) counts = %v, want 2 of each", counts)
	}
}

func TestQuestionsPerConcept(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		min, max int
		want     int
	}{
		{"tiny", 50, 2, 5, 2},
		{"short", 300, 2, 5, 3},
		{"short capped", 300, 2, 2, 2},
		{"medium", 700, 2, 5, 4},
		{"medium capped", 700, 2, 3, 3},
		{"long", 1500, 2, 5, 5},
		{"long custom max", 1500, 2, 8, 8},
		{"short max one", 300, 2, 1, 1},
		{"long max one", 1500, 2, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := strings.Repeat("s", tt.length/2)
			explanation := strings.Repeat("e", tt.length-tt.length/2)
			got := QuestionsPerConcept(explanation, source, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("QuestionsPerConcept(len=%d) = %d, want %d", tt.length, got, tt.want)
			}
		})
	}
}

// scriptedCompleter returns responses in order, repeating the last one.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedCompleter) Model() string { return "scripted" }

func (s *scriptedCompleter) Complete(_ context.Context, _ llm.Request) (llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.responses)-1)
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.Completion{}, s.errs[i]
	}
	return llm.Completion{Text: s.responses[i], StopReason: llm.StopComplete}, nil
}

const goodResponse = "```json\n" + `{
  "question": "Which statement best describes a goroutine?",
  "options": [
    {"text": "A lightweight concurrent function", "is_correct": true, "explanation": "Goroutines are managed by the Go runtime."},
    {"text": "An operating system process", "is_correct": false, "explanation": "Processes are much heavier than goroutines."},
    {"text": "A compiler directive", "is_correct": false, "explanation": "Directives are comments read by the compiler."},
    {"text": "A garbage collector phase", "is_correct": false, "explanation": "GC phases are unrelated to goroutines.",},
  ],
  "hint": "Consider how Go handles concurrency."
}` + "\n```"

const badResponse = `{"question": "Too short?", "options": []}`

func TestGenerateQuestions(t *testing.T) {
	concept := model.Concept{ID: "c1", Name: "Goroutines", Explanation: "Concurrent functions.", SourceText: "Go has goroutines."}

	t.Run("all succeed", func(t *testing.T) {
		c := &scriptedCompleter{responses: []string{goodResponse}}
		g := New(c, DefaultConfig(), nil)
		got := g.GenerateQuestions(context.Background(), concept, 3)
		if len(got) != 3 {
			t.Fatalf("got %d questions, want 3", len(got))
		}
		want := Distribution(3)
		for i, q := range got {
			if q.Difficulty != want[i] {
				t.Errorf("question %d difficulty = %s, want %s", i, q.Difficulty, want[i])
			}
			if q.ConceptID != "c1" {
				t.Errorf("question %d concept = %q, want c1", i, q.ConceptID)
			}
			if len(q.Options) != 4 {
				t.Errorf("question %d has %d options", i, len(q.Options))
			}
		}
		if c.calls != 3 {
			t.Errorf("calls = %d, want 3", c.calls)
		}
	})

	t.Run("retry after rejection", func(t *testing.T) {
		c := &scriptedCompleter{responses: []string{badResponse, "not json", goodResponse}}
		g := New(c, DefaultConfig(), nil)
		got := g.GenerateQuestions(context.Background(), concept, 1)
		if len(got) != 1 {
			t.Fatalf("got %d questions, want 1", len(got))
		}
		if c.calls != 3 {
			t.Errorf("calls = %d, want 3", c.calls)
		}
	})

	t.Run("exhausted slot is dropped", func(t *testing.T) {
		c := &scriptedCompleter{
			responses: []string{badResponse, badResponse, badResponse, goodResponse},
		}
		g := New(c, DefaultConfig(), nil)
		got := g.GenerateQuestions(context.Background(), concept, 2)
		if len(got) != 1 {
			t.Fatalf("got %d questions, want 1", len(got))
		}
		if got[0].Difficulty != model.DifficultyHard {
			t.Errorf("surviving difficulty = %s, want hard", got[0].Difficulty)
		}
		if c.calls != 4 {
			t.Errorf("calls = %d, want 4", c.calls)
		}
	})

	t.Run("transport errors never fail the caller", func(t *testing.T) {
		boom := errors.New("boom")
		c := &scriptedCompleter{responses: []string{""}, errs: []error{boom}}
		g := New(c, DefaultConfig(), nil)
		got := g.GenerateQuestions(context.Background(), concept, 2)
		if len(got) != 0 {
			t.Errorf("got %d questions, want 0", len(got))
		}
		if c.calls != 6 {
			t.Errorf("calls = %d, want 6", c.calls)
		}
	})
}
