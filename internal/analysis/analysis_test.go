package analysis

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/lynki/internal/apperr"
	"github.com/pavelanni/lynki/internal/llm"
	"github.com/pavelanni/lynki/internal/model"
)

type fakeStore struct {
	mu        sync.Mutex
	topics    []model.Topic
	concepts  []model.Concept
	logs      []model.LLMLog
	logErr    error
	insertErr error
}

func (f *fakeStore) FindTopic(_ context.Context, documentID, name string) (*model.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.topics {
		if t.DocumentID == documentID && t.Name == name {
			return &t, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertTopic(_ context.Context, t model.Topic) (model.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = "t" + string(rune('0'+len(f.topics)))
	f.topics = append(f.topics, t)
	return t, nil
}

func (f *fakeStore) InsertConcepts(_ context.Context, cs []model.Concept) ([]model.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.concepts = append(f.concepts, cs...)
	return cs, nil
}

func (f *fakeStore) InsertLLMLog(_ context.Context, l model.LLMLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return f.logErr
	}
	f.logs = append(f.logs, l)
	return nil
}

type step struct {
	text string
	err  error
}

// scriptedCompleter plays steps in order and repeats the last one.
type scriptedCompleter struct {
	steps []step
	calls int
}

func (s *scriptedCompleter) Model() string { return "test-model" }

func (s *scriptedCompleter) Complete(_ context.Context, _ llm.Request) (llm.Completion, error) {
	st := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	if st.err != nil {
		return llm.Completion{}, st.err
	}
	return llm.Completion{
		Text:       st.text,
		StopReason: llm.StopComplete,
		Usage:      llm.Usage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

const goTopic = `{"topics": [{"name": "Go", "concepts": [
  {"name": "Goroutines", "explanation": "Lightweight threads.", "source_text": "go f()"},
  {"name": "Channels", "explanation": "Typed pipes.", "source_text": "ch <- v"},
]}]}`

func longText() string {
	return strings.Repeat("Go is a statically typed language. ", 5)
}

func newTestAnalyzer(s Store, c llm.Completer, cfg Config) (*Analyzer, *[]time.Duration) {
	a := New(s, c, cfg, nil)
	var sleeps []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return a, &sleeps
}

func timeoutErr() error {
	return apperr.Wrap(apperr.Timeout, context.DeadlineExceeded, "completion timed out")
}

func TestRetryBackoffThenSuccess(t *testing.T) {
	s := &fakeStore{}
	c := &scriptedCompleter{steps: []step{{err: timeoutErr()}, {err: timeoutErr()}, {text: goTopic}}}
	a, sleeps := newTestAnalyzer(s, c, DefaultConfig())

	if err := a.AnalyzeDocument(context.Background(), "doc-1", longText()); err != nil {
		t.Fatalf("AnalyzeDocument() error: %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if !reflect.DeepEqual(*sleeps, want) {
		t.Errorf("sleeps = %v, want %v", *sleeps, want)
	}
	if c.calls != 3 {
		t.Errorf("calls = %d, want 3", c.calls)
	}
	if len(s.topics) != 1 || len(s.concepts) != 2 {
		t.Errorf("saved %d topics, %d concepts; want 1, 2", len(s.topics), len(s.concepts))
	}
	for _, cpt := range s.concepts {
		if cpt.ComplexityLevel != model.ComplexityIntermediate {
			t.Errorf("complexity = %q, want intermediate", cpt.ComplexityLevel)
		}
		if cpt.TopicID != s.topics[0].ID {
			t.Errorf("concept topic = %q, want %q", cpt.TopicID, s.topics[0].ID)
		}
	}
	if len(s.logs) != 1 || s.logs[0].Operation != OperationChunk || s.logs[0].InputTokens != 100 {
		t.Errorf("unexpected usage logs: %+v", s.logs)
	}
}

func TestExhaustedChunkIsSkipped(t *testing.T) {
	s := &fakeStore{}
	c := &scriptedCompleter{steps: []step{{text: "no json here"}}}
	a, sleeps := newTestAnalyzer(s, c, DefaultConfig())

	if err := a.AnalyzeDocument(context.Background(), "doc-1", longText()); err != nil {
		t.Fatalf("AnalyzeDocument() error: %v", err)
	}
	if c.calls != 3 {
		t.Errorf("calls = %d, want 3", c.calls)
	}
	if len(*sleeps) != 2 {
		t.Errorf("sleeps = %v, want 2", *sleeps)
	}
	if len(s.concepts) != 0 {
		t.Errorf("concepts = %d, want 0", len(s.concepts))
	}
}

func TestSkippedChunkDoesNotStopLaterChunks(t *testing.T) {
	s := &fakeStore{}
	c := &scriptedCompleter{steps: []step{
		{err: apperr.New(apperr.Connection, "reset")},
		{err: apperr.New(apperr.Connection, "reset")},
		{err: apperr.New(apperr.Connection, "reset")},
		{text: goTopic},
	}}
	p := strings.Repeat("x", 60)
	a, _ := newTestAnalyzer(s, c, Config{ChunkSize: 70})

	if err := a.AnalyzeDocument(context.Background(), "doc-1", p+"\n\n"+p); err != nil {
		t.Fatalf("AnalyzeDocument() error: %v", err)
	}
	if c.calls != 4 {
		t.Errorf("calls = %d, want 4", c.calls)
	}
	if len(s.concepts) != 2 {
		t.Errorf("concepts = %d, want 2 from second chunk", len(s.concepts))
	}
}

func TestUnexpectedErrorAborts(t *testing.T) {
	s := &fakeStore{}
	boom := errors.New("invalid api key")
	c := &scriptedCompleter{steps: []step{{err: boom}}}
	a, sleeps := newTestAnalyzer(s, c, DefaultConfig())

	err := a.AnalyzeDocument(context.Background(), "doc-1", longText())
	if !errors.Is(err, boom) {
		t.Fatalf("AnalyzeDocument() error = %v, want %v", err, boom)
	}
	if c.calls != 1 || len(*sleeps) != 0 {
		t.Errorf("calls = %d, sleeps = %d; want 1, 0", c.calls, len(*sleeps))
	}
}

func TestShortTextIsNoop(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{text: goTopic}}}
	a, _ := newTestAnalyzer(&fakeStore{}, c, DefaultConfig())
	if err := a.AnalyzeDocument(context.Background(), "doc-1", "  too short  "); err != nil {
		t.Fatalf("AnalyzeDocument() error: %v", err)
	}
	if c.calls != 0 {
		t.Errorf("calls = %d, want 0", c.calls)
	}
}

func TestSmartMergeAcrossChunks(t *testing.T) {
	s := &fakeStore{}
	c := &scriptedCompleter{steps: []step{{text: goTopic}}}
	p := strings.Repeat("y", 60)
	a, _ := newTestAnalyzer(s, c, Config{ChunkSize: 70})

	if err := a.AnalyzeDocument(context.Background(), "doc-1", p+"\n\n"+p); err != nil {
		t.Fatalf("AnalyzeDocument() error: %v", err)
	}
	if len(s.topics) != 1 {
		t.Errorf("topics = %d, want 1 (merged by name)", len(s.topics))
	}
	if len(s.concepts) != 4 {
		t.Errorf("concepts = %d, want 4 (no concept dedup)", len(s.concepts))
	}
}

func TestSideEffectFailuresAreNotFatal(t *testing.T) {
	s := &fakeStore{logErr: errors.New("log table locked"), insertErr: errors.New("constraint")}
	c := &scriptedCompleter{steps: []step{{text: goTopic}}}
	a, _ := newTestAnalyzer(s, c, DefaultConfig())

	if err := a.AnalyzeDocument(context.Background(), "doc-1", longText()); err != nil {
		t.Fatalf("AnalyzeDocument() error: %v", err)
	}
	if len(s.topics) != 1 {
		t.Errorf("topics = %d, want 1", len(s.topics))
	}
}

func TestCancelDuringBackoff(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{err: timeoutErr()}}}
	a := New(&fakeStore{}, c, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	a.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	err := a.AnalyzeDocument(ctx, "doc-1", longText())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("AnalyzeDocument() error = %v, want context.Canceled", err)
	}
}
