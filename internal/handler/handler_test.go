package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/lynki/internal/model"
	"github.com/pavelanni/lynki/internal/pipeline"
	"github.com/pavelanni/lynki/internal/quiz"
	"github.com/pavelanni/lynki/internal/store"
)

// syncQueue runs tasks inline and remembers keys it has seen.
type syncQueue struct {
	keys map[string]bool
	err  error
}

func (q *syncQueue) Submit(key string, task pipeline.Task) error {
	if q.err != nil {
		return q.err
	}
	if q.keys[key] {
		return pipeline.ErrAlreadyQueued
	}
	q.keys[key] = true
	task(context.Background())
	return nil
}

type fakeProcessor struct {
	mu  sync.Mutex
	ids []string
}

func (p *fakeProcessor) ProcessDocument(_ context.Context, id string) {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
}

type fakeQuizzes struct {
	reg     quiz.Regeneration
	err     error
	gotOpts quiz.Options
	calls   int
}

func (f *fakeQuizzes) Prepare(context.Context, string) (quiz.Regeneration, error) {
	return f.reg, f.err
}

func (f *fakeQuizzes) Regenerate(_ context.Context, _ quiz.Regeneration, opts quiz.Options) (string, error) {
	f.calls++
	f.gotOpts = opts
	return "quiz-1", nil
}

type fakeReader struct{}

func (fakeReader) GetQuizView(_ context.Context, id string) (*model.QuizView, error) {
	if id != "quiz-1" {
		return nil, store.ErrNotFound
	}
	return &model.QuizView{Quiz: model.Quiz{ID: "quiz-1", Title: "Quiz: Go"}}, nil
}

func newTestServer(q *syncQueue, p *fakeProcessor, qz *fakeQuizzes) *httptest.Server {
	h := New(q, p, qz, fakeReader{}, quiz.DefaultOptions())
	r := chi.NewRouter()
	h.Routes(r)
	return httptest.NewServer(r)
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestProcessDocument(t *testing.T) {
	q := &syncQueue{keys: map[string]bool{}}
	p := &fakeProcessor{}
	srv := newTestServer(q, p, &fakeQuizzes{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/documents/process/doc-1", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var body processResponse
	decode(t, resp, &body)
	if body.Message != "Document processing started" || body.DocumentID != "doc-1" {
		t.Errorf("body = %+v", body)
	}
	if len(p.ids) != 1 || p.ids[0] != "doc-1" {
		t.Errorf("processed = %v", p.ids)
	}

	resp, err = http.Post(srv.URL+"/api/v1/documents/process/doc-1", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", resp.StatusCode)
	}
}

func TestProcessDocumentQueueFull(t *testing.T) {
	srv := newTestServer(&syncQueue{keys: map[string]bool{}, err: pipeline.ErrQueueFull}, &fakeProcessor{}, &fakeQuizzes{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/documents/process/doc-1", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestGenerateQuiz(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		quizzes    *fakeQuizzes
		wantStatus int
		wantMsg    string
		wantCalls  int
	}{
		{
			name:       "started",
			body:       `{"document_id":"doc-1","questions_per_concept":4}`,
			quizzes:    &fakeQuizzes{reg: quiz.Regeneration{DocumentID: "doc-1", UserID: "u"}},
			wantStatus: http.StatusOK,
			wantMsg:    "Quiz generation started",
			wantCalls:  1,
		},
		{
			name:       "in progress",
			body:       `{"document_id":"doc-1"}`,
			quizzes:    &fakeQuizzes{reg: quiz.Regeneration{DocumentID: "doc-1", InProgress: true, QuizID: "q-old"}},
			wantStatus: http.StatusOK,
			wantMsg:    "Quiz generation already in progress",
		},
		{
			name:       "not found",
			body:       `{"document_id":"nope"}`,
			quizzes:    &fakeQuizzes{err: quiz.ErrDocumentNotFound},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "not completed",
			body:       `{"document_id":"doc-1"}`,
			quizzes:    &fakeQuizzes{err: quiz.ErrNotCompleted},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "too many questions",
			body:       `{"document_id":"doc-1","questions_per_concept":11}`,
			quizzes:    &fakeQuizzes{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad json",
			body:       `{`,
			quizzes:    &fakeQuizzes{},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&syncQueue{keys: map[string]bool{}}, &fakeProcessor{}, tt.quizzes)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/v1/quizzes/generate", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				resp.Body.Close()
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantMsg != "" {
				var body generateResponse
				decode(t, resp, &body)
				if body.Message != tt.wantMsg || body.Status != model.QuizGenerating {
					t.Errorf("body = %+v", body)
				}
			} else {
				resp.Body.Close()
			}
			if tt.quizzes.calls != tt.wantCalls {
				t.Errorf("generation calls = %d, want %d", tt.quizzes.calls, tt.wantCalls)
			}
		})
	}
}

func TestGenerateQuizPassesOptions(t *testing.T) {
	qz := &fakeQuizzes{reg: quiz.Regeneration{DocumentID: "doc-1", UserID: "u"}}
	srv := newTestServer(&syncQueue{keys: map[string]bool{}}, &fakeProcessor{}, qz)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/quizzes/generate", "application/json",
		strings.NewReader(`{"document_id":"doc-1","questions_per_concept":7}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if qz.gotOpts.MinQuestions != 2 || qz.gotOpts.MaxQuestions != 7 {
		t.Errorf("options = %+v, want min 2 max 7", qz.gotOpts)
	}
}

func TestGenerateQuizNotFoundDetail(t *testing.T) {
	srv := newTestServer(&syncQueue{keys: map[string]bool{}}, &fakeProcessor{}, &fakeQuizzes{err: quiz.ErrDocumentNotFound})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/quizzes/generate", "application/json", strings.NewReader(`{"document_id":"nope"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		resp.Body.Close()
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["detail"] != "Document not found" {
		t.Errorf("detail = %q, want %q", body["detail"], "Document not found")
	}
}

// oneQuestion returns a single valid question per concept.
type oneQuestion struct{}

func (oneQuestion) GenerateQuestions(_ context.Context, c model.Concept, _ int) []model.GeneratedQuestion {
	return []model.GeneratedQuestion{{
		ConceptID:  c.ID,
		Text:       "Which keyword starts a goroutine?",
		Difficulty: model.DifficultyEasy,
		Options: []model.GeneratedOption{
			{Text: "go", IsCorrect: true, Explanation: "The go statement starts a goroutine."},
			{Text: "defer", Explanation: "defer schedules a call at return."},
			{Text: "chan", Explanation: "chan declares a channel type."},
			{Text: "select", Explanation: "select waits on channel operations."},
		},
	}}
}

func TestGenerateQuizKeepsQuizUntilQueued(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		queueErr   error
		wantStatus int
		wantOld    bool
	}{
		{"queue full", pipeline.ErrQueueFull, http.StatusServiceUnavailable, true},
		{"queue closed", pipeline.ErrQueueClosed, http.StatusServiceUnavailable, true},
		{"queued", nil, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := store.New(":memory:")
			if err != nil {
				t.Fatalf("store.New: %v", err)
			}
			defer s.Close()

			doc, err := s.CreateDocument(ctx, model.Document{UserID: "u", Title: "Go", FilePath: "a.txt", FileType: "text/plain", Status: model.DocumentCompleted})
			if err != nil {
				t.Fatal(err)
			}
			topic, err := s.InsertTopic(ctx, model.Topic{DocumentID: doc.ID, Name: "Concurrency"})
			if err != nil {
				t.Fatal(err)
			}
			if _, err := s.InsertConcepts(ctx, []model.Concept{{TopicID: topic.ID, Name: "Goroutines"}}); err != nil {
				t.Fatal(err)
			}
			old, err := s.CreateQuiz(ctx, model.Quiz{DocumentID: doc.ID, UserID: "u", Title: "Quiz: Go", GenerationStatus: model.QuizCompleted})
			if err != nil {
				t.Fatal(err)
			}

			orch := quiz.New(s, oneQuestion{}, quiz.DefaultConfig(), nil)
			h := New(&syncQueue{keys: map[string]bool{}, err: tt.queueErr}, &fakeProcessor{}, orch, s, quiz.DefaultOptions())
			r := chi.NewRouter()
			h.Routes(r)
			srv := httptest.NewServer(r)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/v1/quizzes/generate", "application/json",
				strings.NewReader(`{"document_id":"`+doc.ID+`","questions_per_concept":3}`))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			_, err = s.GetQuiz(ctx, old.ID)
			if tt.wantOld && err != nil {
				t.Errorf("completed quiz lost after rejected submit: %v", err)
			}
			if !tt.wantOld && err == nil {
				t.Error("completed quiz should be replaced once generation runs")
			}
			quizzes, err := s.ListDocumentQuizzes(ctx, doc.ID)
			if err != nil || len(quizzes) != 1 {
				t.Errorf("ListDocumentQuizzes = %d quizzes, %v; want 1", len(quizzes), err)
			}
		})
	}
}

func TestGetQuiz(t *testing.T) {
	srv := newTestServer(&syncQueue{keys: map[string]bool{}}, &fakeProcessor{}, &fakeQuizzes{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/quizzes/quiz-1")
	if err != nil {
		t.Fatal(err)
	}
	var view model.QuizView
	decode(t, resp, &view)
	if view.ID != "quiz-1" || view.Title != "Quiz: Go" {
		t.Errorf("view = %+v", view)
	}

	resp, err = http.Get(srv.URL + "/api/v1/quizzes/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&syncQueue{keys: map[string]bool{}}, &fakeProcessor{}, &fakeQuizzes{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
