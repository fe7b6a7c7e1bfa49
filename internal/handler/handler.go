package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/lynki/internal/apperr"
	"github.com/pavelanni/lynki/internal/i18n"
	"github.com/pavelanni/lynki/internal/model"
	"github.com/pavelanni/lynki/internal/pipeline"
	"github.com/pavelanni/lynki/internal/quiz"
	"github.com/pavelanni/lynki/internal/store"
)

// Queue accepts background tasks.
type Queue interface {
	Submit(key string, task pipeline.Task) error
}

// Processor runs document processing.
type Processor interface {
	ProcessDocument(ctx context.Context, documentID string)
}

// Quizzes prepares and runs quiz generation. Prepare must not modify rows;
// Regenerate runs only once the task is queued.
type Quizzes interface {
	Prepare(ctx context.Context, documentID string) (quiz.Regeneration, error)
	Regenerate(ctx context.Context, reg quiz.Regeneration, opts quiz.Options) (string, error)
}

// QuizReader loads quizzes for display.
type QuizReader interface {
	GetQuizView(ctx context.Context, quizID string) (*model.QuizView, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	queue     Queue
	processor Processor
	quizzes   Quizzes
	reader    QuizReader
	minQ      int
	defaultQ  int
}

// New creates a new Handler. opts sets the minimum and the default maximum
// questions per concept for triggered quiz generation.
func New(q Queue, p Processor, qz Quizzes, r QuizReader, opts quiz.Options) *Handler {
	d := quiz.DefaultOptions()
	if opts.MinQuestions <= 0 {
		opts.MinQuestions = d.MinQuestions
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = d.MaxQuestions
	}
	return &Handler{queue: q, processor: p, quizzes: qz, reader: r, minQ: opts.MinQuestions, defaultQ: opts.MaxQuestions}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents/process/{documentID}", h.handleProcessDocument)
		r.Post("/quizzes/generate", h.handleGenerateQuiz)
		r.Get("/quizzes/{quizID}", h.handleGetQuiz)
	})
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Detail: msg})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type processResponse struct {
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
}

func (h *Handler) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	if documentID == "" {
		writeError(w, http.StatusBadRequest, "document ID is required")
		return
	}

	err := h.queue.Submit(pipeline.DocumentKey(documentID), func(ctx context.Context) {
		h.processor.ProcessDocument(ctx, documentID)
	})
	if !h.submitted(w, err) {
		return
	}
	slog.Info("document processing queued", "document_id", documentID)
	writeJSON(w, http.StatusAccepted, processResponse{
		Message:    i18n.T(r.Context(), "ProcessingStarted"),
		DocumentID: documentID,
	})
}

// submitted writes the error response for a failed Submit and reports
// whether the task was accepted.
func (h *Handler) submitted(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, pipeline.ErrAlreadyQueued):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
	return false
}

type generateRequest struct {
	DocumentID          string `json:"document_id"`
	QuestionsPerConcept int    `json:"questions_per_concept"`
}

type generateResponse struct {
	QuizID         string           `json:"quiz_id"`
	DocumentID     string           `json:"document_id"`
	Status         model.QuizStatus `json:"status"`
	TotalQuestions int              `json:"total_questions"`
	Message        string           `json:"message"`
}

func (h *Handler) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}
	if req.QuestionsPerConcept == 0 {
		req.QuestionsPerConcept = h.defaultQ
	}
	if err := quiz.ValidateQuestionsPerConcept(req.QuestionsPerConcept); err != nil {
		writeError(w, http.StatusBadRequest, apperr.Message(err))
		return
	}

	reg, err := h.quizzes.Prepare(r.Context(), req.DocumentID)
	switch {
	case errors.Is(err, quiz.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "Document not found")
		return
	case apperr.Is(err, apperr.Validation):
		writeError(w, http.StatusBadRequest, apperr.Message(err))
		return
	case err != nil:
		slog.Error("prepare quiz generation", "document_id", req.DocumentID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to start quiz generation")
		return
	}

	inProgress := generateResponse{
		QuizID:     reg.QuizID,
		DocumentID: req.DocumentID,
		Status:     model.QuizGenerating,
		Message:    i18n.T(r.Context(), "QuizGenerationInProgress"),
	}
	if reg.InProgress {
		writeJSON(w, http.StatusOK, inProgress)
		return
	}

	opts := quiz.Options{MinQuestions: h.minQ, MaxQuestions: req.QuestionsPerConcept}
	err = h.queue.Submit(pipeline.QuizKey(req.DocumentID), func(ctx context.Context) {
		quizID, err := h.quizzes.Regenerate(ctx, reg, opts)
		if err != nil {
			slog.Warn("quiz generation failed", "document_id", reg.DocumentID, "error", err)
			return
		}
		slog.Info("quiz generated", "document_id", reg.DocumentID, "quiz_id", quizID)
	})
	if errors.Is(err, pipeline.ErrAlreadyQueued) {
		inProgress.QuizID = "pending"
		writeJSON(w, http.StatusOK, inProgress)
		return
	}
	if !h.submitted(w, err) {
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		QuizID:     "pending",
		DocumentID: req.DocumentID,
		Status:     model.QuizGenerating,
		Message:    i18n.T(r.Context(), "QuizGenerationStarted"),
	})
}

func (h *Handler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	view, err := h.reader.GetQuizView(r.Context(), quizID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	if err != nil {
		slog.Error("get quiz", "quiz_id", quizID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load quiz")
		return
	}
	writeJSON(w, http.StatusOK, view)
}
