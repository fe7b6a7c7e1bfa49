// Package quiz assembles quizzes from a document's concepts.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/lynki/internal/apperr"
	"github.com/pavelanni/lynki/internal/model"
	"github.com/pavelanni/lynki/internal/question"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (model.Document, error)
	ListDocumentConcepts(ctx context.Context, documentID string) ([]model.Concept, error)
	CreateQuiz(ctx context.Context, q model.Quiz) (model.Quiz, error)
	UpdateQuizStatus(ctx context.Context, id string, status model.QuizStatus) error
	InsertQuestion(ctx context.Context, q model.Question, options []model.QuestionOption) (model.Question, error)
	ListDocumentQuizzes(ctx context.Context, documentID string) ([]model.Quiz, error)
	DeleteQuiz(ctx context.Context, id string) error
}

// QuestionGenerator produces questions for one concept. It returns fewer
// than count questions rather than failing.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, concept model.Concept, count int) []model.GeneratedQuestion
}

var (
	ErrNoConcepts   = apperr.New(apperr.Validation, "no concepts found for document")
	ErrNoQuestions  = errors.New("no questions generated")
	ErrNotCompleted = apperr.New(apperr.Validation, "Document must be processed before generating a quiz")
)

// Options bounds the number of questions per concept.
type Options struct {
	MinQuestions int
	MaxQuestions int
}

// DefaultOptions returns min 2, max 5 questions per concept.
func DefaultOptions() Options {
	return Options{MinQuestions: 2, MaxQuestions: 5}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.MinQuestions <= 0 {
		o.MinQuestions = d.MinQuestions
	}
	if o.MaxQuestions <= 0 {
		o.MaxQuestions = d.MaxQuestions
	}
	// MaxQuestions is the caller's cap and always wins.
	if o.MinQuestions > o.MaxQuestions {
		o.MinQuestions = o.MaxQuestions
	}
	return o
}

// Config controls the orchestrator.
type Config struct {
	// Concurrency caps concept generation units in flight.
	Concurrency int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{Concurrency: 3}
}

// Orchestrator generates and persists quizzes.
type Orchestrator struct {
	store     Store
	generator QuestionGenerator
	cfg       Config
	logger    *slog.Logger
	shuffle   func(n int, swap func(i, j int))
}

// New creates an Orchestrator. A nil logger uses slog.Default().
func New(s Store, g QuestionGenerator, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: s, generator: g, cfg: cfg, logger: logger, shuffle: rand.Shuffle}
}

type conceptResult struct {
	questions []model.GeneratedQuestion
	failed    bool
}

// GenerateQuizForDocument creates a quiz for a completed document and fills
// it with questions for every concept. It returns the new quiz ID. The quiz
// ends completed when at least one question is saved and failed otherwise.
func (o *Orchestrator) GenerateQuizForDocument(ctx context.Context, documentID, userID string, opts Options) (string, error) {
	opts = opts.normalize()
	log := o.logger.With("document_id", documentID)
	log.Info("starting quiz generation")

	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("get document: %w", err)
	}
	if doc.Status != model.DocumentCompleted {
		return "", ErrNotCompleted
	}

	concepts, err := o.store.ListDocumentConcepts(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("list concepts: %w", err)
	}
	if len(concepts) == 0 {
		return "", ErrNoConcepts
	}
	log.Info("found concepts for quiz", "concepts", len(concepts))

	title := doc.Title
	if title == "" {
		title = "Untitled"
	}
	qz, err := o.store.CreateQuiz(ctx, model.Quiz{
		DocumentID: documentID,
		UserID:     userID,
		Title:      "Quiz: " + title,
		Description: fmt.Sprintf("Automatically generated quiz covering %d concepts from your uploaded material.",
			len(concepts)),
		GenerationStatus: model.QuizPending,
	})
	if err != nil {
		return "", fmt.Errorf("create quiz: %w", err)
	}
	log = log.With("quiz_id", qz.ID)

	total, err := o.fill(ctx, log, qz.ID, concepts, opts)
	if err != nil {
		o.markFailed(ctx, log, qz.ID)
		return "", err
	}
	if total == 0 {
		o.markFailed(ctx, log, qz.ID)
		log.Error("quiz generation failed: no questions generated")
		return "", ErrNoQuestions
	}
	if err := o.store.UpdateQuizStatus(ctx, qz.ID, model.QuizCompleted); err != nil {
		o.markFailed(ctx, log, qz.ID)
		return "", fmt.Errorf("complete quiz: %w", err)
	}
	log.Info("quiz generation completed", "questions", total)
	return qz.ID, nil
}

func (o *Orchestrator) fill(ctx context.Context, log *slog.Logger, quizID string, concepts []model.Concept, opts Options) (int, error) {
	if err := o.store.UpdateQuizStatus(ctx, quizID, model.QuizGenerating); err != nil {
		return 0, fmt.Errorf("mark quiz generating: %w", err)
	}

	results := o.generateAll(ctx, log, concepts, opts)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	total, failed := 0, 0
	for i, res := range results {
		if res.failed || len(res.questions) == 0 {
			failed++
			log.Warn("no questions for concept", "concept", concepts[i].Name)
			continue
		}
		total += o.persist(ctx, log, quizID, res.questions, total)
	}
	if failed > 0 {
		log.Warn("some concepts produced no questions", "failed", failed, "concepts", len(concepts))
	}
	return total, nil
}

// generateAll runs one unit per concept with at most cfg.Concurrency in flight.
// Results are indexed like concepts.
func (o *Orchestrator) generateAll(ctx context.Context, log *slog.Logger, concepts []model.Concept, opts Options) []conceptResult {
	results := make([]conceptResult, len(concepts))
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)

	for i, c := range concepts {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Error("concept generation panicked", "concept", c.Name, "panic", r)
					results[i] = conceptResult{failed: true}
				}
			}()
			n := question.QuestionsPerConcept(c.Explanation, c.SourceText, opts.MinQuestions, opts.MaxQuestions)
			results[i] = conceptResult{questions: o.generator.GenerateQuestions(ctx, c, n)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// persist saves questions with order indices starting at start and returns
// how many were saved. Failed inserts are skipped.
func (o *Orchestrator) persist(ctx context.Context, log *slog.Logger, quizID string, questions []model.GeneratedQuestion, start int) int {
	saved := 0
	for _, gq := range questions {
		q, opts := Shuffle(gq, o.shuffle)
		q.QuizID = quizID
		q.OrderIndex = start + saved
		if _, err := o.store.InsertQuestion(ctx, q, opts); err != nil {
			log.Error("save question failed", "concept_id", gq.ConceptID, "error", err)
			continue
		}
		saved++
	}
	return saved
}

func (o *Orchestrator) markFailed(ctx context.Context, log *slog.Logger, quizID string) {
	if err := o.store.UpdateQuizStatus(context.WithoutCancel(ctx), quizID, model.QuizFailed); err != nil {
		log.Error("mark quiz failed", "error", err)
	}
}

// Shuffle reorders the options of q with shuffle and returns the question
// row and its options with option_index and correct_answer set to match.
func Shuffle(q model.GeneratedQuestion, shuffle func(n int, swap func(i, j int))) (model.Question, []model.QuestionOption) {
	opts := make([]model.GeneratedOption, len(q.Options))
	copy(opts, q.Options)
	shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })

	row := model.Question{
		ConceptID:     q.ConceptID,
		Text:          q.Text,
		Difficulty:    q.Difficulty,
		Hint:          q.Hint,
		CorrectAnswer: -1,
	}
	out := make([]model.QuestionOption, len(opts))
	for i, o := range opts {
		out[i] = model.QuestionOption{
			Text:        o.Text,
			Index:       i,
			IsCorrect:   o.IsCorrect,
			Explanation: o.Explanation,
		}
		if o.IsCorrect && row.CorrectAnswer < 0 {
			row.CorrectAnswer = i
		}
	}
	return row, out
}
