package quiz

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/lynki/internal/apperr"
	"github.com/pavelanni/lynki/internal/model"
	"github.com/pavelanni/lynki/internal/store"
)

var (
	// ErrDocumentNotFound is returned by Prepare for unknown documents.
	ErrDocumentNotFound = errors.New("document not found")
	ErrNoUser           = apperr.New(apperr.Validation, "Document has no user_id")
)

// MaxQuestionsLimit bounds the caller-supplied questions per concept.
const MaxQuestionsLimit = 10

// Regeneration is the outcome of Prepare.
type Regeneration struct {
	DocumentID string
	UserID     string
	// InProgress is set when a quiz for the document is already generating.
	InProgress bool
	QuizID     string
	// Replace lists completed quizzes that Regenerate deletes before
	// generating the new one.
	Replace []string
}

// Prepare checks that a quiz may be (re)generated for documentID without
// changing any rows. Completed quizzes are listed in Regeneration.Replace; a
// generating quiz is reported through Regeneration.InProgress.
func (o *Orchestrator) Prepare(ctx context.Context, documentID string) (Regeneration, error) {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Regeneration{}, ErrDocumentNotFound
		}
		return Regeneration{}, fmt.Errorf("get document: %w", err)
	}
	if doc.UserID == "" {
		return Regeneration{}, ErrNoUser
	}
	if doc.Status != model.DocumentCompleted {
		return Regeneration{}, ErrNotCompleted
	}

	reg := Regeneration{DocumentID: documentID, UserID: doc.UserID}
	quizzes, err := o.store.ListDocumentQuizzes(ctx, documentID)
	if err != nil {
		return Regeneration{}, fmt.Errorf("list quizzes: %w", err)
	}
	for _, q := range quizzes {
		if q.GenerationStatus == model.QuizGenerating {
			reg.InProgress = true
			reg.QuizID = q.ID
			return reg, nil
		}
	}
	for _, q := range quizzes {
		if q.GenerationStatus == model.QuizCompleted {
			reg.Replace = append(reg.Replace, q.ID)
		}
	}
	return reg, nil
}

// Regenerate deletes the quizzes reg replaces and generates a new one.
func (o *Orchestrator) Regenerate(ctx context.Context, reg Regeneration, opts Options) (string, error) {
	for _, id := range reg.Replace {
		o.logger.Info("deleting existing quiz for regeneration", "document_id", reg.DocumentID, "quiz_id", id)
		if err := o.store.DeleteQuiz(ctx, id); err != nil {
			return "", fmt.Errorf("delete quiz %s: %w", id, err)
		}
	}
	return o.GenerateQuizForDocument(ctx, reg.DocumentID, reg.UserID, opts)
}

// ValidateQuestionsPerConcept checks a caller-supplied max questions per concept.
func ValidateQuestionsPerConcept(n int) error {
	if n < 1 || n > MaxQuestionsLimit {
		return apperr.Newf(apperr.Validation, "questions_per_concept must be between 1 and %d", MaxQuestionsLimit)
	}
	return nil
}
