package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/lynki/internal/model"
)

// GetQuizView builds a quiz with its questions and options in order.
func (s *Store) GetQuizView(ctx context.Context, quizID string) (*model.QuizView, error) {
	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	questions, err := s.ListQuestions(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	view := &model.QuizView{Quiz: quiz, Questions: make([]model.QuestionView, 0, len(questions))}
	for _, q := range questions {
		opts, err := s.ListOptions(ctx, q.ID)
		if err != nil {
			return nil, fmt.Errorf("list options for question %s: %w", q.ID, err)
		}
		view.Questions = append(view.Questions, model.QuestionView{Question: q, Options: opts})
	}
	return view, nil
}

// ExportQuiz builds the export structure for a quiz and its source document.
func (s *Store) ExportQuiz(ctx context.Context, quizID string) (model.QuizExport, error) {
	view, err := s.GetQuizView(ctx, quizID)
	if err != nil {
		return model.QuizExport{}, fmt.Errorf("get quiz %s: %w", quizID, err)
	}
	doc, err := s.GetDocument(ctx, view.DocumentID)
	if err != nil {
		return model.QuizExport{}, fmt.Errorf("get document %s: %w", view.DocumentID, err)
	}
	// The export carries metadata only.
	doc.ExtractedText = ""
	return model.QuizExport{
		Document:       doc,
		TotalQuestions: len(view.Questions),
		Quiz:           *view,
	}, nil
}
