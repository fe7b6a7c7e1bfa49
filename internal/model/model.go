package model

import "time"

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentCompleted || s == DocumentFailed
}

// QuizStatus is the generation state of a quiz.
type QuizStatus string

const (
	QuizPending    QuizStatus = "pending"
	QuizGenerating QuizStatus = "generating"
	QuizCompleted  QuizStatus = "completed"
	QuizFailed     QuizStatus = "failed"
)

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ComplexityIntermediate is the complexity assigned to every extracted concept.
const ComplexityIntermediate = "intermediate"

// Document is one uploaded source file.
type Document struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Title         string         `json:"title"`
	FilePath      string         `json:"file_path"`
	FileType      string         `json:"file_type"`
	Status        DocumentStatus `json:"status"`
	ExtractedText string         `json:"extracted_text,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Topic is a top-level subject found in a document.
type Topic struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
}

// Concept is a specific idea within a topic.
type Concept struct {
	ID              string `json:"id"`
	TopicID         string `json:"topic_id"`
	Name            string `json:"name"`
	Explanation     string `json:"explanation"`
	SourceText      string `json:"source_text"`
	ComplexityLevel string `json:"complexity_level"`
}

// Quiz is one generated quiz for a document.
type Quiz struct {
	ID               string     `json:"id"`
	DocumentID       string     `json:"document_id"`
	UserID           string     `json:"user_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	GenerationStatus QuizStatus `json:"generation_status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Question is one persisted quiz item.
type Question struct {
	ID            string     `json:"id"`
	QuizID        string     `json:"quiz_id"`
	ConceptID     string     `json:"concept_id"`
	Text          string     `json:"question"`
	Difficulty    Difficulty `json:"difficulty_level"`
	Hint          string     `json:"hint,omitempty"`
	OrderIndex    int        `json:"order_index"`
	CorrectAnswer int        `json:"correct_answer"`
}

// QuestionOption is one answer choice of a question.
type QuestionOption struct {
	ID          string `json:"id"`
	QuestionID  string `json:"question_id"`
	Text        string `json:"option_text"`
	Index       int    `json:"option_index"`
	IsCorrect   bool   `json:"is_correct"`
	Explanation string `json:"explanation"`
}

// GeneratedOption is an answer choice as produced by the model, before it
// is shuffled and persisted.
type GeneratedOption struct {
	Text        string
	IsCorrect   bool
	Explanation string
}

// GeneratedQuestion is a validated question that has not been persisted yet.
type GeneratedQuestion struct {
	ConceptID  string
	Text       string
	Difficulty Difficulty
	Hint       string
	Options    []GeneratedOption
}

// LLMLog records token usage of one completion call.
type LLMLog struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	Operation    string    `json:"operation"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}
