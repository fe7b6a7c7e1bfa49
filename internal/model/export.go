package model

// QuizView is a quiz with its ordered questions, used for export and the
// read-only API.
type QuizView struct {
	Quiz
	Questions []QuestionView `json:"questions"`
}

// QuestionView is a question together with its options ordered by index.
type QuestionView struct {
	Question
	Options []QuestionOption `json:"options"`
}

// QuizExport is the top-level JSON structure written by the export command.
type QuizExport struct {
	Document       Document `json:"document"`
	TotalQuestions int      `json:"total_questions"`
	Quiz           QuizView `json:"quiz"`
}
