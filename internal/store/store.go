package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/lynki/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes row operations and keeps ":memory:" databases
	// shared across callers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL DEFAULT '',
		file_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		extracted_text TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		name TEXT NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id)
	);
	CREATE INDEX IF NOT EXISTS idx_topics_document_name ON topics(document_id, name);

	CREATE TABLE IF NOT EXISTS concepts (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL,
		name TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		source_text TEXT NOT NULL DEFAULT '',
		complexity_level TEXT NOT NULL DEFAULT 'intermediate',
		FOREIGN KEY (topic_id) REFERENCES topics(id)
	);
	CREATE INDEX IF NOT EXISTS idx_concepts_topic ON concepts(topic_id);

	CREATE TABLE IF NOT EXISTS quizzes (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		generation_status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		quiz_id TEXT NOT NULL,
		concept_id TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL,
		difficulty_level TEXT NOT NULL,
		hint TEXT NOT NULL DEFAULT '',
		order_index INTEGER NOT NULL,
		correct_answer INTEGER NOT NULL,
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id)
	);
	CREATE INDEX IF NOT EXISTS idx_questions_quiz ON questions(quiz_id, order_index);

	CREATE TABLE IF NOT EXISTS question_options (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		option_text TEXT NOT NULL,
		option_index INTEGER NOT NULL,
		is_correct INTEGER NOT NULL DEFAULT 0,
		explanation TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS llm_logs (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func newID() string {
	return uuid.NewString()
}

// CreateDocument stores a new document. A missing ID or status is filled in.
func (s *Store) CreateDocument(ctx context.Context, d model.Document) (model.Document, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.Status == "" {
		d.Status = model.DocumentPending
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, title, file_path, file_type, status, extracted_text, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.Title, d.FilePath, d.FileType, d.Status, d.ExtractedText, d.ErrorMessage, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return model.Document{}, err
	}
	return d, nil
}

// GetDocument returns a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (model.Document, error) {
	var d model.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, file_path, file_type, status, extracted_text, error_message, created_at, updated_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.UserID, &d.Title, &d.FilePath, &d.FileType, &d.Status, &d.ExtractedText, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	return d, err
}

// UpdateDocumentStatus sets the status and error message of a document.
// An empty message clears any previous error.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, errorMessage, time.Now().UTC(), id,
	)
	return err
}

// SetExtractedText stores the decoded text of a document.
func (s *Store) SetExtractedText(ctx context.Context, id, text string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET extracted_text = ?, updated_at = ? WHERE id = ?`,
		text, time.Now().UTC(), id,
	)
	return err
}

// FindTopic returns the first topic of a document with the given name, or nil.
func (s *Store) FindTopic(ctx context.Context, documentID, name string) (*model.Topic, error) {
	var t model.Topic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, name FROM topics WHERE document_id = ? AND name = ? ORDER BY rowid LIMIT 1`,
		documentID, name,
	).Scan(&t.ID, &t.DocumentID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTopic stores a topic. Uniqueness of the name is not enforced here.
func (s *Store) InsertTopic(ctx context.Context, t model.Topic) (model.Topic, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (id, document_id, name) VALUES (?, ?, ?)`,
		t.ID, t.DocumentID, t.Name,
	)
	if err != nil {
		return model.Topic{}, err
	}
	return t, nil
}

// ListTopics returns the topics of a document in insertion order.
func (s *Store) ListTopics(ctx context.Context, documentID string) ([]model.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, name FROM topics WHERE document_id = ? ORDER BY rowid`, documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.DocumentID, &t.Name); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// InsertConcepts stores a batch of concepts in one transaction.
func (s *Store) InsertConcepts(ctx context.Context, concepts []model.Concept) ([]model.Concept, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]model.Concept, 0, len(concepts))
	for _, c := range concepts {
		if c.ID == "" {
			c.ID = newID()
		}
		if c.ComplexityLevel == "" {
			c.ComplexityLevel = model.ComplexityIntermediate
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO concepts (id, topic_id, name, explanation, source_text, complexity_level) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.TopicID, c.Name, c.Explanation, c.SourceText, c.ComplexityLevel,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, tx.Commit()
}

// ListDocumentConcepts returns every concept under every topic of a document,
// in topic then concept insertion order.
func (s *Store) ListDocumentConcepts(ctx context.Context, documentID string) ([]model.Concept, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.topic_id, c.name, c.explanation, c.source_text, c.complexity_level
		 FROM concepts c JOIN topics t ON t.id = c.topic_id
		 WHERE t.document_id = ?
		 ORDER BY t.rowid, c.rowid`, documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var concepts []model.Concept
	for rows.Next() {
		var c model.Concept
		if err := rows.Scan(&c.ID, &c.TopicID, &c.Name, &c.Explanation, &c.SourceText, &c.ComplexityLevel); err != nil {
			return nil, err
		}
		concepts = append(concepts, c)
	}
	return concepts, rows.Err()
}

// CountDocumentConcepts returns the number of concepts extracted for a document.
func (s *Store) CountDocumentConcepts(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM concepts c JOIN topics t ON t.id = c.topic_id WHERE t.document_id = ?`, documentID,
	).Scan(&count)
	return count, err
}

// CreateQuiz stores a new quiz in the pending state unless a status is given.
func (s *Store) CreateQuiz(ctx context.Context, q model.Quiz) (model.Quiz, error) {
	if q.ID == "" {
		q.ID = newID()
	}
	if q.GenerationStatus == "" {
		q.GenerationStatus = model.QuizPending
	}
	now := time.Now().UTC()
	q.CreatedAt, q.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quizzes (id, document_id, user_id, title, description, generation_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.DocumentID, q.UserID, q.Title, q.Description, q.GenerationStatus, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return model.Quiz{}, err
	}
	return q, nil
}

// GetQuiz returns a quiz by ID.
func (s *Store) GetQuiz(ctx context.Context, id string) (model.Quiz, error) {
	var q model.Quiz
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, user_id, title, description, generation_status, created_at, updated_at
		 FROM quizzes WHERE id = ?`, id,
	).Scan(&q.ID, &q.DocumentID, &q.UserID, &q.Title, &q.Description, &q.GenerationStatus, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return q, ErrNotFound
	}
	return q, err
}

// ListDocumentQuizzes returns the quizzes of a document, oldest first.
func (s *Store) ListDocumentQuizzes(ctx context.Context, documentID string) ([]model.Quiz, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, user_id, title, description, generation_status, created_at, updated_at
		 FROM quizzes WHERE document_id = ? ORDER BY rowid`, documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quizzes []model.Quiz
	for rows.Next() {
		var q model.Quiz
		if err := rows.Scan(&q.ID, &q.DocumentID, &q.UserID, &q.Title, &q.Description, &q.GenerationStatus, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

// UpdateQuizStatus updates the generation status of a quiz.
func (s *Store) UpdateQuizStatus(ctx context.Context, id string, status model.QuizStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quizzes SET generation_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	return err
}

// DeleteQuiz removes a quiz with all of its questions and options.
func (s *Store) DeleteQuiz(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM question_options WHERE question_id IN (SELECT id FROM questions WHERE quiz_id = ?)`,
		`DELETE FROM questions WHERE quiz_id = ?`,
		`DELETE FROM quizzes WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertQuestion stores a question together with its options in one transaction.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question, options []model.QuestionOption) (model.Question, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Question{}, err
	}
	defer tx.Rollback()

	if q.ID == "" {
		q.ID = newID()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO questions (id, quiz_id, concept_id, question, difficulty_level, hint, order_index, correct_answer)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.QuizID, q.ConceptID, q.Text, q.Difficulty, q.Hint, q.OrderIndex, q.CorrectAnswer,
	)
	if err != nil {
		return model.Question{}, err
	}

	for _, o := range options {
		if o.ID == "" {
			o.ID = newID()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO question_options (id, question_id, option_text, option_index, is_correct, explanation)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			o.ID, q.ID, o.Text, o.Index, o.IsCorrect, o.Explanation,
		)
		if err != nil {
			return model.Question{}, err
		}
	}

	return q, tx.Commit()
}

// ListQuestions returns the questions of a quiz ordered by order_index.
func (s *Store) ListQuestions(ctx context.Context, quizID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, quiz_id, concept_id, question, difficulty_level, hint, order_index, correct_answer
		 FROM questions WHERE quiz_id = ? ORDER BY order_index`, quizID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.QuizID, &q.ConceptID, &q.Text, &q.Difficulty, &q.Hint, &q.OrderIndex, &q.CorrectAnswer); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListOptions returns the options of a question ordered by option_index.
func (s *Store) ListOptions(ctx context.Context, questionID string) ([]model.QuestionOption, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question_id, option_text, option_index, is_correct, explanation
		 FROM question_options WHERE question_id = ? ORDER BY option_index`, questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var options []model.QuestionOption
	for rows.Next() {
		var o model.QuestionOption
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Text, &o.Index, &o.IsCorrect, &o.Explanation); err != nil {
			return nil, err
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

// InsertLLMLog records token usage of a completion call.
func (s *Store) InsertLLMLog(ctx context.Context, l model.LLMLog) error {
	if l.ID == "" {
		l.ID = newID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_logs (id, document_id, operation, model, input_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.DocumentID, l.Operation, l.Model, l.InputTokens, l.OutputTokens, l.CreatedAt,
	)
	return err
}

// ListLLMLogs returns the usage rows of a document.
func (s *Store) ListLLMLogs(ctx context.Context, documentID string) ([]model.LLMLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, operation, model, input_tokens, output_tokens, created_at
		 FROM llm_logs WHERE document_id = ? ORDER BY rowid`, documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []model.LLMLog
	for rows.Next() {
		var l model.LLMLog
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.Operation, &l.Model, &l.InputTokens, &l.OutputTokens, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
