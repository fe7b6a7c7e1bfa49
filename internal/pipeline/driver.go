// Package pipeline drives documents from upload to quiz.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/lynki/internal/analysis"
	"github.com/pavelanni/lynki/internal/apperr"
	"github.com/pavelanni/lynki/internal/i18n"
	"github.com/pavelanni/lynki/internal/model"
	"github.com/pavelanni/lynki/internal/quiz"
	"github.com/pavelanni/lynki/internal/store"
)

// Store is the persistence the driver needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (model.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, errorMessage string) error
	SetExtractedText(ctx context.Context, id, text string) error
	CountDocumentConcepts(ctx context.Context, documentID string) (int, error)
}

// Blobs downloads uploaded files.
type Blobs interface {
	Download(ctx context.Context, bucket, path string) ([]byte, error)
}

// Decoder turns file bytes into text.
type Decoder interface {
	ExtractText(data []byte, fileType string) (string, error)
}

// Analyzer extracts topics and concepts from text.
type Analyzer interface {
	AnalyzeDocument(ctx context.Context, documentID, text string) error
}

// QuizGenerator builds a quiz for a processed document.
type QuizGenerator interface {
	GenerateQuizForDocument(ctx context.Context, documentID, userID string, opts quiz.Options) (string, error)
}

// Config controls document processing.
type Config struct {
	Bucket  string
	Timeout time.Duration
	Lang    string
	Quiz    quiz.Options
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Bucket:  "course-materials",
		Timeout: 600 * time.Second,
		Lang:    "en",
		Quiz:    quiz.DefaultOptions(),
	}
}

// Driver runs the document processing sequence.
type Driver struct {
	store    Store
	blobs    Blobs
	decoder  Decoder
	analyzer Analyzer
	quizzes  QuizGenerator
	cfg      Config
	logger   *slog.Logger

	// runs tracks processing goroutines, including those abandoned after
	// their deadline.
	runs sync.WaitGroup
}

// NewDriver creates a Driver. A nil logger uses slog.Default().
func NewDriver(s Store, b Blobs, dec Decoder, a Analyzer, q QuizGenerator, cfg Config, logger *slog.Logger) *Driver {
	d := DefaultConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = d.Bucket
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.Lang == "" {
		cfg.Lang = d.Lang
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{store: s, blobs: b, decoder: dec, analyzer: a, quizzes: q, cfg: cfg, logger: logger}
}

// run serializes status writes of one processing run. Once closed, no
// further status is written.
type run struct {
	mu       sync.Mutex
	store    Store
	id       string
	closed   bool
	terminal bool
}

var errRunClosed = errors.New("processing run closed")

func (r *run) setStatus(ctx context.Context, status model.DocumentStatus, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRunClosed
	}
	if err := r.store.UpdateDocumentStatus(ctx, r.id, status, msg); err != nil {
		return err
	}
	if status.Terminal() {
		r.terminal = true
	}
	return nil
}

func (r *run) setText(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRunClosed
	}
	return r.store.SetExtractedText(ctx, r.id, text)
}

// close stops further writes and reports whether the run had already
// reached a terminal status.
func (r *run) close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.terminal
}

// ProcessDocument runs the full sequence for one document under the
// configured deadline. Outcomes are reported only through the document's
// status and error message. Callers must not process the same document
// concurrently; Queue enforces this by key.
func (d *Driver) ProcessDocument(ctx context.Context, documentID string) {
	log := d.logger.With("document_id", documentID)
	ctx = i18n.WithLang(ctx, d.cfg.Lang)
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	r := &run{store: d.store, id: documentID}
	done := make(chan struct{})
	d.runs.Add(1)
	go func() {
		defer d.runs.Done()
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				log.Error("document processing panicked", "panic", p)
				d.fail(runCtx, log, r, i18n.T(ctx, "UnexpectedError"))
			}
		}()
		d.process(runCtx, log, r)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
	}

	// A run that returned early because its deadline passed has skipped its
	// own failure write, so the deadline is checked even when done fired.
	if r.close() || runCtx.Err() == nil {
		return
	}
	msg := i18n.T(ctx, "ProcessingTimedOut")
	if ctx.Err() != nil {
		msg = i18n.T(ctx, "UnexpectedError")
		log.Error("document processing interrupted", "error", ctx.Err())
	} else {
		log.Error("document processing timed out", "timeout", d.cfg.Timeout)
	}
	if err := d.store.UpdateDocumentStatus(context.WithoutCancel(ctx), documentID, model.DocumentFailed, msg); err != nil {
		log.Error("update document status failed", "error", err)
	}
}

// Wait blocks until every processing goroutine, including those abandoned
// after their deadline, has returned.
func (d *Driver) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) fail(ctx context.Context, log *slog.Logger, r *run, msg string) {
	if ctx.Err() != nil {
		return
	}
	log.Error("document processing failed", "reason", msg)
	if err := r.setStatus(context.WithoutCancel(ctx), model.DocumentFailed, msg); err != nil && !errors.Is(err, errRunClosed) {
		log.Error("update document status failed", "error", err)
	}
}

func (d *Driver) process(ctx context.Context, log *slog.Logger, r *run) {
	log.Info("starting document processing")

	doc, err := d.store.GetDocument(ctx, r.id)
	if errors.Is(err, store.ErrNotFound) {
		d.fail(ctx, log, r, i18n.T(ctx, "DocumentNotFound"))
		return
	}
	if err != nil {
		log.Error("get document failed", "error", err)
		d.fail(ctx, log, r, i18n.T(ctx, "UnexpectedError"))
		return
	}

	if err := r.setStatus(ctx, model.DocumentProcessing, ""); err != nil {
		log.Error("set processing status failed", "error", err)
		d.fail(ctx, log, r, i18n.T(ctx, "UnexpectedError"))
		return
	}

	if doc.FilePath == "" {
		d.fail(ctx, log, r, i18n.T(ctx, "DocumentMissingPath"))
		return
	}
	log.Info("downloading file", "bucket", d.cfg.Bucket, "path", doc.FilePath)
	data, err := d.blobs.Download(ctx, d.cfg.Bucket, doc.FilePath)
	if err != nil {
		d.fail(ctx, log, r, i18n.Td(ctx, "DownloadFailed", map[string]any{"Error": err.Error()}))
		return
	}

	if doc.FileType == "" {
		d.fail(ctx, log, r, i18n.T(ctx, "DocumentMissingType"))
		return
	}
	log.Info("extracting text", "file_type", doc.FileType)
	text, err := d.decoder.ExtractText(data, doc.FileType)
	if apperr.Is(err, apperr.UnsupportedFormat) {
		d.fail(ctx, log, r, i18n.Td(ctx, "UnsupportedFileType", map[string]any{"Type": doc.FileType}))
		return
	}
	if err != nil {
		d.fail(ctx, log, r, i18n.Td(ctx, "ExtractionFailed", map[string]any{"Error": err.Error()}))
		return
	}

	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < analysis.MinTextLength {
		d.fail(ctx, log, r, i18n.T(ctx, "TextTooShort"))
		return
	}
	if err := r.setText(ctx, text); err != nil {
		log.Error("save extracted text failed", "error", err)
		d.fail(ctx, log, r, i18n.T(ctx, "UnexpectedError"))
		return
	}
	log.Info("extracted text", "chars", utf8.RuneCountInString(text))

	log.Info("starting analysis")
	if err := d.analyzer.AnalyzeDocument(ctx, r.id, text); err != nil {
		log.Error("analysis failed", "error", err)
		d.fail(ctx, log, r, i18n.Td(ctx, "AnalysisFailed", map[string]any{"Error": err.Error()}))
		return
	}

	count, err := d.store.CountDocumentConcepts(ctx, r.id)
	if err != nil {
		log.Error("count concepts failed", "error", err)
		d.fail(ctx, log, r, i18n.T(ctx, "UnexpectedError"))
		return
	}
	if count == 0 {
		d.fail(ctx, log, r, i18n.T(ctx, "NoConcepts"))
		return
	}
	log.Info("analysis complete", "concepts", count)

	if err := r.setStatus(ctx, model.DocumentCompleted, ""); err != nil {
		log.Error("set completed status failed", "error", err)
		d.fail(ctx, log, r, i18n.T(ctx, "UnexpectedError"))
		return
	}
	log.Info("document completed")

	if doc.UserID == "" {
		log.Warn("no user_id on document, skipping quiz generation")
		return
	}
	quizID, err := d.quizzes.GenerateQuizForDocument(ctx, r.id, doc.UserID, d.cfg.Quiz)
	if err != nil {
		log.Warn("quiz generation failed, document processing completed", "error", err)
		return
	}
	log.Info("quiz generated", "quiz_id", quizID)
}

// DocumentKey is the queue key serializing work on one document.
func DocumentKey(documentID string) string {
	return fmt.Sprintf("document:%s", documentID)
}

// QuizKey is the queue key serializing quiz generation for one document.
func QuizKey(documentID string) string {
	return fmt.Sprintf("quiz:%s", documentID)
}
