package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/pavelanni/lynki/internal/analysis"
	"github.com/pavelanni/lynki/internal/blob"
	"github.com/pavelanni/lynki/internal/extract"
	"github.com/pavelanni/lynki/internal/llm"
	"github.com/pavelanni/lynki/internal/llm/prompts"
	"github.com/pavelanni/lynki/internal/pipeline"
	"github.com/pavelanni/lynki/internal/question"
	"github.com/pavelanni/lynki/internal/quiz"
	"github.com/pavelanni/lynki/internal/store"
)

// app holds the wired processing components.
type app struct {
	store       *store.Store
	blobs       blob.Store
	structure   llm.Completer
	questions   llm.Completer
	quizzes     *quiz.Orchestrator
	driver      *pipeline.Driver
	quizOptions quiz.Options
	closers     []io.Closer
}

func newApp(ctx context.Context, v *viper.Viper) (*app, error) {
	if err := prompts.Load(nil); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{store: db, closers: []io.Closer{db}}

	a.blobs, err = newBlobStore(ctx, v)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := a.blobs.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.structure, err = newCompleter(v, v.GetString("structure-model"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.questions, err = newCompleter(v, v.GetString("question-model"))
	if err != nil {
		a.Close()
		return nil, err
	}

	logger := slog.Default()
	timeout := v.GetDuration("llm-timeout")

	gen := question.New(a.questions, question.Config{Timeout: timeout}, logger)
	a.quizzes = quiz.New(db, gen, quiz.Config{Concurrency: v.GetInt("quiz-concurrency")}, logger)
	analyzer := analysis.New(db, a.structure, analysis.Config{
		ChunkSize: v.GetInt("chunk-size"),
		Timeout:   timeout,
	}, logger)

	a.quizOptions = quiz.Options{
		MinQuestions: v.GetInt("min-questions"),
		MaxQuestions: v.GetInt("max-questions"),
	}
	a.driver = pipeline.NewDriver(db, a.blobs, extract.New(), analyzer, a.quizzes, pipeline.Config{
		Bucket:  v.GetString("bucket"),
		Timeout: v.GetDuration("processing-timeout"),
		Lang:    v.GetString("lang"),
		Quiz:    a.quizOptions,
	}, logger)

	return a, nil
}

// Close releases the database and blob clients.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("close", "error", err)
		}
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ping checks the LLM endpoints that support it.
func (a *app) ping(ctx context.Context) error {
	for _, c := range []llm.Completer{a.structure, a.questions} {
		p, ok := c.(pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.Model(), err)
		}
	}
	return nil
}

func newBlobStore(ctx context.Context, v *viper.Viper) (blob.Store, error) {
	switch backend := strings.ToLower(v.GetString("blob-backend")); backend {
	case "", "local":
		return blob.NewLocal(v.GetString("blob-root")), nil
	case "gcs":
		g, err := blob.NewGCS(ctx)
		if err != nil {
			return nil, fmt.Errorf("open GCS: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", backend)
	}
}

func newCompleter(v *viper.Viper, modelName string) (llm.Completer, error) {
	url, key := v.GetString("llm-url"), v.GetString("llm-key")
	switch provider := strings.ToLower(v.GetString("llm-provider")); provider {
	case "", "openai":
		return llm.NewOpenAI(url, key, modelName), nil
	case "anthropic":
		return llm.NewAnthropic(url, key, modelName), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".md":   "text/plain",
}

// detectFileType guesses a MIME type from the file extension.
func detectFileType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
