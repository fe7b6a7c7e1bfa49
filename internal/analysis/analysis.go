// Package analysis extracts topics and concepts from document text.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/lynki/internal/apperr"
	"github.com/pavelanni/lynki/internal/chunk"
	"github.com/pavelanni/lynki/internal/llm"
	"github.com/pavelanni/lynki/internal/llm/prompts"
	"github.com/pavelanni/lynki/internal/model"
)

// OperationChunk is the llm_logs operation recorded per analyzed chunk.
const OperationChunk = "structure_extraction_chunk"

// MinTextLength is the shortest text worth analyzing.
const MinTextLength = 50

// Store is the persistence the analyzer needs.
type Store interface {
	FindTopic(ctx context.Context, documentID, name string) (*model.Topic, error)
	InsertTopic(ctx context.Context, t model.Topic) (model.Topic, error)
	InsertConcepts(ctx context.Context, concepts []model.Concept) ([]model.Concept, error)
	InsertLLMLog(ctx context.Context, l model.LLMLog) error
}

// Config controls structure extraction.
type Config struct {
	ChunkSize   int
	MaxTokens   int
	Temperature float64
	// MaxRetries is the number of retries after the first attempt per chunk.
	MaxRetries int
	Timeout    time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:   chunk.DefaultSize,
		MaxTokens:   4000,
		Temperature: 0.1,
		MaxRetries:  2,
		Timeout:     60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Analyzer runs the structure extraction stage.
type Analyzer struct {
	store  Store
	llm    llm.Completer
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an Analyzer. A nil logger uses slog.Default().
func New(s Store, c llm.Completer, cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: s, llm: c, cfg: cfg.withDefaults(), logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type structureJSON struct {
	Topics []struct {
		Name     string `json:"name"`
		Concepts []struct {
			Name        string `json:"name"`
			Explanation string `json:"explanation"`
			SourceText  string `json:"source_text"`
		} `json:"concepts"`
	} `json:"topics"`
}

// AnalyzeDocument splits text into chunks and merges each chunk's topics and
// concepts into the store. Chunks that keep failing with retryable errors
// are skipped. Any other error aborts the analysis.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, documentID, text string) error {
	log := a.logger.With("document_id", documentID)
	if utf8.RuneCountInString(strings.TrimSpace(text)) < MinTextLength {
		log.Warn("text too short for analysis", "length", utf8.RuneCountInString(text))
		return nil
	}

	chunks := chunk.Split(text, a.cfg.ChunkSize)
	log.Info("analyzing document", "chunks", len(chunks))

	for i, c := range chunks {
		if err := a.processChunk(ctx, log.With("chunk", i+1), documentID, c, i+1, len(chunks)); err != nil {
			return fmt.Errorf("analyze chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.Timeout, apperr.Connection, apperr.MalformedResponse:
		return true
	}
	return false
}

func (a *Analyzer) processChunk(ctx context.Context, log *slog.Logger, documentID, text string, index, total int) error {
	system, err := prompts.StructureSystem()
	if err != nil {
		return err
	}
	user, err := prompts.StructureUser(index, total, text)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		parsed, resp, err := a.extract(ctx, system, user)
		if err == nil {
			if resp.Truncated() {
				log.Warn("response hit max tokens", "max_tokens", a.cfg.MaxTokens)
			}
			if err := a.merge(ctx, log, documentID, parsed); err != nil {
				return err
			}
			a.recordUsage(ctx, log, documentID, resp.Usage)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
		if attempt >= a.cfg.MaxRetries {
			log.Error("chunk skipped after retries", "attempts", attempt+1, "error", err)
			return nil
		}

		backoff := time.Duration(1<<attempt) * time.Second
		log.Warn("chunk attempt failed, retrying", "attempt", attempt+1, "backoff", backoff, "error", err)
		if err := a.sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func (a *Analyzer) extract(ctx context.Context, system, user string) (structureJSON, llm.Completion, error) {
	resp, err := llm.CompleteWithTimeout(ctx, a.llm, llm.Request{
		System:      system,
		User:        user,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	}, a.cfg.Timeout)
	if err != nil {
		return structureJSON{}, resp, err
	}
	var parsed structureJSON
	if err := llm.DecodeJSON(resp.Text, &parsed); err != nil {
		return structureJSON{}, resp, err
	}
	return parsed, resp, nil
}

// merge inserts topics that are not yet present for the document and every
// concept under them. Concepts are not deduplicated.
func (a *Analyzer) merge(ctx context.Context, log *slog.Logger, documentID string, parsed structureJSON) error {
	for _, t := range parsed.Topics {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}

		topic, err := a.store.FindTopic(ctx, documentID, name)
		if err != nil {
			return fmt.Errorf("find topic %q: %w", name, err)
		}
		if topic == nil {
			created, err := a.store.InsertTopic(ctx, model.Topic{DocumentID: documentID, Name: name})
			if err != nil {
				return fmt.Errorf("insert topic %q: %w", name, err)
			}
			topic = &created
		}

		concepts := make([]model.Concept, 0, len(t.Concepts))
		for _, c := range t.Concepts {
			cname := strings.TrimSpace(c.Name)
			if cname == "" {
				continue
			}
			concepts = append(concepts, model.Concept{
				TopicID:         topic.ID,
				Name:            cname,
				Explanation:     strings.TrimSpace(c.Explanation),
				SourceText:      strings.TrimSpace(c.SourceText),
				ComplexityLevel: model.ComplexityIntermediate,
			})
		}
		if len(concepts) == 0 {
			continue
		}
		if _, err := a.store.InsertConcepts(ctx, concepts); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Error("insert concepts failed", "topic", name, "error", err)
		}
	}
	return nil
}

func (a *Analyzer) recordUsage(ctx context.Context, log *slog.Logger, documentID string, u llm.Usage) {
	err := a.store.InsertLLMLog(ctx, model.LLMLog{
		DocumentID:   documentID,
		Operation:    OperationChunk,
		Model:        a.llm.Model(),
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	})
	if err != nil {
		log.Warn("record LLM usage failed", "error", err)
	}
}
