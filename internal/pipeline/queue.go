package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrQueueFull     = errors.New("task queue is full")
	ErrQueueClosed   = errors.New("task queue is closed")
	ErrAlreadyQueued = errors.New("task already queued or running")
)

// Task is a unit of background work. ctx is canceled on shutdown.
type Task func(ctx context.Context)

type job struct {
	key  string
	task Task
}

// QueueConfig sizes the worker pool.
type QueueConfig struct {
	Workers int
	Size    int
}

// DefaultQueueConfig returns 2 workers and room for 64 queued tasks.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Workers: 2, Size: 64}
}

// Queue is a bounded in-process task queue. At most one task per key is
// queued or running at any time.
type Queue struct {
	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	keys   map[string]struct{}
	closed bool
}

// NewQueue starts cfg.Workers workers. A nil logger uses slog.Default().
func NewQueue(cfg QueueConfig, logger *slog.Logger) *Queue {
	d := DefaultQueueConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.Size <= 0 {
		cfg.Size = d.Size
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:   make(chan job, cfg.Size),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		keys:   make(map[string]struct{}),
	}
	for i := range cfg.Workers {
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

// Submit enqueues task under key without blocking.
func (q *Queue) Submit(key string, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.keys[key]; ok {
		return ErrAlreadyQueued
	}
	select {
	case q.jobs <- job{key: key, task: task}:
		q.keys[key] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports whether a task with key is queued or running.
func (q *Queue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.keys[key]
	return ok
}

// Shutdown stops accepting tasks, drops tasks that have not started, cancels
// running tasks and waits for them to return or for ctx to end.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for j := range q.jobs {
		if q.ctx.Err() != nil {
			q.logger.Warn("dropping queued task on shutdown", "key", j.key)
			q.release(j.key)
			continue
		}
		q.runJob(id, j)
	}
}

func (q *Queue) runJob(id int, j job) {
	defer q.release(j.key)
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "worker", id, "key", j.key, "panic", r)
		}
	}()
	q.logger.Debug("task started", "worker", id, "key", j.key)
	j.task(q.ctx)
	q.logger.Debug("task finished", "worker", id, "key", j.key)
}

func (q *Queue) release(key string) {
	q.mu.Lock()
	delete(q.keys, key)
	q.mu.Unlock()
}
