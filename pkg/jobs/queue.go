// Package jobs runs small background tasks on a fixed pool of goroutines
// with bounded retries.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Submit once Close has been called.
	ErrClosed = errors.New("jobs: queue closed")
	// ErrFull is returned by Submit when the buffer has no room.
	ErrFull = errors.New("jobs: queue full")
	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("jobs: queue not started")
)

// Task is a unit of background work.
type Task struct {
	ID      string
	Kind    string
	Target  string
	Attempt int
	Queued  time.Time
}

// Handler processes a task. A non-nil error schedules a retry.
type Handler func(context.Context, Task) error

// Config tunes a Queue. Zero values fall back to defaults.
type Config struct {
	Workers     int
	Buffer      int
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	Logger  *zap.Logger
}

// Queue dispatches tasks to a worker pool.
type Queue struct {
	name   string
	handle Handler
	cfg    Config

	tasks   chan Task
	workers sync.WaitGroup

	mu      sync.RWMutex
	ctx     context.Context
	started bool
	closed  bool
}

// NewQueue builds a queue that passes every task to handle.
func NewQueue(name string, handle Handler, cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = cfg.Workers * 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:   name,
		handle: handle,
		cfg:    cfg,
		tasks:  make(chan Task, cfg.Buffer),
	}
}

// Start launches the workers. ctx is handed to every Handler call.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.ctx = ctx
	q.started = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.workers.Add(1)
		go q.work()
	}
	q.cfg.Logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.cfg.Workers)
}

// Submit enqueues task without blocking.
func (q *Queue) Submit(task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	switch {
	case q.closed:
		return ErrClosed
	case !q.started:
		return ErrNotStarted
	}
	if task.Queued.IsZero() {
		task.Queued = time.Now().UTC()
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrFull
	}
}

// Close stops accepting tasks and waits for buffered ones to finish or for
// ctx to expire. Retries still waiting on their backoff are dropped.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cfg.Logger.Sugar().Infow("queue stopped", "queue", q.name)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer q.workers.Done()
	for task := range q.tasks {
		task.Attempt++
		if err := q.handle(q.ctx, task); err != nil {
			q.retry(task, err)
		}
	}
}

func (q *Queue) retry(task Task, err error) {
	log := q.cfg.Logger.Sugar()
	if task.Attempt >= q.cfg.MaxAttempts {
		log.Errorw("task exhausted retries", "queue", q.name, "task_id", task.ID, "kind", task.Kind, "attempts", task.Attempt, "error", err)
		return
	}
	delay := q.cfg.Backoff << (task.Attempt - 1)
	log.Warnw("task failed, retrying", "queue", q.name, "task_id", task.ID, "kind", task.Kind, "attempt", task.Attempt, "delay", delay, "error", err)

	time.AfterFunc(delay, func() {
		if err := q.Submit(task); err != nil {
			log.Errorw("failed to requeue task", "queue", q.name, "task_id", task.ID, "error", err)
		}
	})
}
