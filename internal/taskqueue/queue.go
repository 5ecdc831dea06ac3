package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTaskTimeout bounds a single task so a stuck one never blocks the queue.
	DefaultTaskTimeout = 60 * time.Second

	// DefaultAudioInterval separates consecutive audio clips.
	DefaultAudioInterval = 100 * time.Millisecond

	completionPoll = 100 * time.Millisecond
)

// ErrTaskTimeout wraps the error recorded for a task abandoned by its watchdog.
var ErrTaskTimeout = errors.New("task timeout")

// Task is one unit of work. It should return when ctx is done.
type Task func(ctx context.Context) error

// Queue runs tasks strictly one at a time in FIFO order, with a fixed delay
// after each task settles.
type Queue struct {
	interval    time.Duration
	taskTimeout time.Duration
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []Task
	// running is true while the runner goroutine is alive.
	running bool
	// busy is the bookkeeping HasTask reports on; Clear resets it even though
	// an in-flight task keeps the runner until it settles.
	busy       bool
	generation uint64
	closed     bool
}

type Option func(*Queue)

func WithTaskTimeout(d time.Duration) Option {
	return func(q *Queue) { q.taskTimeout = d }
}

// New creates a queue that waits interval between tasks.
func New(interval time.Duration, logger *zap.Logger, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		interval:    interval,
		taskTimeout: DefaultTaskTimeout,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddTask appends a task and starts the runner if it is idle.
func (q *Queue) AddTask(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("Task dropped, queue closed")
		return
	}

	q.pending = append(q.pending, task)
	q.busy = true
	if !q.running {
		q.running = true
		go q.run()
	}
}

// Clear drops every pending task and the active bookkeeping. An in-flight
// task is not aborted here; its side effects are stopped by its owner.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.pending)
	q.pending = nil
	q.busy = false
	q.generation++

	q.logger.Debug("Task queue cleared", zap.Int("dropped", dropped))
}

// HasTask reports whether anything is queued, active, or mid-cycle.
func (q *Queue) HasTask() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0 || q.busy
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// WaitForCompletion blocks until HasTask is false or ctx is done.
func (q *Queue) WaitForCompletion(ctx context.Context) error {
	ticker := time.NewTicker(completionPoll)
	defer ticker.Stop()

	for {
		if !q.HasTask() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close drops pending tasks and cancels the context of the in-flight one.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.pending = nil
	q.busy = false
	q.generation++
	q.mu.Unlock()

	q.cancel()
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.closed {
			q.running = false
			q.busy = false
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.busy = true
		gen := q.generation
		q.mu.Unlock()

		start := time.Now()
		if err := q.execute(task); err != nil {
			if errors.Is(err, ErrTaskTimeout) {
				q.logger.Warn("Abandoning stuck task", zap.Duration("timeout", q.taskTimeout))
			} else {
				q.logger.Error("Task failed", zap.Error(err))
			}
		}
		q.logger.Debug("Task settled", zap.Duration("elapsed", time.Since(start)))

		select {
		case <-q.ctx.Done():
		case <-time.After(q.interval):
		}

		q.mu.Lock()
		if q.generation == gen && len(q.pending) == 0 {
			q.busy = false
		}
		q.mu.Unlock()
	}
}

func (q *Queue) execute(task Task) error {
	ctx, cancel := context.WithTimeout(q.ctx, q.taskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		done <- task(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTaskTimeout, q.taskTimeout)
		}
		return ctx.Err()
	}
}
