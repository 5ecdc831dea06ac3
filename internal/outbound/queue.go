package outbound

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultInterval = time.Second
	DefaultMaxSize  = 10
)

// Message is a queued outbound payload.
type Message struct {
	ID         string
	Payload    any
	EnqueuedAt time.Time
}

// Status is a point-in-time view of the queue.
type Status struct {
	QueueLength   int        `json:"queue_length"`
	IsProcessing  bool       `json:"is_processing"`
	NextMessageAt *time.Time `json:"next_message_at"`
}

// SendFunc delivers one payload.
type SendFunc func(payload any) error

// Queue paces user-originated messages: bounded FIFO, one send cycle at a
// time, and at least interval between two sends.
type Queue struct {
	interval time.Duration
	maxSize  int
	logger   *zap.Logger

	mu         sync.Mutex
	items      []Message
	processing bool
	timer      *time.Timer
	send       SendFunc
	lastSent   time.Time
	generation uint64
	closed     bool
}

func New(interval time.Duration, maxSize int, logger *zap.Logger) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Queue{
		interval: interval,
		maxSize:  maxSize,
		logger:   logger,
	}
}

// SetSendCallback registers the sender and flushes anything that accumulated
// while none was set.
func (q *Queue) SetSendCallback(fn SendFunc) {
	q.mu.Lock()
	q.send = fn
	q.mu.Unlock()

	q.process()
}

// Enqueue appends payload, dropping the oldest entry when full, and returns the message id.
func (q *Queue) Enqueue(payload any) string {
	now := time.Now()
	msg := Message{
		ID:         fmt.Sprintf("msg_%d_%s", now.UnixMilli(), uuid.NewString()[:8]),
		Payload:    payload,
		EnqueuedAt: now,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("Outbound message dropped, queue closed", zap.String("id", msg.ID))
		return msg.ID
	}
	if len(q.items) >= q.maxSize {
		removed := q.items[0]
		q.items = q.items[1:]
		q.logger.Warn("Outbound queue full, dropping oldest message",
			zap.String("droppedID", removed.ID),
			zap.Int("maxSize", q.maxSize))
	}
	q.items = append(q.items, msg)
	length := len(q.items)
	q.mu.Unlock()

	q.logger.Debug("Outbound message queued", zap.String("id", msg.ID), zap.Int("queueLength", length))

	q.process()
	return msg.ID
}

// Clear empties the queue and resets the in-flight state.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
	q.processing = false
	q.generation++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// Close clears the queue and rejects later messages.
func (q *Queue) Close() {
	q.Clear()
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	status := Status{QueueLength: len(q.items), IsProcessing: q.processing}
	if len(q.items) > 0 {
		at := q.items[0].EnqueuedAt
		status.NextMessageAt = &at
	}
	return status
}

// Pending returns the ids of the queued messages in send order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, len(q.items))
	for i, m := range q.items {
		ids[i] = m.ID
	}
	return ids
}

func (q *Queue) process() {
	q.mu.Lock()
	if q.processing || len(q.items) == 0 || q.send == nil {
		q.mu.Unlock()
		return
	}

	if wait := q.interval - time.Since(q.lastSent); !q.lastSent.IsZero() && wait > 0 {
		q.processing = true
		q.schedule(wait)
		q.mu.Unlock()
		return
	}

	q.processing = true
	msg := q.items[0]
	q.items = q.items[1:]
	send := q.send
	gen := q.generation
	q.lastSent = time.Now()
	q.mu.Unlock()

	if err := send(msg.Payload); err != nil {
		q.logger.Error("Failed to send queued message", zap.String("id", msg.ID), zap.Error(err))
	} else {
		q.logger.Debug("Queued message sent", zap.String("id", msg.ID))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.generation != gen {
		// cleared while sending
		return
	}
	if len(q.items) > 0 {
		q.schedule(q.interval)
		return
	}
	q.processing = false
}

// schedule arms the next cycle. Caller holds mu with processing set.
func (q *Queue) schedule(wait time.Duration) {
	gen := q.generation
	q.timer = time.AfterFunc(wait, func() {
		q.mu.Lock()
		if q.generation != gen {
			q.mu.Unlock()
			return
		}
		q.processing = false
		q.timer = nil
		q.mu.Unlock()
		q.process()
	})
}
