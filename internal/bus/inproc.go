// Package bus decouples transport event receipt from handling: publishing
// returns once a task is queued, and worker goroutines deliver it to the
// topic's subscribers with at-least-once semantics. There is no ordering
// guarantee across tasks.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

type Topic string

const (
	// TopicChatMessage carries inbound chat messages eligible for intent
	// routing.
	TopicChatMessage Topic = "chat_message"
	// TopicInteraction carries interactive callbacks (button clicks).
	TopicInteraction Topic = "interaction"
)

// Task is one unit of work. IdempotencyKey deduplicates redeliveries from
// the transport; tasks with a key already seen within the dedupe window
// are dropped at publish time.
type Task struct {
	ID             string
	Topic          Topic
	IdempotencyKey string
	Payload        any
	EnqueuedAt     time.Time

	attempt int
}

type Handler func(ctx context.Context, task Task) error

type Options struct {
	MaxInFlight int
	Workers     int
	MaxAttempts int
	DedupeTTL   time.Duration
	Logger      *slog.Logger
}

// Inproc is the in-process task queue. Close stops the workers; publishes
// after Close fail.
type Inproc struct {
	tasks    chan Task
	logger   *slog.Logger
	maxTries int

	mu       sync.RWMutex
	handlers map[Topic][]Handler
	closed   bool

	seen *gocache.Cache
	wg   sync.WaitGroup
}

// Start builds the queue and launches its workers.
func Start(opts Options) (*Inproc, error) {
	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	maxTries := opts.MaxAttempts
	if maxTries <= 0 {
		maxTries = 3
	}
	dedupeTTL := opts.DedupeTTL
	if dedupeTTL <= 0 {
		dedupeTTL = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Inproc{
		tasks:    make(chan Task, maxInFlight),
		logger:   logger,
		maxTries: maxTries,
		handlers: make(map[Topic][]Handler),
		seen:     gocache.New(dedupeTTL, dedupeTTL),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.work()
	}
	return b, nil
}

// Subscribe registers a handler for a topic. Handlers must be registered
// before the first publish for that topic; late subscribers miss earlier
// tasks.
func (b *Inproc) Subscribe(topic Topic, handler Handler) error {
	if b == nil {
		return fmt.Errorf("bus is not initialized")
	}
	if strings.TrimSpace(string(topic)) == "" {
		return fmt.Errorf("topic is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Publish enqueues a task and returns as soon as it is queued. The
// returned bool reports whether the task was accepted; a duplicate
// idempotency key within the dedupe window is dropped with accepted=false
// and no error.
func (b *Inproc) Publish(ctx context.Context, task Task) (bool, error) {
	if b == nil {
		return false, fmt.Errorf("bus is not initialized")
	}
	if ctx == nil {
		return false, fmt.Errorf("context is required")
	}
	if strings.TrimSpace(string(task.Topic)) == "" {
		return false, fmt.Errorf("topic is required")
	}
	if task.ID == "" {
		task.ID = "task_" + uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if key := strings.TrimSpace(task.IdempotencyKey); key != "" {
		if err := b.seen.Add(key, true, gocache.DefaultExpiration); err != nil {
			return false, nil
		}
	}
	task.attempt = 1
	// The read lock excludes Close, so the channel cannot be closed
	// under the send below.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, fmt.Errorf("bus is closed")
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case b.tasks <- task:
		return true, nil
	}
}

// Close stops accepting tasks and waits for in-flight work to finish.
func (b *Inproc) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.tasks)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Inproc) work() {
	defer b.wg.Done()
	for task := range b.tasks {
		b.deliver(task)
	}
}

// deliver invokes every subscriber for the task's topic. A failing
// handler gets the task redelivered up to maxTries attempts; delivery is
// at-least-once, so handlers must tolerate duplicates.
func (b *Inproc) deliver(task Task) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[task.Topic]...)
	b.mu.RUnlock()
	if len(handlers) == 0 {
		b.logger.Warn("bus_no_subscribers", "topic", string(task.Topic), "task_id", task.ID)
		return
	}
	for _, handler := range handlers {
		if err := handler(context.Background(), task); err != nil {
			if task.attempt >= b.maxTries {
				b.logger.Warn("bus_task_dropped", "topic", string(task.Topic), "task_id", task.ID, "attempt", task.attempt, "error", err.Error())
				continue
			}
			b.logger.Warn("bus_task_retry", "topic", string(task.Topic), "task_id", task.ID, "attempt", task.attempt, "error", err.Error())
			retry := task
			retry.attempt++
			b.mu.RLock()
			if !b.closed {
				select {
				case b.tasks <- retry:
				default:
					b.logger.Warn("bus_retry_queue_full", "topic", string(task.Topic), "task_id", task.ID)
				}
			}
			b.mu.RUnlock()
		}
	}
}
