package bus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	t.Parallel()

	b, err := Start(Options{MaxInFlight: 4, Workers: 2, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Close()

	delivered := make(chan Task, 1)
	if err := b.Subscribe(TopicChatMessage, func(ctx context.Context, task Task) error {
		delivered <- task
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	accepted, err := b.Publish(context.Background(), Task{
		Topic:   TopicChatMessage,
		Payload: "hello",
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !accepted {
		t.Fatalf("Publish() accepted=false, want true")
	}

	select {
	case task := <-delivered:
		if task.Payload != "hello" {
			t.Fatalf("payload = %v, want hello", task.Payload)
		}
		if task.ID == "" {
			t.Fatalf("task id not assigned")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task not delivered")
	}
}

func TestPublishDeduplicatesIdempotencyKey(t *testing.T) {
	t.Parallel()

	b, err := Start(Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Close()

	var count atomic.Int32
	if err := b.Subscribe(TopicChatMessage, func(ctx context.Context, task Task) error {
		count.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	first, err := b.Publish(context.Background(), Task{Topic: TopicChatMessage, IdempotencyKey: "ev_1"})
	if err != nil || !first {
		t.Fatalf("Publish(first) accepted=%v error=%v", first, err)
	}
	second, err := b.Publish(context.Background(), Task{Topic: TopicChatMessage, IdempotencyKey: "ev_1"})
	if err != nil {
		t.Fatalf("Publish(second) error = %v", err)
	}
	if second {
		t.Fatalf("Publish(second) accepted=true, want false")
	}

	deadline := time.Now().Add(2 * time.Second)
	for count.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Allow any stray delivery to land before asserting.
	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Fatalf("handler invocations = %d, want 1", got)
	}
}

func TestFailedTaskIsRedelivered(t *testing.T) {
	t.Parallel()

	b, err := Start(Options{MaxAttempts: 3, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Close()

	var attempts atomic.Int32
	done := make(chan struct{})
	if err := b.Subscribe(TopicInteraction, func(ctx context.Context, task Task) error {
		if attempts.Add(1) < 3 {
			return fmt.Errorf("transient")
		}
		close(done)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if _, err := b.Publish(context.Background(), Task{Topic: TopicInteraction}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task was not redelivered to success (attempts=%d)", attempts.Load())
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	t.Parallel()

	b, err := Start(Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.Close()
	if _, err := b.Publish(context.Background(), Task{Topic: TopicChatMessage}); err == nil {
		t.Fatalf("Publish() after Close expected error")
	}
}

func TestSubscribeValidation(t *testing.T) {
	t.Parallel()

	b, err := Start(Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Close()

	if err := b.Subscribe("", func(ctx context.Context, task Task) error { return nil }); err == nil {
		t.Fatalf("Subscribe(empty topic) expected error")
	}
	if err := b.Subscribe(TopicChatMessage, nil); err == nil {
		t.Fatalf("Subscribe(nil handler) expected error")
	}
}
