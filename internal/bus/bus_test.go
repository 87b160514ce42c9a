package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"clawgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type idChannel struct {
	domain.Channel
	id string
}

func (c idChannel) Identifier() string { return c.id }

func TestBus_EnqueueSubscribe(t *testing.T) {
	b := New(4, testLogger(), nil)
	ctx := context.Background()

	if err := b.Enqueue(ctx, idChannel{id: "slack:C1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}
	got := <-b.Subscribe()
	if got.Identifier() != "slack:C1" {
		t.Errorf("got %q", got.Identifier())
	}
}

func TestBus_EachTaskConsumedOnce(t *testing.T) {
	b := New(64, testLogger(), nil)
	ctx := context.Background()

	const n = 50
	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range b.Subscribe() {
				mu.Lock()
				seen[ch.Identifier()]++
				mu.Unlock()
			}
		}()
	}
	for i := range n {
		if err := b.Enqueue(ctx, idChannel{id: string(rune('A' + i))}); err != nil {
			t.Fatal(err)
		}
	}
	b.Close()
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("consumed %d distinct tasks, want %d", len(seen), n)
	}
	for id, c := range seen {
		if c != 1 {
			t.Errorf("task %s consumed %d times", id, c)
		}
	}
}

func TestBus_FullQueueTimesOut(t *testing.T) {
	b := New(1, testLogger(), nil)
	b.wait = 20 * time.Millisecond
	ctx := context.Background()

	if err := b.Enqueue(ctx, idChannel{id: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Enqueue(ctx, idChannel{id: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestBus_FullQueueDrainsDuringWait(t *testing.T) {
	b := New(1, testLogger(), nil)
	ctx := context.Background()
	b.Enqueue(ctx, idChannel{id: "a"})

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-b.Subscribe()
	}()
	if err := b.Enqueue(ctx, idChannel{id: "b"}); err != nil {
		t.Fatalf("Enqueue after drain: %v", err)
	}
}

func TestBus_Closed(t *testing.T) {
	b := New(1, testLogger(), nil)
	b.Close()
	b.Close()
	if err := b.Enqueue(context.Background(), idChannel{id: "a"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
