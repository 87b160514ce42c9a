package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawgate/internal/bus"
	"clawgate/internal/domain"
)

func TestPool_RunsEachTaskOnce(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	b := bus.New(10, testLogger(), nil)
	pool := NewPool(PoolConfig{Source: b, Processor: h.proc, Workers: 3, Logger: testLogger()})

	channels := make([]*fakeChannel, 6)
	for i := range channels {
		channels[i] = &fakeChannel{id: fmt.Sprintf("slack:C%d", i), text: "hello"}
		require.NoError(t, b.Enqueue(context.Background(), channels[i]))
	}
	b.Close()

	done := make(chan struct{})
	go func() {
		pool.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not drain the closed queue")
	}

	for _, ch := range channels {
		assert.Equal(t, []string{"ok"}, ch.Sent(), ch.id)
	}
	assert.Len(t, h.provider.Requests(), len(channels))
}

func TestPool_StopsOnCancel(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	b := bus.New(10, testLogger(), nil)
	pool := NewPool(PoolConfig{Source: b, Processor: h.proc, Logger: testLogger()})
	assert.Equal(t, defaultWorkers, pool.Workers())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	cancel()
	b.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool ignored cancellation")
	}
}

func TestPool_DiscardsQueuedTasksOnCancel(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	b := bus.New(10, testLogger(), nil)
	pool := NewPool(PoolConfig{Source: b, Processor: h.proc, Workers: 2, Logger: testLogger()})

	channels := make([]*fakeChannel, 4)
	for i := range channels {
		doc := saveAttachment(t, h.store, fmt.Sprintf("doc%d.txt", i), "text/plain", "queued")
		channels[i] = &fakeChannel{
			id:          fmt.Sprintf("slack:C%d", i),
			text:        "hello",
			attachments: []domain.Attachment{doc},
		}
		require.NoError(t, b.Enqueue(context.Background(), channels[i]))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Close()

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not drain the queue after cancellation")
	}

	for _, ch := range channels {
		assert.Empty(t, ch.Sent(), ch.id)
		for _, a := range ch.attachments {
			exists, err := h.store.Exists(context.Background(), a.Disk, a.Path)
			require.NoError(t, err)
			assert.False(t, exists, a.Path)
		}
	}
	assert.Empty(t, h.provider.Requests())
}

func TestPool_RunTaskDetachesFromCancellation(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	pool := NewPool(PoolConfig{Processor: h.proc, TaskTimeout: time.Minute, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := &fakeChannel{id: "slack:C1", text: "hello"}
	assert.Equal(t, "replied", pool.RunTask(ctx, ch))
	assert.Equal(t, []string{"ok"}, ch.Sent())
}
