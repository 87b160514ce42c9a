package coordination

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakePrompter struct {
	id      string
	mu      sync.Mutex
	sent    []string
	sendErr error
	onSend  func()
}

func (f *fakePrompter) Identifier() string { return f.id }

func (f *fakePrompter) Send(_ context.Context, message string) error {
	f.mu.Lock()
	f.sent = append(f.sent, message)
	f.mu.Unlock()
	if f.onSend != nil {
		go f.onSend()
	}
	return f.sendErr
}

func newCoordinator() *Coordinator {
	return New(Config{Store: NewMemoryStore(), Logger: testLogger()})
}

func TestConfirm_Yes(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator()
	p := &fakePrompter{id: "telegram:42"}
	p.onSend = func() {
		pending, err := c.Pending(ctx, p.id)
		if err == nil && pending {
			_ = c.Deliver(ctx, p.id, "YES")
		}
	}

	ok, err := c.Confirm(ctx, p, `Delete "notes.txt"?`, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, p.sent, 1)
	assert.Equal(t, `⚠️ Delete "notes.txt"? Reply 'Yes' to confirm.`, p.sent[0])

	pending, err := c.Pending(ctx, p.id)
	require.NoError(t, err)
	assert.False(t, pending, "flag must be cleared after resolution")
}

func TestConfirm_OtherTextDenies(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator()
	for _, reply := range []string{"no", "yes please", "y", "", " yes ", "yes\n"} {
		p := &fakePrompter{id: "slack:C1"}
		p.onSend = func() { _ = c.Deliver(ctx, p.id, reply) }

		ok, err := c.Confirm(ctx, p, "Proceed?", 5*time.Second)
		require.NoError(t, err)
		assert.False(t, ok, "reply %q should deny", reply)
	}
}

func TestConfirm_TimeoutClearsFlag(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator()
	p := &fakePrompter{id: "email:bob@example.com"}

	ok, err := c.Confirm(ctx, p, "Proceed?", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := c.Pending(ctx, p.id)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestConfirm_ZeroTimeoutUsesConfigured(t *testing.T) {
	ctx := context.Background()
	c := New(Config{Store: NewMemoryStore(), Timeout: 50 * time.Millisecond, Logger: testLogger()})
	p := &fakePrompter{id: "discord:D1"}

	start := time.Now()
	ok, err := c.Confirm(ctx, p, "Proceed?", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConfirm_ClearsStaleReplies(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator()
	p := &fakePrompter{id: "telegram:7"}

	// A late "yes" left over from an earlier, timed-out confirmation.
	require.NoError(t, c.Deliver(ctx, p.id, "yes"))

	ok, err := c.Confirm(ctx, p, "Proceed?", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "stale reply must not confirm a new request")
}

func TestConfirm_SequentialCallsReuseIdentity(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator()
	p := &fakePrompter{id: "terminal:1"}
	replies := []string{"yes", "no"}
	var i int
	p.onSend = func() {
		_ = c.Deliver(ctx, p.id, replies[i])
	}

	first, err := c.Confirm(ctx, p, "One?", time.Second)
	require.NoError(t, err)
	i++
	second, err := c.Confirm(ctx, p, "Two?", time.Second)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestConfirm_SendFailure(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator()
	p := &fakePrompter{id: "slack:C2", sendErr: errors.New("boom")}

	ok, err := c.Confirm(ctx, p, "Proceed?", time.Second)
	assert.Error(t, err)
	assert.False(t, ok)

	pending, err := c.Pending(ctx, p.id)
	require.NoError(t, err)
	assert.False(t, pending, "flag must be cleared when the prompt cannot be sent")
}

func TestConfirm_CancelledContextStillClearsFlag(t *testing.T) {
	c := newCoordinator()
	p := &fakePrompter{id: "discord:9"}
	ctx, cancel := context.WithCancel(context.Background())
	p.onSend = func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}

	_, err := c.Confirm(ctx, p, "Proceed?", 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	pending, err := c.Pending(context.Background(), p.id)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestIsAffirmative(t *testing.T) {
	assert.True(t, IsAffirmative("yes"))
	assert.True(t, IsAffirmative("Yes"))
	assert.True(t, IsAffirmative("YES"))
	assert.False(t, IsAffirmative(" yes "))
	assert.False(t, IsAffirmative("yes\n"))
	assert.False(t, IsAffirmative("yeah"))
	assert.False(t, IsAffirmative("no"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "awaiting_confirm:slack:C1", FlagKey("slack:C1"))
	assert.Equal(t, "confirm:slack:C1", ReplyKey("slack:C1"))
}
