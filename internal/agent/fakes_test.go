package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clawgate/internal/attachment"
	"clawgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeChannel records everything sent to it.
type fakeChannel struct {
	mu          sync.Mutex
	id          string
	text        string
	attachments []domain.Attachment
	sendErr     error
	answers     []bool

	acked    bool
	sent     []string
	audio    []string
	captions []string
	photos   []string
	prompts  []string
}

func (c *fakeChannel) Identifier() string               { return c.id }
func (c *fakeChannel) Text() string                     { return c.text }
func (c *fakeChannel) Attachments() []domain.Attachment { return c.attachments }

func (c *fakeChannel) SendPhoto(_ context.Context, disk, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.photos = append(c.photos, disk+":"+path)
	return nil
}

func (c *fakeChannel) Acknowledge(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = true
}

func (c *fakeChannel) Send(_ context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil && message != Apology {
		return c.sendErr
	}
	c.sent = append(c.sent, message)
	return nil
}

func (c *fakeChannel) SendAudio(_ context.Context, path, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c.audio = append(c.audio, string(data))
	c.captions = append(c.captions, caption)
	return nil
}

func (c *fakeChannel) Confirm(_ context.Context, message string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, message)
	if len(c.answers) == 0 {
		return false, nil
	}
	ok := c.answers[0]
	c.answers = c.answers[1:]
	return ok, nil
}

func (c *fakeChannel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

var _ domain.Channel = (*fakeChannel)(nil)

// scriptedProvider replays responses in order and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*domain.ChatResponse
	err       error
	panicMsg  string
	requests  []domain.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &domain.ChatResponse{Content: "ok"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Requests() []domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChatRequest(nil), p.requests...)
}

// fakeMemory is an in-memory domain.MemoryStore.
type fakeMemory struct {
	mu       sync.Mutex
	users    map[string]domain.User
	convs    map[string]*domain.Conversation
	messages map[string][]domain.MessageRecord
	clock    time.Time
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		users:    map[string]domain.User{},
		convs:    map[string]*domain.Conversation{},
		messages: map[string][]domain.MessageRecord{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *fakeMemory) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *fakeMemory) FirstOrCreateUser(_ context.Context, email, name string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	u := domain.User{ID: int64(len(m.users) + 1), Name: name, Email: email, CreatedAt: m.tick()}
	m.users[email] = u
	return u, nil
}

func (m *fakeMemory) CreateConversation(_ context.Context, conv domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[conv.ID]; ok {
		return fmt.Errorf("conversation %s exists", conv.ID)
	}
	now := m.tick()
	conv.CreatedAt, conv.UpdatedAt = now, now
	m.convs[conv.ID] = &conv
	return nil
}

func (m *fakeMemory) LatestConversation(_ context.Context, userID int64) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Conversation
	for _, c := range m.convs {
		if c.UserID != userID {
			continue
		}
		if latest == nil || c.UpdatedAt.After(latest.UpdatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *fakeMemory) TouchConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return errors.New("no such conversation")
	}
	c.UpdatedAt = m.tick()
	return nil
}

func (m *fakeMemory) AddMessage(_ context.Context, convID string, msg domain.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = int64(len(m.messages[convID]) + 1)
	msg.CreatedAt = m.tick()
	m.messages[convID] = append(m.messages[convID], msg)
	return nil
}

func (m *fakeMemory) GetMessages(_ context.Context, convID string, limit int) ([]domain.MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[convID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.MessageRecord(nil), msgs...), nil
}

func (m *fakeMemory) Ping(context.Context) error { return nil }
func (m *fakeMemory) Close() error               { return nil }

func (m *fakeMemory) Conversations() []domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *fakeMemory) Roles(convID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := make([]string, len(m.messages[convID]))
	for i, r := range m.messages[convID] {
		roles[i] = r.Role
	}
	return strings.Join(roles, ",")
}

var _ domain.MemoryStore = (*fakeMemory)(nil)

type fakeTranscriber struct {
	text string
	got  string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}
	f.got = string(data)
	return f.text, nil
}

type fakeSynth struct{}

func (fakeSynth) Synthesize(_ context.Context, text, _, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("mp3:" + text)), nil
}

func newTestStore(t *testing.T) (*attachment.Store, string) {
	t.Helper()
	root := t.TempDir()
	local, err := attachment.NewLocalDisk(root)
	require.NoError(t, err)
	store, err := attachment.NewStore(attachment.StoreConfig{
		Disks:       map[string]attachment.Disk{"local": local},
		Allowed:     []string{"local"},
		DefaultDisk: "local",
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	return store, root
}

func saveAttachment(t *testing.T, store *attachment.Store, name, mime, content string) domain.Attachment {
	t.Helper()
	a, err := store.Save(context.Background(), "test", name, mime, strings.NewReader(content))
	require.NoError(t, err)
	return a
}
