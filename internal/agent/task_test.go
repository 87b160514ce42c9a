package agent

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawgate/internal/attachment"
	"clawgate/internal/command"
	"clawgate/internal/coordination"
	"clawgate/internal/domain"
	"clawgate/internal/metrics"
	"clawgate/internal/tool"
)

type harness struct {
	proc        *Processor
	provider    *scriptedProvider
	memory      *fakeMemory
	store       *attachment.Store
	root        string
	metrics     *metrics.Collector
	transcriber *fakeTranscriber
}

func newHarness(t *testing.T, provider *scriptedProvider) *harness {
	t.Helper()
	store, root := newTestStore(t)
	mem := newFakeMemory()
	coord := coordination.NewMemoryStore()
	m := metrics.New()

	commands := command.NewRegistry()
	commands.Register(command.NewNewConversation(coord))
	commands.Register(command.NewHelp(commands))

	responder := NewResponder(ResponderConfig{
		Provider: provider,
		Memory:   mem,
		Toolbox: tool.NewToolbox(tool.ToolboxConfig{
			Store:  store,
			Speech: fakeSynth{},
			Logger: testLogger(),
		}),
		Logger:            testLogger(),
		RequestsPerMinute: 6000,
	})
	h := &harness{
		provider:    provider,
		memory:      mem,
		store:       store,
		root:        root,
		metrics:     m,
		transcriber: &fakeTranscriber{},
	}
	h.proc = NewProcessor(ProcessorConfig{
		Responder:    responder,
		Commands:     commands,
		Store:        store,
		Memory:       mem,
		Coordination: coord,
		Transcriber:  h.transcriber,
		Logger:       testLogger(),
		Metrics:      m,
	})
	return h
}

func (h *harness) run(ch *fakeChannel) string {
	return h.proc.Run(context.Background(), ch)
}

func lastUserMessage(t *testing.T, req domain.ChatRequest) domain.Message {
	t.Helper()
	require.NotEmpty(t, req.Messages)
	msg := req.Messages[len(req.Messages)-1]
	require.Equal(t, "user", msg.Role)
	return msg
}

func TestProcessor_RepliesOnce(t *testing.T) {
	h := newHarness(t, &scriptedProvider{responses: []*domain.ChatResponse{{Content: "Hi there!"}}})
	ch := &fakeChannel{id: "telegram:42", text: "hello"}

	outcome := h.run(ch)

	assert.Equal(t, metrics.TaskReplied, outcome)
	assert.True(t, ch.acked)
	assert.Equal(t, []string{"Hi there!"}, ch.Sent())

	reqs := h.provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "system", reqs[0].Messages[0].Role)
	assert.Equal(t, "hello", lastUserMessage(t, reqs[0]).Content)
	assert.Empty(t, lastUserMessage(t, reqs[0]).Attachments)

	convs := h.memory.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "hello", convs[0].Title)
	assert.Equal(t, "telegram:42", convs[0].Channel)
	assert.Equal(t, "user,assistant", h.memory.Roles(convs[0].ID))

	u, err := h.memory.FirstOrCreateUser(context.Background(), "telegram-42@bot.local", "x")
	require.NoError(t, err)
	assert.Equal(t, "telegram:42", u.Name)

	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `clawgate_tasks_total{outcome="replied",protocol="telegram"} 1`)
}

func TestProcessor_ContinuesLatestConversation(t *testing.T) {
	h := newHarness(t, &scriptedProvider{responses: []*domain.ChatResponse{{Content: "first"}, {Content: "second"}}})

	h.run(&fakeChannel{id: "slack:C1", text: "one"})
	h.run(&fakeChannel{id: "slack:C1", text: "two"})

	require.Len(t, h.memory.Conversations(), 1)
	reqs := h.provider.Requests()
	require.Len(t, reqs, 2)
	roles := make([]string, 0, len(reqs[1].Messages))
	for _, m := range reqs[1].Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
	assert.Equal(t, "first", reqs[1].Messages[2].Content)
}

func TestProcessor_CommandShortCircuitsAndResets(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	h.run(&fakeChannel{id: "slack:C1", text: "hello"})

	ch := &fakeChannel{id: "slack:C1", text: "!new reset everything"}
	assert.Equal(t, metrics.TaskCommand, h.run(ch))
	assert.Equal(t, []string{"Conversation reset. How can I help you?"}, ch.Sent())
	assert.Len(t, h.provider.Requests(), 1, "commands never reach the responder")

	h.run(&fakeChannel{id: "slack:C1", text: "fresh start"})
	convs := h.memory.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "fresh start", convs[1].Title)
	reqs := h.provider.Requests()
	assert.Len(t, reqs[1].Messages, 2, "a reset conversation has no history")

	// The reset is one-shot.
	h.run(&fakeChannel{id: "slack:C1", text: "and more"})
	assert.Len(t, h.memory.Conversations(), 2)
}

func TestProcessor_NotACommand(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	ch := &fakeChannel{id: "slack:C1", text: "!newsletter please"}
	assert.Equal(t, metrics.TaskReplied, h.run(ch))
	assert.Len(t, h.provider.Requests(), 1)
}

func TestProcessor_RunsToolsSequentially(t *testing.T) {
	h := newHarness(t, &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{
			{ID: "c1", Name: "files", Arguments: map[string]any{"operation": "write", "disk": "local", "path": "notes.txt", "content": "hi"}},
			{ID: "c2", Name: "files", Arguments: map[string]any{"operation": "delete", "disk": "local", "path": "notes.txt"}},
		}},
		{Content: "Saved your note."},
	}})
	ch := &fakeChannel{id: "discord:7", text: "remember hi", answers: []bool{false}}

	require.Equal(t, metrics.TaskReplied, h.run(ch))
	assert.Equal(t, []string{"Saved your note."}, ch.Sent())
	assert.Equal(t, []string{`Delete "notes.txt" from disk "local"?`}, ch.prompts)

	data, err := os.ReadFile(filepath.Join(h.root, "notes.txt"))
	require.NoError(t, err, "denied delete must keep the file")
	assert.Equal(t, "hi", string(data))

	reqs := h.provider.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, domain.Message{Role: "tool", Content: "Written to notes.txt.", ToolCallID: "c1", ToolName: "files"}, msgs[3])
	assert.Equal(t, tool.CancelledByUser, msgs[4].Content)

	conv := h.memory.Conversations()[0]
	assert.Equal(t, "user,assistant,tool,tool,assistant", h.memory.Roles(conv.ID))
}

func TestProcessor_ToolCallsInContent(t *testing.T) {
	h := newHarness(t, &scriptedProvider{responses: []*domain.ChatResponse{
		{Content: "Sure.\n{\"name\": \"file\", \"arguments\": {\"operation\": \"exists\", \"disk\": \"local\", \"path\": \"x\"}}"},
		{Content: "assistant\nNo such file."},
	}})
	ch := &fakeChannel{id: "terminal:1", text: "is x there?"}

	h.run(ch)
	assert.Equal(t, []string{"No such file."}, ch.Sent())
	reqs := h.provider.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, "files", last.ToolName)
	assert.Equal(t, "File does not exist: x", last.Content)
}

func TestProcessor_SendsPendingAudio(t *testing.T) {
	h := newHarness(t, &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "t1", Name: "text_to_speech", Arguments: map[string]any{"text": "good morning"}}}},
		{Content: "Here it is."},
	}})
	ch := &fakeChannel{id: "telegram:42", text: "say good morning"}

	assert.Equal(t, metrics.TaskReplied, h.run(ch))
	assert.Empty(t, ch.Sent())
	assert.Equal(t, []string{"mp3:good morning"}, ch.audio)
	assert.Equal(t, []string{"Here it is."}, ch.captions)
}

func TestProcessor_SendsToolPhotoAfterReply(t *testing.T) {
	h := newHarness(t, &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "t1", Name: "image", Arguments: map[string]any{
			"operation": "resize", "disk": "local", "path": "cat.png", "width": 4.0,
		}}}},
		{Content: "Resized it."},
	}})
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "cat.png"), buf.Bytes(), 0o644))
	ch := &fakeChannel{id: "telegram:42", text: "make it smaller"}

	assert.Equal(t, metrics.TaskReplied, h.run(ch))
	assert.Equal(t, []string{"Resized it."}, ch.Sent())
	assert.Equal(t, []string{"local:cat_resized.png"}, ch.photos)
}

func TestProcessor_NoPhotoWithoutImageTool(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	ch := &fakeChannel{id: "telegram:42", text: "hello"}

	assert.Equal(t, metrics.TaskReplied, h.run(ch))
	assert.Empty(t, ch.photos)
}

func TestProcessor_FailureApologisesAndCleansUp(t *testing.T) {
	h := newHarness(t, &scriptedProvider{err: errors.New("model unavailable")})
	doc := saveAttachment(t, h.store, "notes.txt", "text/plain", "some notes")
	ch := &fakeChannel{id: "email:a@example.com", text: "summarise", attachments: []domain.Attachment{doc}}

	assert.Equal(t, metrics.TaskFailed, h.run(ch))
	assert.Equal(t, []string{Apology}, ch.Sent())

	exists, err := h.store.Exists(context.Background(), doc.Disk, doc.Path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProcessor_PanicIsRecovered(t *testing.T) {
	h := newHarness(t, &scriptedProvider{panicMsg: "boom"})
	ch := &fakeChannel{id: "slack:C1", text: "hello"}

	assert.Equal(t, metrics.TaskFailed, h.run(ch))
	assert.Equal(t, []string{Apology}, ch.Sent())
}

func TestProcessor_SendFailureApologises(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	ch := &fakeChannel{id: "slack:C1", text: "hello", sendErr: errors.New("channel_not_found")}

	assert.Equal(t, metrics.TaskFailed, h.run(ch))
	assert.Equal(t, []string{Apology}, ch.Sent())
}

func TestProcessor_TranscribesAudio(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	h.transcriber.text = "what time is it"
	voice := saveAttachment(t, h.store, "voice.ogg", "audio/ogg", "OGG")
	ch := &fakeChannel{id: "telegram:42", attachments: []domain.Attachment{voice}}

	assert.Equal(t, metrics.TaskReplied, h.run(ch))
	assert.Equal(t, "OGG", h.transcriber.got)

	msg := lastUserMessage(t, h.provider.Requests()[0])
	assert.Equal(t, "what time is it", msg.Content)
	assert.Empty(t, msg.Attachments, "audio is not passed to the model")

	exists, _ := h.store.Exists(context.Background(), voice.Disk, voice.Path)
	assert.False(t, exists)
}

func TestProcessor_TranslatesAttachments(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	img := saveAttachment(t, h.store, "cat.png", "image/png", "PNG")
	doc := saveAttachment(t, h.store, "todo.txt", "text/plain", "buy milk")
	video := saveAttachment(t, h.store, "clip.mp4", "video/mp4", "MP4")
	ch := &fakeChannel{id: "slack:C1", text: "look", attachments: []domain.Attachment{img, doc, video}}

	h.run(ch)
	msg := lastUserMessage(t, h.provider.Requests()[0])
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, domain.KindImage, msg.Attachments[0].Kind)
	assert.Equal(t, []byte("PNG"), msg.Attachments[0].Data)
	assert.Equal(t, "local:"+img.Path, msg.Attachments[0].Source)
	assert.Equal(t, "buy milk", msg.Attachments[1].Text)

	system := h.provider.Requests()[0].Messages[0].Content
	assert.Contains(t, system, img.Path)
	for _, a := range ch.attachments {
		exists, _ := h.store.Exists(context.Background(), a.Disk, a.Path)
		assert.False(t, exists, a.Path)
	}
}

func TestProcessor_SkipsWhenNothingToAnswer(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	video := saveAttachment(t, h.store, "clip.mp4", "video/mp4", "MP4")
	ch := &fakeChannel{id: "slack:C1", attachments: []domain.Attachment{video}}

	assert.Equal(t, metrics.TaskSkipped, h.run(ch))
	assert.Empty(t, ch.Sent())
	assert.Empty(t, h.provider.Requests())
	exists, _ := h.store.Exists(context.Background(), video.Disk, video.Path)
	assert.False(t, exists)
}
