package channel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"clawgate/internal/metrics"
)

type discordUpload struct {
	content string
	name    string
	data    string
}

type fakeDiscord struct {
	mu      sync.Mutex
	sent    []string
	typing  int
	uploads []discordUpload
}

func (f *fakeDiscord) ChannelMessageSend(_ string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return &discordgo.Message{}, nil
}

func (f *fakeDiscord) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeDiscord) ChannelFileSendWithMessage(_ string, content, name string, r io.Reader, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, discordUpload{content: content, name: name, data: string(data)})
	return &discordgo.Message{}, nil
}

func newDiscordTest(t *testing.T, guildID string) (*testEnv, *fakeDiscord, *DiscordAdapter) {
	t.Helper()
	te := newTestEnv(t)
	api := &fakeDiscord{}
	adapter := NewDiscordAdapter(DiscordAdapterConfig{
		GuildID:    guildID,
		Dispatcher: te.dispatcher,
		Fetcher:    te.fetcher,
		Logger:     testLogger(),
	})
	adapter.api = api
	return te, api, adapter
}

func TestDiscord_HandleMessage(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "png-bytes")
	}))
	defer files.Close()

	te, _, adapter := newDiscordTest(t, "")
	msg := &discordgo.Message{
		ChannelID: "D1",
		Content:   "look",
		Author:    &discordgo.User{ID: "u1"},
		Attachments: []*discordgo.MessageAttachment{
			{URL: files.URL + "/a/shot.png", Filename: "shot.png", ContentType: "image/png"},
		},
	}
	outcome, err := adapter.handleMessage(context.Background(), "bot", msg)
	if err != nil || outcome != metrics.InboundEnqueued {
		t.Fatalf("outcome = %q, %v", outcome, err)
	}
	tasks := te.queue.Tasks()
	if len(tasks) != 1 || tasks[0].Identifier() != "discord:D1" {
		t.Fatalf("tasks = %v", tasks)
	}
	atts := tasks[0].Attachments()
	if len(atts) != 1 || atts[0].MimeType != "image/png" || atts[0].Filename != "shot.png" {
		t.Errorf("attachments = %+v", atts)
	}
}

func TestDiscord_Ignores(t *testing.T) {
	tests := []struct {
		name string
		msg  *discordgo.Message
	}{
		{"own message", &discordgo.Message{ChannelID: "c", Content: "x", Author: &discordgo.User{ID: "bot"}}},
		{"other bot", &discordgo.Message{ChannelID: "c", Content: "x", Author: &discordgo.User{ID: "b2", Bot: true}}},
		{"other guild", &discordgo.Message{ChannelID: "c", GuildID: "g2", Content: "x", Author: &discordgo.User{ID: "u"}}},
		{"no author", &discordgo.Message{ChannelID: "c", Content: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te, _, adapter := newDiscordTest(t, "g1")
			outcome, _ := adapter.handleMessage(context.Background(), "bot", tt.msg)
			if outcome != metrics.InboundIgnored {
				t.Errorf("outcome = %q, want ignored", outcome)
			}
			if n := len(te.queue.Tasks()); n != 0 {
				t.Errorf("enqueued %d", n)
			}
		})
	}
}

func TestDiscord_DirectMessagePassesGuildFilter(t *testing.T) {
	te, _, adapter := newDiscordTest(t, "g1")
	msg := &discordgo.Message{ChannelID: "dm", Content: "hi", Author: &discordgo.User{ID: "u"}}
	if outcome, _ := adapter.handleMessage(context.Background(), "bot", msg); outcome != metrics.InboundEnqueued {
		t.Errorf("outcome = %q", outcome)
	}
	if n := len(te.queue.Tasks()); n != 1 {
		t.Errorf("enqueued %d", n)
	}
}

func TestDiscord_SendAndAudio(t *testing.T) {
	te, api, _ := newDiscordTest(t, "")
	ch := &Discord{Base: newBase(DiscordIdentifier("c1"), "", nil, te.env), channelID: "c1", api: api}
	ctx := context.Background()

	ch.Acknowledge(ctx)
	if api.typing != 1 {
		t.Errorf("typing = %d", api.typing)
	}

	if err := ch.Send(ctx, strings.Repeat("y", 4500)); err != nil {
		t.Fatal(err)
	}
	if len(api.sent) != 3 {
		t.Errorf("chunks = %d, want 3", len(api.sent))
	}

	audio := filepath.Join(t.TempDir(), "reply.mp3")
	os.WriteFile(audio, []byte("mp3"), 0o644)
	if err := ch.SendAudio(ctx, audio, "listen"); err != nil {
		t.Fatal(err)
	}
	if len(api.uploads) != 1 || api.uploads[0].content != "listen" || api.uploads[0].name != "reply.mp3" {
		t.Errorf("uploads = %+v", api.uploads)
	}
}

func TestDiscord_SendPhotoFromStore(t *testing.T) {
	te, api, _ := newDiscordTest(t, "")
	ctx := context.Background()
	att, err := te.store.Save(ctx, "generated", "chart.png", "image/png", strings.NewReader("png"))
	if err != nil {
		t.Fatal(err)
	}
	ch := &Discord{Base: newBase(DiscordIdentifier("c1"), "", nil, te.env), channelID: "c1", api: api}
	if err := ch.SendPhoto(ctx, att.Disk, att.Path); err != nil {
		t.Fatal(err)
	}
	if len(api.uploads) != 1 || api.uploads[0].name != "chart.png" || api.uploads[0].data != "png" {
		t.Errorf("uploads = %+v", api.uploads)
	}
}
