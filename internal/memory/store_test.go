package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawgate/internal/domain"
)

// exerciseStore runs the behaviour every domain.MemoryStore must share.
func exerciseStore(t *testing.T, store domain.MemoryStore) {
	ctx := context.Background()
	email := "telegram-" + uuid.NewString() + "@bot.local"

	t.Run("FirstOrCreateUserIsIdempotent", func(t *testing.T) {
		u1, err := store.FirstOrCreateUser(ctx, email, "telegram:42")
		require.NoError(t, err)
		u2, err := store.FirstOrCreateUser(ctx, email, "another name")
		require.NoError(t, err)
		assert.Equal(t, u1.ID, u2.ID)
		assert.Equal(t, "telegram:42", u2.Name)
	})

	t.Run("LatestConversation", func(t *testing.T) {
		user, err := store.FirstOrCreateUser(ctx, email, "telegram:42")
		require.NoError(t, err)

		latest, err := store.LatestConversation(ctx, user.ID)
		require.NoError(t, err)
		assert.Nil(t, latest)

		older := domain.Conversation{ID: uuid.NewString(), UserID: user.ID, Channel: "telegram:42", Title: "first",
			CreatedAt: time.Now().Add(-time.Hour)}
		newer := domain.Conversation{ID: uuid.NewString(), UserID: user.ID, Channel: "telegram:42", Title: "second"}
		require.NoError(t, store.CreateConversation(ctx, older))
		require.NoError(t, store.CreateConversation(ctx, newer))

		latest, err = store.LatestConversation(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, newer.ID, latest.ID)
		assert.Equal(t, "telegram:42", latest.Channel)

		// A new message moves the older conversation to the top.
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, store.AddMessage(ctx, older.ID, domain.MessageRecord{Role: "user", Content: "back again"}))
		latest, err = store.LatestConversation(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, older.ID, latest.ID)
	})

	t.Run("GetMessagesReturnsNewestInOrder", func(t *testing.T) {
		user, err := store.FirstOrCreateUser(ctx, email, "telegram:42")
		require.NoError(t, err)
		conv := domain.Conversation{ID: uuid.NewString(), UserID: user.ID, Title: "history"}
		require.NoError(t, store.CreateConversation(ctx, conv))

		for _, c := range []string{"one", "two", "three", "four"} {
			require.NoError(t, store.AddMessage(ctx, conv.ID, domain.MessageRecord{Role: "user", Content: c}))
		}
		require.NoError(t, store.AddMessage(ctx, conv.ID, domain.MessageRecord{
			Role: "assistant", ToolCalls: `[{"id":"c1","name":"files"}]`,
		}))
		require.NoError(t, store.AddMessage(ctx, conv.ID, domain.MessageRecord{
			Role: "tool", Content: "ok", ToolCallID: "c1", ToolName: "files",
		}))

		msgs, err := store.GetMessages(ctx, conv.ID, 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "four", msgs[0].Content)
		assert.Equal(t, "assistant", msgs[1].Role)
		assert.Contains(t, msgs[1].ToolCalls, "files")
		assert.Equal(t, "c1", msgs[2].ToolCallID)
		assert.Equal(t, "files", msgs[2].ToolName)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "memory.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	exerciseStore(t, store)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CLAWGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CLAWGATE_TEST_POSTGRES_DSN not set")
	}
	store, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	exerciseStore(t, store)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, testLogger())
	assert.ErrorContains(t, err, "unknown memory driver")
}
