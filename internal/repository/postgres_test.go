package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"agent-inbox/internal/domain"
)

func TestEncodeDecodeMessages(t *testing.T) {
	conv := sampleConversation()
	raw, err := encodeMessages(conv.Messages)
	require.NoError(t, err)
	require.Contains(t, raw, `"role":"user"`)
	require.Contains(t, raw, `"role":"assistant"`)

	msgs, err := decodeMessages([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, conv.Messages, msgs)
}

func TestEncodeMessages_NilIsEmptyArray(t *testing.T) {
	raw, err := encodeMessages(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", raw)
}

func TestDecodeMessages_Malformed(t *testing.T) {
	_, err := decodeMessages([]byte(`{"not":"a list"}`))
	require.ErrorContains(t, err, "decode messages")
}

// newTestPostgres connects to TEST_DATABASE_URL or skips.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestPostgresStore_ConversationLifecycle(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	userID := uuid.NewString()

	conv := sampleConversation()
	conv.ThreadID = "thread_" + uuid.NewString()
	conv.UserID = userID

	saved, err := s.SaveConversation(ctx, conv)
	require.NoError(t, err)
	require.Equal(t, 1, saved.Version)

	// A second create for the same thread id loses.
	_, err = s.SaveConversation(ctx, conv)
	require.ErrorIs(t, err, ErrConflict)

	agent := domain.Agent{Key: "vendor", Email: "vendor@merlion.com"}
	saved.Append(domain.NewUserMessage(agent, "again", time.Now()), domain.NewAgentMessage(agent, "Echo: again", time.Now()))
	saved, err = s.SaveConversation(ctx, saved)
	require.NoError(t, err)
	require.Equal(t, 2, saved.Version)

	got, found, err := s.GetConversation(ctx, conv.ThreadID)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.Messages, 4)

	n, err := s.CountMessages(ctx, userID, "vendor")
	require.NoError(t, err)
	require.Equal(t, 4, n)

	deleted, err := s.DeleteConversations(ctx, userID, "vendor")
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}

func TestPostgresStore_Users(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	u := sampleUser()
	u.ID = uuid.NewString()
	u.Email = u.ID + "@example.com"
	require.NoError(t, s.CreateUser(ctx, u))
	require.ErrorIs(t, s.CreateUser(ctx, u), ErrUserExists)

	u.Picture = "https://example.com/p.png"
	require.NoError(t, s.UpdateUser(ctx, u))

	got, found, err := s.GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, u.Picture, got.Picture)
}
