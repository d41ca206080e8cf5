package usecase

import (
	"context"
	"time"

	"agent-inbox/internal/domain"
	"agent-inbox/internal/integrations/webhook"
)

// ConversationStore persists threads. SaveConversation follows optimistic
// concurrency on Conversation.Version and returns repository.ErrConflict when
// the write lost a race.
type ConversationStore interface {
	GetConversation(ctx context.Context, threadID string) (domain.Conversation, bool, error)
	SaveConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error)
	ListConversations(ctx context.Context, userID, agentType string) ([]domain.Conversation, error)
	CountMessages(ctx context.Context, userID, agentType string) (int, error)
	DeleteConversation(ctx context.Context, userID, agentType, threadID string) (int, error)
	DeleteConversations(ctx context.Context, userID, agentType string) (int, error)
}

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	CreateUser(ctx context.Context, u domain.User) error
	UpdateUser(ctx context.Context, u domain.User) error
}

type Forwarder interface {
	Forward(ctx context.Context, url string, req webhook.Request) (webhook.Reply, error)
}

type TokenIssuer interface {
	Issue(userID string) (string, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// GoogleIdentity is the verified subset of a Google ID token.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

type GoogleVerifier interface {
	Verify(ctx context.Context, credential string) (GoogleIdentity, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

var now = func() time.Time {
	return time.Now().UTC()
}
