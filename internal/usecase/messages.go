package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"agent-inbox/internal/domain"
	"agent-inbox/internal/integrations/webhook"
	"agent-inbox/internal/metrics"
	"agent-inbox/internal/repository"
)

const (
	// DefaultMessageLimit is the per user and agent cap: ten round trips.
	DefaultMessageLimit = 20
	defaultMaxBodyLen   = 10000
	echoPrefix          = "Echo: "
)

type MessageService struct {
	store          ConversationStore
	forwarder      Forwarder
	agents         domain.Directory
	defaultWebhook string
	limit          int
	maxBodyLen     int
	logger         zerolog.Logger
}

type MessageOption func(*MessageService)

// WithDefaultWebhook sets the webhook used for agents without their own.
func WithDefaultWebhook(u string) MessageOption {
	return func(s *MessageService) {
		s.defaultWebhook = strings.TrimSpace(u)
	}
}

// WithMessageLimit overrides DefaultMessageLimit. Non-positive values are ignored.
func WithMessageLimit(n int) MessageOption {
	return func(s *MessageService) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithLogger(l zerolog.Logger) MessageOption {
	return func(s *MessageService) {
		s.logger = l
	}
}

type SendInput struct {
	UserID     string
	AgentType  string
	ThreadID   string
	Subject    string
	Body       string
	WebhookURL string
}

type SendOutput struct {
	ThreadID string
	Response string
	// MessageCount is the user's total with this agent after the send.
	MessageCount int
}

type ListOutput struct {
	Conversations []domain.Conversation
	MessageCount  int
	LimitReached  bool
}

type ClearInput struct {
	UserID    string
	AgentType string
	// ThreadID narrows the clear to one thread when set.
	ThreadID string
}

func NewMessageService(store ConversationStore, fwd Forwarder, agents domain.Directory, opts ...MessageOption) (*MessageService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if fwd == nil {
		return nil, errors.New("usecase: forwarder must not be nil")
	}
	s := &MessageService{
		store:      store,
		forwarder:  fwd,
		agents:     agents,
		limit:      DefaultMessageLimit,
		maxBodyLen: defaultMaxBodyLen,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Limit returns the configured per agent message cap.
func (s *MessageService) Limit() int {
	return s.limit
}

// Send appends the user message to its thread, forwards it to the agent's
// webhook and persists the thread with both messages. Nothing is written when
// the webhook fails.
func (s *MessageService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	agentKey := strings.TrimSpace(in.AgentType)
	body := strings.TrimSpace(in.Body)
	if userID == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	agent, ok := s.agents.Lookup(agentKey)
	if !ok {
		return SendOutput{}, newError(ErrorInvalidInput, "unknown_agent", nil)
	}
	if body == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_body", nil)
	}
	if len(body) > s.maxBodyLen {
		return SendOutput{}, newError(ErrorInvalidInput, "body_too_long", nil)
	}
	target, err := s.resolveWebhook(in.WebhookURL, agent)
	if err != nil {
		return SendOutput{}, err
	}

	count, err := s.store.CountMessages(ctx, userID, agent.Key)
	if err != nil {
		return SendOutput{}, newError(ErrorInternal, "count_error", err)
	}
	if count >= s.limit {
		metrics.LimitRejections.WithLabelValues(agent.Key).Inc()
		return SendOutput{}, newError(ErrorLimitReached, "message_limit_reached", nil)
	}

	conv, err := s.loadOrCreate(ctx, userID, agent.Key, in.ThreadID, in.Subject)
	if err != nil {
		return SendOutput{}, err
	}
	conv.Append(domain.NewUserMessage(agent, body, now()))

	reply, source, err := s.reply(ctx, target, userID, body)
	if err != nil {
		return SendOutput{}, err
	}
	conv.Append(domain.NewAgentMessage(agent, reply, now()))

	if _, err := s.store.SaveConversation(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.SaveConflicts.Inc()
			return SendOutput{}, newError(ErrorConflict, "thread_modified", err)
		}
		s.logger.Error().Err(err).Str("thread_id", conv.ThreadID).Msg("persist conversation failed")
		return SendOutput{}, newError(ErrorInternal, "persist_error", err)
	}
	metrics.MessagesSent.WithLabelValues(agent.Key, source).Inc()

	return SendOutput{
		ThreadID:     conv.ThreadID,
		Response:     reply,
		MessageCount: count + 2,
	}, nil
}

// resolveWebhook picks the request URL, then the agent's, then the default.
// An empty result means echo mode.
func (s *MessageService) resolveWebhook(requested string, agent domain.Agent) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		u, err := url.Parse(requested)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", newError(ErrorInvalidInput, "invalid_webhook_url", err)
		}
		return requested, nil
	}
	if agent.Webhook != "" {
		return agent.Webhook, nil
	}
	return s.defaultWebhook, nil
}

func (s *MessageService) loadOrCreate(ctx context.Context, userID, agentKey, threadID, subject string) (domain.Conversation, error) {
	threadID = strings.TrimSpace(threadID)
	subject = strings.TrimSpace(subject)
	if threadID != "" {
		conv, found, err := s.store.GetConversation(ctx, threadID)
		if err != nil {
			return domain.Conversation{}, newError(ErrorInternal, "load_error", err)
		}
		if found {
			if !conv.OwnedBy(userID, agentKey) {
				return domain.Conversation{}, newError(ErrorConflict, "thread_owned_elsewhere", nil)
			}
			return conv, nil
		}
	} else {
		threadID = newThreadID()
	}
	if subject == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "empty_subject", nil)
	}
	return domain.Conversation{
		ThreadID:  threadID,
		UserID:    userID,
		AgentType: agentKey,
		Subject:   subject,
		CreatedAt: now(),
	}, nil
}

func (s *MessageService) reply(ctx context.Context, target, userID, body string) (string, string, error) {
	if target == "" {
		return echoPrefix + body, "echo", nil
	}
	start := time.Now()
	reply, err := s.forwarder.Forward(ctx, target, webhook.Request{UserMessage: body, UserID: userID})
	metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		reason := "transport"
		if status, ok := upstreamStatusCode(err); ok {
			reason = "status"
			s.logger.Warn().Int("status", status).Str("webhook", target).Msg("webhook returned error status")
		} else {
			s.logger.Warn().Err(err).Str("webhook", target).Msg("webhook request failed")
		}
		metrics.WebhookFailures.WithLabelValues(reason).Inc()
		return "", "", newError(ErrorUpstream, "webhook_"+reason+"_error", err)
	}
	return reply.Text, "webhook", nil
}

// List returns the user's threads with one agent, newest first, with the
// agent-wide message count.
func (s *MessageService) List(ctx context.Context, userID, agentType string) (ListOutput, error) {
	userID = strings.TrimSpace(userID)
	agentType = strings.TrimSpace(agentType)
	if userID == "" || agentType == "" {
		return ListOutput{}, newError(ErrorInvalidInput, "missing_user_or_agent", nil)
	}
	convs, err := s.store.ListConversations(ctx, userID, agentType)
	if err != nil {
		return ListOutput{}, newError(ErrorInternal, "list_error", err)
	}
	total := 0
	for _, c := range convs {
		total += len(c.Messages)
	}
	return ListOutput{
		Conversations: convs,
		MessageCount:  total,
		LimitReached:  total >= s.limit,
	}, nil
}

// Clear deletes one thread or every thread of the user with one agent and
// returns how many were removed.
func (s *MessageService) Clear(ctx context.Context, in ClearInput) (int, error) {
	userID := strings.TrimSpace(in.UserID)
	agentType := strings.TrimSpace(in.AgentType)
	threadID := strings.TrimSpace(in.ThreadID)
	if userID == "" || agentType == "" {
		return 0, newError(ErrorInvalidInput, "missing_user_or_agent", nil)
	}

	var (
		n   int
		err error
	)
	if threadID != "" {
		n, err = s.store.DeleteConversation(ctx, userID, agentType, threadID)
	} else {
		n, err = s.store.DeleteConversations(ctx, userID, agentType)
	}
	if err != nil {
		return 0, newError(ErrorInternal, "delete_error", err)
	}
	return n, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newThreadID = func() string {
	return fmt.Sprintf("thread_%d", now().UnixMilli())
}
