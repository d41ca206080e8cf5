// Package client is a typed HTTP client for the inbox backend API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agent-inbox/internal/domain"
)

// CodeLimitReached is the error code the backend returns once the per agent
// message cap is hit.
const CodeLimitReached = "LIMIT_REACHED"

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("client: backend error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("client: backend error %d: %s", e.StatusCode, e.Message)
}

// IsLimitReached reports whether err is the backend's message cap error.
func IsLimitReached(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeLimitReached
}

// Client talks to the backend. Token, when set, is sent as a bearer token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type SendRequest struct {
	UserID     string `json:"userId,omitempty"`
	AgentType  string `json:"agentType"`
	ThreadID   string `json:"threadId"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	WebhookURL string `json:"webhookUrl,omitempty"`
}

type SendResponse struct {
	ThreadID     string `json:"threadId"`
	Response     string `json:"response"`
	MessageCount int    `json:"messageCount"`
}

type Conversation struct {
	ThreadID  string           `json:"threadId"`
	Subject   string           `json:"subject"`
	Messages  []domain.Message `json:"messages"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type History struct {
	Conversations []Conversation `json:"conversations"`
	MessageCount  int            `json:"messageCount"`
	LimitReached  bool           `json:"limitReached"`
}

type Session struct {
	Token string         `json:"token"`
	User  domain.Profile `json:"user"`
}

// envelope is the common response wrapper; ok=false carries error and code.
type envelope struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	var out SendResponse
	err := c.do(ctx, http.MethodPost, "/messages/send", req, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, userID, agentType string) (History, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("userId", userID)
	}
	q.Set("agentType", agentType)
	var out History
	err := c.do(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, &out)
	return out, err
}

// Clear deletes one thread, or every thread with the agent when threadID is empty.
func (c *Client) Clear(ctx context.Context, userID, agentType, threadID string) (int, error) {
	body := map[string]string{"agentType": agentType}
	if userID != "" {
		body["userId"] = userID
	}
	if threadID != "" {
		body["threadId"] = threadID
	}
	var out struct {
		Deleted int `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "/messages/clear", body, &out)
	return out.Deleted, err
}

func (c *Client) Signup(ctx context.Context, username, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/signup", map[string]string{
		"username": username, "email": email, "password": password,
	}, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email": email, "password": password,
	}, &out)
	return out, err
}

func (c *Client) GoogleLogin(ctx context.Context, credential string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/google", map[string]string{"credential": credential}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	var env envelope
	envErr := json.Unmarshal(respBody, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || (envErr == nil && env.OK != nil && !*env.OK) {
		msg := env.Error
		if envErr != nil || msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg, Code: env.Code}
	}
	if envErr != nil {
		return fmt.Errorf("client: malformed response: %w", envErr)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("client: decode response: %w", err)
		}
	}
	return nil
}
