package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	noResponse     = "No response"
)

// Request is the JSON body posted to an agent webhook.
type Request struct {
	UserMessage string `json:"user_message"`
	UserID      string `json:"userId"`
}

// ReplySource names the field a reply was taken from.
type ReplySource string

const (
	SourceOutput  ReplySource = "output"
	SourceText    ReplySource = "text"
	SourceMessage ReplySource = "message"
	SourceRaw     ReplySource = "raw"
)

// Reply is the parsed webhook response.
type Reply struct {
	Text   string
	Source ReplySource
}

// HTTPStatusError captures non-2xx webhook responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("webhook: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client posts user messages to agent webhooks.
type Client struct {
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resolvedHTTPClient returns the configured HTTP client, or a default one if a
// caller nilled it out.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// Forward posts req to url and returns the agent's reply.
func (c *Client) Forward(ctx context.Context, url string, req Request) (Reply, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Reply{}, errors.New("webhook: url must not be empty")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("webhook: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("webhook: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.resolvedHTTPClient().Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("webhook: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Reply{}, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("webhook: read response body: %w", err)
	}
	return ParseReply(raw), nil
}

// ParseReply extracts the reply text from a webhook response body. Fields are
// tried in order: output, text, message. A JSON array uses its first element.
// Anything else falls back to the raw body as a string.
func ParseReply(raw []byte) Reply {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Reply{Text: noResponse, Source: SourceRaw}
	}

	var fields map[string]json.RawMessage
	var list []map[string]json.RawMessage
	switch {
	case json.Unmarshal(trimmed, &fields) == nil:
	case json.Unmarshal(trimmed, &list) == nil && len(list) > 0:
		fields = list[0]
	}

	for _, src := range []ReplySource{SourceOutput, SourceText, SourceMessage} {
		if text, ok := stringField(fields, string(src)); ok {
			return Reply{Text: text, Source: src}
		}
	}

	// A bare JSON string is unquoted; other JSON is kept serialized.
	var s string
	if json.Unmarshal(trimmed, &s) == nil && s != "" {
		return Reply{Text: s, Source: SourceRaw}
	}
	return Reply{Text: string(trimmed), Source: SourceRaw}
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
