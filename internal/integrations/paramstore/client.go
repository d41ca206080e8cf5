package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// tokenPayload is the optional JSON envelope a secret may be stored in.
type tokenPayload struct {
	Token string `json:"token"`
}

// Client reads secrets stored under a common parameter prefix. Values are
// fetched once and cached for the lifetime of the process.
type Client struct {
	api    ssmAPI
	prefix string

	mu    sync.Mutex
	cache map[string]string
}

// New creates a Client reading parameters below prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: parameter prefix must not be empty")
	}
	return &Client{api: api, prefix: prefix, cache: make(map[string]string)}, nil
}

// GetParameter returns the decrypted value of the fully qualified parameter name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Secret resolves <prefix>/<key>. A value stored as {"token":"..."} is
// unwrapped; any other value is returned trimmed.
func (c *Client) Secret(ctx context.Context, key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("paramstore: secret key is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache[key]; ok {
		return v, nil
	}

	raw, err := c.GetParameter(ctx, c.prefix+"/"+key)
	if err != nil {
		return "", err
	}
	value, err := unwrapSecret(raw)
	if err != nil {
		return "", fmt.Errorf("paramstore: secret %q: %w", key, err)
	}
	c.cache[key] = value
	return value, nil
}

func unwrapSecret(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("unmarshal secret value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("secret is empty")
	}
	return raw, nil
}
