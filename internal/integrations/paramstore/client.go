package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
// Consumers (the Gemini client, the bot bootstrap) depend on this interface
// rather than the concrete *Client so they stay testable without AWS.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads decrypted SSM parameters and keeps successful reads for the
// lifetime of the process. Failed reads are retried on the next call.
type Client struct {
	api ssmAPI

	mu    sync.RWMutex
	cache map[string]string
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, cache: make(map[string]string)}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	c.mu.RLock()
	v, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}

	c.mu.Lock()
	if c.cache == nil {
		c.cache = make(map[string]string)
	}
	c.cache[name] = *out.Parameter.Value
	c.mu.Unlock()
	return *out.Parameter.Value, nil
}

// tokenPayload is the JSON shape stored for secret tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// Token reads parameter name and decodes it as {"token": "..."}.
func Token(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("paramstore: getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal %q as token JSON: %w", name, err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("paramstore: token in %q is empty", name)
	}
	return tp.Token, nil
}
