package gemini

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

	"postcraft/internal/domain"
	"postcraft/internal/integrations/paramstore"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// generateRequest is the minimal request shape for models.generateContent.
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// generateResponse is the subset of the generateContent response we read.
type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the Gemini generateContent endpoint. Each call is attempted
// once; callers bound it with the context deadline.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client that reads its API key from the parameter store
// on every call. paramstore.Client caches the value after the first success.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) keyParameterName() string {
	return c.paramPrefix + "/gemini-api-key"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func generateURL(baseURL, model string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/models/" + url.PathEscape(model) + ":generateContent"
}

// Generate submits prompt to model and returns the first candidate's text with
// the call's token usage.
func (c *Client) Generate(ctx context.Context, model, prompt string) (domain.Generation, error) {
	if strings.TrimSpace(model) == "" {
		return domain.Generation{}, errors.New("gemini: model must not be empty")
	}

	apiKey, err := paramstore.Token(ctx, c.getter, c.keyParameterName())
	if err != nil {
		return domain.Generation{}, fmt.Errorf("gemini: resolve api key: %w", err)
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return domain.Generation{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := generateURL(c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Generation{}, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	raw, err := c.doJSONRequest(req, endpoint)
	if err != nil {
		return domain.Generation{}, fmt.Errorf("gemini: request failed: %w", err)
	}

	var payload generateResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Generation{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(payload.Candidates) == 0 {
		if payload.PromptFeedback != nil && payload.PromptFeedback.BlockReason != "" {
			return domain.Generation{}, fmt.Errorf("gemini: prompt blocked: %s", payload.PromptFeedback.BlockReason)
		}
		return domain.Generation{}, errors.New("gemini: no candidates in response")
	}

	var text strings.Builder
	for _, p := range payload.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return domain.Generation{}, fmt.Errorf("gemini: empty candidate (finish reason %q)", payload.Candidates[0].FinishReason)
	}

	return domain.Generation{
		Text: text.String(),
		Usage: domain.Usage{
			PromptTokens:     payload.UsageMetadata.PromptTokenCount,
			CompletionTokens: payload.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      payload.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (c *Client) doJSONRequest(req *http.Request, endpoint string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
