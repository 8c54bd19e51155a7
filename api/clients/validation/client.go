// Package validation is a Go client for the validation service RPC surface.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mlsvalidation/internal/domain"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	RequestID  func() string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

// WithRequestID sets a generator for the X-Request-ID header.
func WithRequestID(next func() string) Option {
	return func(c *Client) {
		c.RequestID = next
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// APIError is a whole-request failure returned by the service.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("validation service: status %d code %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether resending the same request may succeed.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

type GroupMessage struct {
	Data    []byte  `json:"data"`
	GroupID []byte  `json:"group_id,omitempty"`
	Epoch   *uint64 `json:"epoch,omitempty"`
}

type response[T any] struct {
	RequestID string `json:"request_id"`
	Verdicts  []T    `json:"verdicts"`
}

func (c *Client) ValidateKeyPackages(ctx context.Context, packages [][]byte) ([]domain.KeyPackageVerdict, error) {
	var out response[domain.KeyPackageVerdict]
	err := c.post(ctx, "/v1/key-packages:validate", map[string]any{"key_packages": packages}, &out)
	return out.Verdicts, err
}

func (c *Client) ValidateGroupMessages(ctx context.Context, messages []GroupMessage) ([]domain.MessageVerdict, error) {
	var out response[domain.MessageVerdict]
	err := c.post(ctx, "/v1/group-messages:validate", map[string]any{"group_messages": messages}, &out)
	return out.Verdicts, err
}

func (c *Client) ValidateIdentityUpdates(ctx context.Context, logs []domain.UpdateLog) ([]domain.AssociationStateVerdict, error) {
	var out response[domain.AssociationStateVerdict]
	err := c.post(ctx, "/v1/identity-updates:validate", map[string]any{"logs": logs}, &out)
	return out.Verdicts, err
}

func (c *Client) ValidateBatch(ctx context.Context, requests []domain.ValidationRequest) ([]domain.Verdict, error) {
	var out response[domain.Verdict]
	err := c.post(ctx, "/v1/validate", map[string]any{"requests": requests}, &out)
	return out.Verdicts, err
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if c == nil {
		return fmt.Errorf("validation client is nil")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("validation service base URL is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.RequestID != nil {
		if id := c.RequestID(); id != "" {
			req.Header.Set("X-Request-ID", id)
		}
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
		if jsonErr := json.Unmarshal(respBody, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = "UNKNOWN"
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
