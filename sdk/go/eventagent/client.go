// Package eventagent is a small Go client for the event agent webhook API.
// Services use it to trigger the agent with custom events or to forward
// database change notifications.
package eventagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Agent runs can take several LLM round trips, so it is longer than a typical
// API timeout.
const DefaultHTTPTimeout = 5 * time.Minute

// Status values returned by the webhook.
const (
	StatusProcessed = "processed"
	StatusIgnored   = "ignored"
)

// Client wraps the HTTP interactions with the agent service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	secret string
}

// StoreChange mirrors the payload emitted by database webhooks.
type StoreChange struct {
	Type      string         `json:"type"`
	Table     string         `json:"table"`
	Schema    string         `json:"schema,omitempty"`
	Record    map[string]any `json:"record,omitempty"`
	OldRecord map[string]any `json:"old_record,omitempty"`
}

// CustomEvent is an application defined trigger.
type CustomEvent struct {
	EventType string `json:"event_type"`
	Context   any    `json:"context,omitempty"`
}

// WebhookResponse is the outcome of a webhook call. Ignored events carry a
// Reason; processed events carry the run summary.
type WebhookResponse struct {
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	Iterations int      `json:"iterations,omitempty"`
	Actions    int      `json:"actions,omitempty"`
	Summary    []string `json:"summary,omitempty"`
}

// Processed reports whether the agent ran for the event.
func (r WebhookResponse) Processed() bool { return r.Status == StatusProcessed }

// Health describes the running agent.
type Health struct {
	Status  string   `json:"status"`
	Agent   string   `json:"agent"`
	Version string   `json:"version"`
	Tools   []string `json:"tools"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Details != "" {
		return fmt.Sprintf("eventagent api error (%d): %s - %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("eventagent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the agent service. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// SetSecret sets the shared webhook secret sent as a bearer token.
func (c *Client) SetSecret(secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secret = secret
}

// Health calls the health endpoint.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return Health{}, err
	}
	if err := c.do(req, &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

// SendCustomEvent triggers the agent with an application defined event.
func (c *Client) SendCustomEvent(ctx context.Context, eventType string, eventContext any) (WebhookResponse, error) {
	if eventType == "" {
		return WebhookResponse{}, fmt.Errorf("eventagent: event type is required")
	}
	return c.send(ctx, CustomEvent{EventType: eventType, Context: eventContext})
}

// SendStoreChange forwards a database change notification.
func (c *Client) SendStoreChange(ctx context.Context, change StoreChange) (WebhookResponse, error) {
	if change.Type == "" || change.Table == "" {
		return WebhookResponse{}, fmt.Errorf("eventagent: change type and table are required")
	}
	return c.send(ctx, change)
}

func (c *Client) send(ctx context.Context, payload any) (WebhookResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return WebhookResponse{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/webhook", bytes.NewReader(body))
	if err != nil {
		return WebhookResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out WebhookResponse
	if err := c.do(req, &out); err != nil {
		return WebhookResponse{}, err
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	secret := c.secret
	c.mu.RUnlock()
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
