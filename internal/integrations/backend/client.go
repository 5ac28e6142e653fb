// Package backend talks to the chat backend's REST API: conversation history
// for hydration and the processing notification sent after every message.
package backend

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
	"sync"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/usecase"
)

// historyEntry is one element of the history endpoint's response.
type historyEntry struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type chatRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	ImageBase64    string `json:"imageBase64,omitempty"`
}

// tokenPayload is the JSON shape of the SSM parameter holding the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// JSONGetter reads a JSON parameter. *paramstore.Client satisfies it.
type JSONGetter interface {
	GetJSON(ctx context.Context, name string, v any) error
}

// HTTPStatusError captures non-2xx responses from the backend.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("backend: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client implements usecase.HistoryFetcher and usecase.MessageSubmitter.
type Client struct {
	baseURL       string
	historyClient *http.Client
	submitClient  *http.Client
	getter        JSONGetter
	paramPrefix   string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

// WithHTTPClient replaces both HTTP clients.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.historyClient = httpClient
		c.submitClient = httpClient
	}
}

// WithHistoryTimeout bounds history requests. Submissions have no client
// timeout because backend processing can take as long as image generation.
func WithHistoryTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.historyClient = &http.Client{Timeout: d}
	}
}

// NewClient creates a Client for the backend at baseURL. The bearer token is
// read from SSM on first successful use and kept for the lifetime of the
// process; a failed read is retried on the next request.
func NewClient(getter JSONGetter, paramPrefix, baseURL string, opts ...Option) (*Client, error) {
	if getter == nil {
		return nil, errors.New("backend: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("backend: parameter prefix must not be empty")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base URL must not be empty")
	}
	c := &Client{
		baseURL:       baseURL,
		historyClient: &http.Client{Timeout: 10 * time.Second},
		submitClient:  &http.Client{},
		getter:        getter,
		paramPrefix:   paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/backend-token"
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	var tp tokenPayload
	if err := c.getter.GetJSON(ctx, c.tokenParameterName(), &tp); err != nil {
		return "", fmt.Errorf("backend: fetch token: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("backend: API token is empty")
	}
	c.token = tp.Token
	return c.token, nil
}

func (c *Client) historyURL(conversationID string) string {
	return c.baseURL + "/conversations/" + url.PathEscape(conversationID) + "/messages"
}

func (c *Client) chatURL() string {
	return c.baseURL + "/chat"
}

// FetchHistory returns the ordered REST history of a conversation.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]domain.HistoryRecord, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("backend: conversation id must not be empty")
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}

	u := c.historyURL(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: create history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	raw, err := doJSONRequest(c.historyClient, req, u)
	if err != nil {
		return nil, fmt.Errorf("backend: history request failed: %w", err)
	}

	var entries []historyEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("backend: decode history: %w", err)
	}
	out := make([]domain.HistoryRecord, 0, len(entries))
	for _, e := range entries {
		rec := domain.HistoryRecord{Role: domain.Role(strings.ToLower(e.Role)), Content: e.Content}
		if e.CreatedAt != nil {
			rec.CreatedAt = *e.CreatedAt
		}
		out = append(out, rec)
	}
	return out, nil
}

// SubmitMessage asks the backend to process a user message.
func (c *Client) SubmitMessage(ctx context.Context, in usecase.SubmitRequest) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(chatRequest{
		Content:        in.Content,
		ConversationID: in.ConversationID,
		ImageBase64:    in.ImageBase64,
	})
	if err != nil {
		return fmt.Errorf("backend: marshal chat request: %w", err)
	}

	u := c.chatURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("backend: create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := doJSONRequest(c.submitClient, req, u); err != nil {
		return fmt.Errorf("backend: chat request failed: %w", err)
	}
	return nil
}

func doJSONRequest(client *http.Client, req *http.Request, u string) ([]byte, error) {
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        u,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
