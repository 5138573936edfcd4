// Package indexao is a Go client for the adapter management REST API.
package indexao

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the adapter management API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Plugin describes an adapter found by discovery.
type Plugin struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
	Enabled      bool     `json:"enabled"`
	Priority     int      `json:"priority"`
}

// ActiveAdapter names the active adapter of a kind. Name is empty when none is.
type ActiveAdapter struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// SwitchResult is returned by Switch. Active differs from the requested name
// when the server fell back to the mock adapter.
type SwitchResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Active  string `json:"active"`
}

// SwitchEvent records one change of the active adapter.
type SwitchEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryQuery filters History. Zero values mean no filter.
type HistoryQuery struct {
	Type      string
	Limit     int
	Persisted bool
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("indexao api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("indexao api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the API. When httpClient is nil, a
// default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// ListPlugins lists discoverable adapters, optionally of one type.
func (c *Client) ListPlugins(ctx context.Context, adapterType string) ([]Plugin, error) {
	q := url.Values{}
	if adapterType != "" {
		q.Set("kind", adapterType)
	}
	var out []Plugin
	if err := c.get(ctx, "/api/plugins", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveAdapters returns the active adapter of every type.
func (c *Client) ActiveAdapters(ctx context.Context) ([]ActiveAdapter, error) {
	var out []ActiveAdapter
	if err := c.get(ctx, "/api/plugins/active", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveAdapter returns the active adapter of adapterType.
func (c *Client) ActiveAdapter(ctx context.Context, adapterType string) (ActiveAdapter, error) {
	var out ActiveAdapter
	endpoint := "/api/plugins/" + url.PathEscape(adapterType) + "/active"
	if err := c.get(ctx, endpoint, nil, &out); err != nil {
		return ActiveAdapter{}, err
	}
	return out, nil
}

// Switch activates name for adapterType, loading it on the server if needed.
func (c *Client) Switch(ctx context.Context, adapterType, name string) (SwitchResult, error) {
	payload := map[string]string{"adapter_type": adapterType, "adapter_name": name}
	var out SwitchResult
	if err := c.post(ctx, "/api/plugins/switch", payload, &out); err != nil {
		return SwitchResult{}, err
	}
	return out, nil
}

// Registered returns the registered adapter names by type.
func (c *Client) Registered(ctx context.Context) (map[string][]string, error) {
	out := map[string][]string{}
	if err := c.get(ctx, "/api/plugins/registered", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns switch events, oldest first.
func (c *Client) History(ctx context.Context, query HistoryQuery) ([]SwitchEvent, error) {
	q := url.Values{}
	if query.Type != "" {
		q.Set("kind", query.Type)
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Persisted {
		q.Set("persisted", "true")
	}
	var out struct {
		History []SwitchEvent `json:"history"`
	}
	if err := c.get(ctx, "/api/plugins/history", q, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
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
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
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
