// Package hub talks to the HuggingFace Hub model listing API.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public HuggingFace Hub.
	DefaultBaseURL = "https://huggingface.co"

	// DefaultUserAgent identifies this client to the hub.
	DefaultUserAgent = "offgrid-t2i/0.1.0"

	// TextToImage is the pipeline tag used by the lister when no filter is given.
	TextToImage = "text-to-image"

	maxErrorBody = 3000
)

// ErrNotFound is returned when the hub answers 404.
var ErrNotFound = errors.New("hub: not found")

// Model represents a model record returned by the hub
type Model struct {
	ID           string    `json:"id"`
	ModelID      string    `json:"modelId"`
	Author       string    `json:"author,omitempty"`
	Downloads    int64     `json:"downloads"`
	Likes        int       `json:"likes"`
	Tags         []string  `json:"tags"`
	PipelineTag  string    `json:"pipeline_tag"`
	LibraryName  string    `json:"library_name"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
	Private      bool      `json:"private"`
	Gated        any       `json:"gated,omitempty"` // false or "auto"/"manual"
	SHA          string    `json:"sha,omitempty"`
}

// Identifier returns modelId, falling back to id for newer hub responses.
func (m Model) Identifier() string {
	if m.ModelID != "" {
		return m.ModelID
	}
	return m.ID
}

// IsGated reports whether the model requires access approval.
func (m Model) IsGated() bool {
	switch v := m.Gated.(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false"
	default:
		return false
	}
}

// ListOptions narrows a listing request. Only non-zero fields are sent.
type ListOptions struct {
	Filter string // tag or pipeline filter, e.g. "text-to-image"
	Search string // substring match on the model id
	Author string // restrict to one organisation or user
	Sort   string // downloads, likes, lastModified, createdAt
	Limit  int
}

// APIError is a non-2xx answer from the hub.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("hub API error %d", e.StatusCode)
	}
	return fmt.Sprintf("hub API error %d: %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 answers.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// HTTPClient is the subset of *http.Client used by Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client handles HuggingFace Hub API interactions
type Client struct {
	client    HTTPClient
	baseURL   string
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another hub (or a test server).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) {
		if h != nil {
			c.client = h
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a new hub API client
func NewClient(opts ...Option) *Client {
	c := &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the hub root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListModels issues a single listing request and returns the records in the
// order the hub sent them.
func (c *Client) ListModels(ctx context.Context, opts ListOptions) ([]Model, error) {
	params := url.Values{}
	if opts.Filter != "" {
		params.Set("filter", opts.Filter)
	}
	if opts.Search != "" {
		params.Set("search", opts.Search)
	}
	if opts.Author != "" {
		params.Set("author", opts.Author)
	}
	if opts.Sort != "" {
		params.Set("sort", opts.Sort)
		params.Set("direction", "-1")
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	listURL := c.baseURL + "/api/models"
	if len(params) > 0 {
		listURL += "?" + params.Encode()
	}

	var models []Model
	if err := c.getJSON(ctx, listURL, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModel fetches one model record by id ("owner/name").
func (c *Client) GetModel(ctx context.Context, id string) (*Model, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("model id is required")
	}

	var model Model
	if err := c.getJSON(ctx, c.baseURL+"/api/models/"+escapeRepoID(id), &model); err != nil {
		return nil, err
	}
	return &model, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
		return &APIError{StatusCode: resp.StatusCode, Body: trimBody(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// escapeRepoID escapes each path segment but keeps the owner/name slash.
func escapeRepoID(id string) string {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func trimBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
