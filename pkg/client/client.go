// Package client is the Go SDK for the mhive daemon. A Client carries one
// exploration session across calls.
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
	"strconv"
	"sync"
	"time"

	"github.com/rmax-ai/mhive/pkg/graph"
)

const sessionHeader = "X-Session-ID"

// ErrNotFound is returned by Entity when the daemon has no detail document.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	StatusCode int
	Code       string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("mhive: %d %s: %s", e.StatusCode, e.Code, e.Reason)
	}
	return fmt.Sprintf("mhive: %d %s", e.StatusCode, e.Code)
}

// Is maps a 404 to ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsUnavailable reports whether err means the daemon could not load its
// snapshot data.
func IsUnavailable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable
}

// Client is the mhive SDK client.
type Client struct {
	endpoint string
	http     *http.Client

	mu         sync.Mutex
	sessionID  string
	adminToken string
}

// NewClient creates a new mhive client.
// endpoint defaults to "http://127.0.0.1:8090" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetSession pins the session id sent with every request. An empty id lets
// the daemon issue one on the next call.
func (c *Client) SetSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Session returns the session id in use, "" before the first call.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetAdminToken sets the bearer token sent to admin endpoints.
func (c *Client) SetAdminToken(token string) {
	c.mu.Lock()
	c.adminToken = token
	c.mu.Unlock()
}

// Health checks the health of the daemon.
func (c *Client) Health(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &status)
	return status, err
}

// Graph returns the renderer view of the session.
func (c *Client) Graph(ctx context.Context) (*GraphView, error) {
	var view GraphView
	if err := c.do(ctx, http.MethodGet, "/v1/graph", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// State returns the session's exploration state.
func (c *Client) State(ctx context.Context) (State, error) {
	var resp stateResponse
	err := c.do(ctx, http.MethodGet, "/v1/state", nil, &resp)
	return resp.State, err
}

// Select expands the graph around id. It reports false when the daemon did
// not know the id; the state is then unchanged.
func (c *Client) Select(ctx context.Context, id string) (bool, State, error) {
	return c.selectNode(ctx, map[string]string{"id": id})
}

// SelectFragment selects the node named by a deep-link fragment such as
// "#incident-0001".
func (c *Client) SelectFragment(ctx context.Context, fragment string) (bool, State, error) {
	return c.selectNode(ctx, map[string]string{"fragment": fragment})
}

func (c *Client) selectNode(ctx context.Context, body map[string]string) (bool, State, error) {
	var resp stateResponse
	if err := c.do(ctx, http.MethodPost, "/v1/select", body, &resp); err != nil {
		return false, State{}, err
	}
	return resp.Selected != nil && *resp.Selected, resp.State, nil
}

// SetFilter replaces the session filter. The displayed set is reseeded.
func (c *Client) SetFilter(ctx context.Context, f Filter) (State, error) {
	if f.Categories == nil {
		f.Categories = []string{}
	}
	if f.Eras == nil {
		f.Eras = []string{}
	}
	var resp stateResponse
	err := c.do(ctx, http.MethodPost, "/v1/filter", f, &resp)
	return resp.State, err
}

// Reset returns the session to its initial slice.
func (c *Client) Reset(ctx context.Context) (State, error) {
	var resp stateResponse
	err := c.do(ctx, http.MethodPost, "/v1/reset", nil, &resp)
	return resp.State, err
}

// NavigateBreadcrumb jumps back to breadcrumb position index.
func (c *Client) NavigateBreadcrumb(ctx context.Context, index int) (State, error) {
	var resp stateResponse
	err := c.do(ctx, http.MethodPost, "/v1/breadcrumb", map[string]int{"index": index}, &resp)
	return resp.State, err
}

// Entity fetches the detail document of id. A miss returns an error
// matching ErrNotFound.
func (c *Client) Entity(ctx context.Context, id string) (graph.Entity, error) {
	t, ok := graph.TypeFromID(id)
	if !ok {
		return nil, fmt.Errorf("unknown entity type for id %q: %w", id, ErrNotFound)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/entities/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	return graph.DecodeEntity(t, raw)
}

// Search returns index entries matching query under the session filter.
// limit <= 0 takes the daemon default.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]graph.IndexEntry, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp searchResponse
	if err := c.do(ctx, http.MethodGet, "/v1/search?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Categories returns the category tree with incident counts.
func (c *Client) Categories(ctx context.Context) (*Categories, error) {
	var resp Categories
	if err := c.do(ctx, http.MethodGet, "/v1/categories", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Neighborhood returns up to limit ids within depth hops of id.
func (c *Client) Neighborhood(ctx context.Context, id string, depth, limit int) ([]string, error) {
	q := url.Values{}
	if depth > 0 {
		q.Set("depth", strconv.Itoa(depth))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/neighborhood/" + url.PathEscape(id)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp neighborhoodResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// ClearCache drops a daemon cache tier: categories, index, relations,
// details or all.
func (c *Client) ClearCache(ctx context.Context, tier string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/cache/clear?tier="+url.QueryEscape(tier), nil, nil)
}

// Reload asks the daemon to refetch its snapshot data.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/reload", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.Lock()
	if c.sessionID != "" {
		req.Header.Set(sessionHeader, c.sessionID)
	}
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(sessionHeader); id != "" {
		c.mu.Lock()
		c.sessionID = id
		c.mu.Unlock()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			apiErr.Code = e.Error
			apiErr.Reason = e.Reason
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
