// Package client provides a Go SDK for the buildloop HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/buildloop-io/buildloop/pkg/models"
)

// Client calls the buildloop HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:4711"
	APIKey     string       // optional; set for X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL. APIKey is optional; when set,
// requests carry the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

// ErrBuildInProgress is returned by StartBuild when the server already has a
// running build.
var ErrBuildInProgress = fmt.Errorf("a build is already in progress")

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if resp.StatusCode == http.StatusConflict {
			return ErrBuildInProgress
		}
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// Tickets returns the full ticket file.
func (c *Client) Tickets(ctx context.Context) (models.TicketFile, error) {
	var out models.TicketFile
	err := c.doJSON(ctx, http.MethodGet, "/tickets", nil, &out)
	return out, err
}

// ResetTickets sets every ticket back to todo.
func (c *Client) ResetTickets(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/tickets/reset", nil, nil)
}

// BuildOptions select the collaborator stages for one run.
type BuildOptions struct {
	Review bool `json:"review"`
	Test   bool `json:"test"`
}

// StartResult is the response to a successful StartBuild.
type StartResult struct {
	Started bool `json:"started"`
	Tickets int  `json:"tickets"`
}

// StartBuild triggers a build run. Returns ErrBuildInProgress if one is
// already running.
func (c *Client) StartBuild(ctx context.Context, opts BuildOptions) (StartResult, error) {
	var out StartResult
	err := c.doJSON(ctx, http.MethodPost, "/build", opts, &out)
	return out, err
}

// BuildState is the response to GET /build.
type BuildState struct {
	Building  bool            `json:"building"`
	LastBuild json.RawMessage `json:"lastBuild,omitempty"`
}

// Build returns the server's current build state.
func (c *Client) Build(ctx context.Context) (BuildState, error) {
	var out BuildState
	err := c.doJSON(ctx, http.MethodGet, "/build", nil, &out)
	return out, err
}

// StreamEvents subscribes to /events and invokes fn with each event payload
// (the JSON after "data: "). It returns when the context is cancelled, the
// stream ends, or fn returns an error.
func (c *Client) StreamEvents(ctx context.Context, fn func(data []byte) error) error {
	resp, err := c.do(ctx, http.MethodGet, "/events", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api GET /events: status %d", resp.StatusCode)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if err := fn([]byte(strings.TrimPrefix(line, "data: "))); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
