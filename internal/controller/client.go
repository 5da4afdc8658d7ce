// Package controller implements the HTTP client for the controller API
// (spec §4.2): listing server status and issuing start/stop requests. The
// client itself never retries — retry policy belongs to the monitor loop,
// which is the only caller.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrorKind classifies a Client error so the monitor can decide whether to
// retry, back off, or surface a machine as degraded.
type ErrorKind int

const (
	// ErrKindUnknown is never returned; it exists so the zero value of
	// ErrorKind is distinguishable from a real classification.
	ErrKindUnknown ErrorKind = iota
	ErrKindTransientNetwork
	ErrKindAuthDenied
	ErrKindNotFound
	ErrKindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransientNetwork:
		return "transient_network"
	case ErrKindAuthDenied:
		return "auth_denied"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error wraps a controller API failure with its classification.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("controller: %s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Status is one server's reported run state, as returned by list_status.
type Status struct {
	Running     bool
	PlayerCount int
}

// Config configures a Client. BaseURL and Token are required. Timeout falls
// back to 10s when zero; BulkStatus is used as given, so an unset value
// means per-server status calls (internal/config applies the true default).
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	BulkStatus bool
}

const defaultTimeout = 10 * time.Second

// Client talks to the controller's v2 HTTP API. It is safe for concurrent
// use; the monitor loop in practice calls it from a single goroutine.
type Client struct {
	baseURL    string
	token      string
	bulkStatus bool
	http       *http.Client
}

// New builds a Client from cfg. BaseURL must already be a valid absolute
// URL — validation happens at config-load time (internal/config), not here.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    trimTrailingSlash(cfg.BaseURL),
		token:      cfg.Token,
		bulkStatus: cfg.BulkStatus,
		http:       &http.Client{Timeout: timeout},
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

type bulkStatusEntry struct {
	ServerID      string `json:"server_id"`
	Running       bool   `json:"running"`
	OnlinePlayers int    `json:"online_players"`
}

// ListStatusBulk fetches the status of every server from a single endpoint
// (GET /api/v2/servers), for controllers that support it
// (controller.bulk_status = true, per SPEC_FULL.md §4.2).
func (c *Client) ListStatusBulk(ctx context.Context) (map[string]Status, error) {
	var entries []bulkStatusEntry
	if err := c.getJSON(ctx, "list_status", "/api/v2/servers", &entries); err != nil {
		return nil, err
	}
	out := make(map[string]Status, len(entries))
	for _, e := range entries {
		out[e.ServerID] = Status{Running: e.Running, PlayerCount: e.OnlinePlayers}
	}
	return out, nil
}

type statsResponse struct {
	Running       bool `json:"running"`
	OnlinePlayers int  `json:"online_players"`
}

// ListStatusOne fetches a single server's status
// (GET /api/v2/servers/{id}/stats), used when the controller does not
// support bulk listing.
func (c *Client) ListStatusOne(ctx context.Context, serverID string) (Status, error) {
	var resp statsResponse
	path := fmt.Sprintf("/api/v2/servers/%s/stats", serverID)
	if err := c.getJSON(ctx, "list_status", path, &resp); err != nil {
		return Status{}, err
	}
	return Status{Running: resp.Running, PlayerCount: resp.OnlinePlayers}, nil
}

// BulkStatus reports whether this client is configured to use the bulk
// listing endpoint; the monitor consults it to pick ListStatusBulk vs a
// fan-out of ListStatusOne calls.
func (c *Client) BulkStatus() bool { return c.bulkStatus }

// Start asks the controller to begin starting serverID. It returns once the
// controller has accepted the request; it does not wait for the server to
// come online.
func (c *Client) Start(ctx context.Context, serverID string) error {
	path := fmt.Sprintf("/api/v2/servers/%s/action/start_server", serverID)
	return c.postAction(ctx, "start", path)
}

// Stop asks the controller to begin stopping serverID, with the same
// fire-and-forget contract as Start.
func (c *Client) Stop(ctx context.Context, serverID string) error {
	path := fmt.Sprintf("/api/v2/servers/%s/action/stop_server", serverID)
	return c.postAction(ctx, "stop", path)
}

func (c *Client) postAction(ctx context.Context, op, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return newError(op, ErrKindProtocol, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return newError(op, ErrKindTransientNetwork, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return classifyStatus(op, resp.StatusCode)
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return newError(op, ErrKindProtocol, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return newError(op, ErrKindTransientNetwork, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(op, resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(op, ErrKindProtocol, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
}

func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(op, ErrKindAuthDenied, fmt.Errorf("status %d", status))
	case status == http.StatusNotFound:
		return newError(op, ErrKindNotFound, fmt.Errorf("status %d", status))
	default:
		return newError(op, ErrKindTransientNetwork, fmt.Errorf("status %d", status))
	}
}

// IsKind reports whether err (or something it wraps) is a *Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind == k
	}
	return false
}
