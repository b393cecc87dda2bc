package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggrep/ggrep/pkg/version"
)

// Client is a persistent connection to one daemon. It performs the
// mandatory handshake once on first use and then reuses the connection
// for every subsequent ping/status/query/shutdown call.
type Client struct {
	socketPath        string
	timeout           time.Duration
	storeID           string
	configFingerprint string
	clientID          string
	maxRequestBytes   int
	maxResponseBytes  int

	requestID atomic.Uint64

	mu        sync.Mutex
	conn      net.Conn
	handshook bool
}

// NewClient creates a client bound to the given store's socket path.
func NewClient(cfg Config, socketPath, storeID, configFingerprint, clientID string) *Client {
	return &Client{
		socketPath:        socketPath,
		timeout:            cfg.Timeout,
		storeID:           storeID,
		configFingerprint: configFingerprint,
		clientID:          clientID,
		maxRequestBytes:   cfg.MaxRequestBytes,
		maxResponseBytes:  cfg.MaxResponseBytes,
	}
}

// IsRunning checks whether a daemon is accepting connections for this
// store without performing the full handshake.
func (c *Client) IsRunning() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.handshook = false
	return err
}

// Ping round-trips a ping request.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	return c.call(ctx, MethodPing, struct{}{}, &result)
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.call(ctx, MethodStatus, struct{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Query sends a query request and returns the ranked, capped result set.
func (c *Client) Query(ctx context.Context, params QueryParams) (*QueryResultWire, error) {
	var result QueryResultWire
	if err := c.call(ctx, MethodQuery, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Shutdown asks the daemon to stop accepting new work and exit.
func (c *Client) Shutdown(ctx context.Context) error {
	var result PingResult
	return c.call(ctx, MethodShutdown, struct{}{}, &result)
}

func (c *Client) call(ctx context.Context, method Method, params, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("daemon client: set deadline: %w", err)
	}

	req, err := newRequest(method, c.nextID(), params)
	if err != nil {
		_ = c.resetLocked()
		return err
	}

	resp, err := c.roundTripLocked(*req)
	if err != nil {
		_ = c.resetLocked()
		return err
	}

	return resp.decodeInto(out)
}

// ensureConn dials and performs the mandatory handshake if not already
// connected. Must be called with c.mu held.
func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil && c.handshook {
		return nil
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return fmt.Errorf("daemon client: connect: %w", err)
	}
	c.conn = conn

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("daemon client: set deadline: %w", err)
	}

	hp := HandshakeParams{
		ProtocolVersions:  SupportedProtocolVersions,
		StoreID:           c.storeID,
		ConfigFingerprint: c.configFingerprint,
		ClientID:          c.clientID,
		Capabilities:      []string{"query", "status"},
	}
	req, err := newRequest(MethodHandshake, c.nextID(), hp)
	if err != nil {
		return err
	}

	resp, err := c.roundTripLocked(*req)
	if err != nil {
		return err
	}

	var result HandshakeResult
	if err := resp.decodeInto(&result); err != nil {
		return fmt.Errorf("daemon client: handshake rejected: %w", err)
	}
	if result.BinaryVersion != "" && result.BinaryVersion != version.Version {
		// Version skew is expected across a long-lived daemon's life; the
		// handshake's version negotiation, not this check, is authoritative.
		_ = result.BinaryVersion
	}

	c.handshook = true
	return nil
}

func (c *Client) roundTripLocked(req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("daemon client: marshal request: %w", err)
	}
	if err := WriteFrame(c.conn, body, c.maxRequestBytes); err != nil {
		return nil, fmt.Errorf("daemon client: write request: %w", err)
	}

	frame, err := ReadFrame(c.conn, c.maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("daemon client: read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, fmt.Errorf("daemon client: decode response: %w", err)
	}
	return &resp, nil
}

// resetLocked drops the connection so the next call redials and
// re-handshakes. Must be called with c.mu held.
func (c *Client) resetLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.handshook = false
	return err
}

func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
