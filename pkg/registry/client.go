package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ncog-id/ncog/pkg/permissions"
	"github.com/ncog-id/ncog/pkg/protocol"
)

// DefaultOutboundBuffer is the per-session outbound queue depth.
const DefaultOutboundBuffer = 16

// Client is one connected session. Sends are best effort: a full or closed
// outbound queue drops the response rather than blocking the caller.
type Client struct {
	out chan protocol.Response

	mu             sync.RWMutex
	installationID *uuid.UUID
	account        *Account
	timing         NetworkTiming
	closed         bool
}

// NewClient creates a client with the given outbound buffer depth. A
// non-positive buffer falls back to DefaultOutboundBuffer.
func NewClient(buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultOutboundBuffer
	}
	return &Client{out: make(chan protocol.Response, buffer)}
}

// Out is the session's outbound queue. The connection's writer goroutine
// drains it until Close.
func (c *Client) Out() <-chan protocol.Response {
	return c.out
}

// Send enqueues a response. Reports false when the queue is full or the
// client is closed.
func (c *Client) Send(response protocol.Response) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- response:
		return true
	default:
		return false
	}
}

// Close shuts the outbound queue. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

// InstallationID returns the session's installation id, nil before the
// client has authenticated.
func (c *Client) InstallationID() *uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.installationID
}

func (c *Client) setInstallationID(installationID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.installationID = &installationID
}

// Account returns the attached account handle, nil for anonymous sessions.
func (c *Client) Account() *Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account
}

func (c *Client) setAccount(account *Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = account
}

// UpdateTiming folds a pong into the session's network timing.
func (c *Client) UpdateTiming(originalTimestamp, timestamp float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timing.Update(originalTimestamp, timestamp)
}

// Timing returns the current smoothed roundtrip and clock delta.
func (c *Client) Timing() (roundtrip, delta float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timing.AverageRoundtrip(), c.timing.AverageTimestampDelta()
}

// PermissionAllowed checks a claim against the attached account. Anonymous
// sessions are denied everything.
func (c *Client) PermissionAllowed(claim permissions.Claim) error {
	account := c.Account()
	if account == nil {
		return permissions.Denied(claim)
	}
	return account.PermissionAllowed(claim)
}
