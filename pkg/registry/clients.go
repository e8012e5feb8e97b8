// Package registry tracks connected WebSocket sessions and the accounts
// behind them. Clients indexes sessions by installation id; Accounts caches
// one shared handle per connected account so permission refreshes reach all
// of an account's sessions at once.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ncog-id/ncog/pkg/metrics"
	"github.com/ncog-id/ncog/pkg/protocol"
)

// ErrSessionClosed is returned by AssociateAccount when the session
// disconnected while the account was loading.
var ErrSessionClosed = errors.New("registry: session closed")

// Clients is the connected-session registry.
type Clients struct {
	mu                     sync.RWMutex
	clients                map[uuid.UUID]*Client
	installationsByAccount map[int64]map[uuid.UUID]struct{}
	accountByInstallation  map[uuid.UUID]int64

	accounts *Accounts
	log      zerolog.Logger
}

// NewClients creates the registry.
func NewClients(accounts *Accounts, log zerolog.Logger) *Clients {
	return &Clients{
		clients:                make(map[uuid.UUID]*Client),
		installationsByAccount: make(map[int64]map[uuid.UUID]struct{}),
		accountByInstallation:  make(map[uuid.UUID]int64),
		accounts:               accounts,
		log:                    log,
	}
}

// Accounts returns the account cache behind the registry.
func (r *Clients) Accounts() *Accounts {
	return r.accounts
}

// Connect registers an authenticated session under its installation id. A
// second session presenting the same installation id replaces the first,
// which is closed.
func (r *Clients) Connect(installationID uuid.UUID, client *Client) {
	client.setInstallationID(installationID)

	r.mu.Lock()
	previous := r.clients[installationID]
	r.clients[installationID] = client
	metrics.ConnectedSessions.Set(float64(len(r.clients)))
	r.mu.Unlock()

	if previous != nil && previous != client {
		previous.Close()
	}
}

// AssociateAccount attaches the installation's account to its session,
// loading the account through the cache. If the session disconnected during
// the load, the association is abandoned and the cache entry is dropped when
// no other session holds it.
func (r *Clients) AssociateAccount(ctx context.Context, installationID uuid.UUID) (*Account, error) {
	account, err := r.accounts.Connect(ctx, installationID)
	if err != nil {
		return nil, err
	}
	accountID := account.ID()

	r.mu.Lock()
	client := r.clients[installationID]
	if client == nil {
		orphaned := len(r.installationsByAccount[accountID]) == 0
		r.mu.Unlock()
		if orphaned {
			r.accounts.FullyDisconnected(accountID)
		}
		return nil, ErrSessionClosed
	}

	// A disconnect of the account's last other session may have evicted the
	// handle between the Connect above and this critical section. Reattach
	// converges on the canonical handle before the session is recorded, so
	// the cache always tracks every associated session's handle.
	account = r.accounts.reattach(account)
	client.setAccount(account)
	r.accountByInstallation[installationID] = accountID
	set := r.installationsByAccount[accountID]
	if set == nil {
		set = make(map[uuid.UUID]struct{})
		r.installationsByAccount[accountID] = set
	}
	set[installationID] = struct{}{}
	r.mu.Unlock()

	return account, nil
}

// Disconnect removes a session. The departing client must identify itself:
// when the installation id has already been taken over by a replacement
// session, the stale client only closes itself and the replacement's
// registration stays intact. When the departing session was the account's
// last, the account handle is dropped from the cache.
func (r *Clients) Disconnect(installationID uuid.UUID, client *Client) {
	r.mu.Lock()
	if r.clients[installationID] != client {
		r.mu.Unlock()
		if client != nil {
			client.Close()
		}
		return
	}
	delete(r.clients, installationID)
	metrics.ConnectedSessions.Set(float64(len(r.clients)))

	var fullyDisconnected *int64
	if accountID, ok := r.accountByInstallation[installationID]; ok {
		delete(r.accountByInstallation, installationID)
		if set := r.installationsByAccount[accountID]; set != nil {
			delete(set, installationID)
			if len(set) == 0 {
				delete(r.installationsByAccount, accountID)
				fullyDisconnected = &accountID
			}
		}
	}
	r.mu.Unlock()

	if fullyDisconnected != nil {
		r.accounts.FullyDisconnected(*fullyDisconnected)
	}
	if client != nil {
		client.Close()
	}
}

// SendToInstallationID delivers a response to one session, if connected.
func (r *Clients) SendToInstallationID(installationID uuid.UUID, response protocol.Response) {
	r.mu.RLock()
	client := r.clients[installationID]
	r.mu.RUnlock()

	if client != nil && !client.Send(response) {
		r.log.Warn().Str("installation_id", installationID.String()).Msg("send dropped")
	}
}

// SendToAccountID delivers a response to every session of an account.
func (r *Clients) SendToAccountID(accountID int64, response protocol.Response) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.installationsByAccount[accountID]))
	for installationID := range r.installationsByAccount[accountID] {
		if client := r.clients[installationID]; client != nil {
			targets = append(targets, client)
		}
	}
	r.mu.RUnlock()

	for _, client := range targets {
		client.Send(response)
	}
}

// Ping pushes a timing probe to every session with its current estimates.
func (r *Clients) Ping() {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		targets = append(targets, client)
	}
	r.mu.RUnlock()

	for _, client := range targets {
		roundtrip, delta := client.Timing()
		client.Send(protocol.Response{
			Type: protocol.ResponsePing,
			Ping: &protocol.Ping{
				Timestamp:                   protocol.Timestamp(),
				AverageRoundtrip:            roundtrip,
				AverageServerTimestampDelta: delta,
			},
		})
	}
}

// Len returns the number of connected sessions.
func (r *Clients) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// RoleUpdated refreshes every connected account holding the role and fans
// the refreshed state out to their sessions.
func (r *Clients) RoleUpdated(ctx context.Context, roleID int64) {
	r.accounts.RoleUpdated(ctx, roleID, r.SendToAccountID)
}

// AccountUpdated refreshes one connected account. Membership changes arrive
// this way: a grant cannot be routed by role id because the grantee's cached
// set does not hold the role yet.
func (r *Clients) AccountUpdated(ctx context.Context, accountID int64) {
	account := r.accounts.Get(accountID)
	if account == nil {
		return
	}
	go r.accounts.Refresh(ctx, account, r.SendToAccountID)
}
