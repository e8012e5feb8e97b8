package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ncog-id/ncog/pkg/metrics"
	"github.com/ncog-id/ncog/pkg/permissions"
	"github.com/ncog-id/ncog/pkg/protocol"
)

// AccountSource loads profiles and compiled permissions. The gorm store
// satisfies it.
type AccountSource interface {
	GetProfileByInstallationID(ctx context.Context, installationID uuid.UUID) (protocol.UserProfile, error)
	GetProfileByAccountID(ctx context.Context, accountID int64) (protocol.UserProfile, error)
	LoadPermissionsFor(ctx context.Context, accountID int64) (*permissions.PermissionSet, error)
}

// Account is the shared in-memory state for one connected account. Every
// session of the account holds the same *Account, so a background refresh is
// visible to all of them at once.
type Account struct {
	mu          sync.RWMutex
	profile     protocol.UserProfile
	permissions *permissions.PermissionSet
}

// ID returns the account id.
func (a *Account) ID() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.profile.ID
}

// Profile returns the current profile.
func (a *Account) Profile() protocol.UserProfile {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.profile
}

// Permissions returns the current compiled permission set.
func (a *Account) Permissions() *permissions.PermissionSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.permissions
}

// Snapshot returns the profile and permission set read under one lock, so
// the pair is consistent.
func (a *Account) Snapshot() (protocol.UserProfile, *permissions.PermissionSet) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.profile, a.permissions
}

func (a *Account) replace(profile protocol.UserProfile, set *permissions.PermissionSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profile = profile
	a.permissions = set
}

// PermissionAllowed checks a claim against the account's permission set.
func (a *Account) PermissionAllowed(claim permissions.Claim) error {
	set := a.Permissions()
	if set == nil {
		return permissions.Denied(claim)
	}
	err := set.Check(claim)
	if err != nil {
		metrics.PermissionChecks.WithLabelValues("denied").Inc()
		return err
	}
	metrics.PermissionChecks.WithLabelValues("allowed").Inc()
	return nil
}

// Accounts caches one Account handle per connected account id.
type Accounts struct {
	mu     sync.RWMutex
	byID   map[int64]*Account
	source AccountSource
	log    zerolog.Logger
}

// NewAccounts creates the cache.
func NewAccounts(source AccountSource, log zerolog.Logger) *Accounts {
	return &Accounts{
		byID:   make(map[int64]*Account),
		source: source,
		log:    log,
	}
}

// Connect resolves the installation's account and returns its cached handle,
// loading profile and permissions only when the account is not already
// connected. Concurrent connects for the same account converge on a single
// handle.
func (a *Accounts) Connect(ctx context.Context, installationID uuid.UUID) (*Account, error) {
	profile, err := a.source.GetProfileByInstallationID(ctx, installationID)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	existing := a.byID[profile.ID]
	a.mu.RUnlock()
	if existing != nil {
		return existing, nil
	}

	set, err := a.source.LoadPermissionsFor(ctx, profile.ID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing := a.byID[profile.ID]; existing != nil {
		return existing, nil
	}
	account := &Account{profile: profile, permissions: set}
	a.byID[profile.ID] = account
	metrics.ConnectedAccounts.Set(float64(len(a.byID)))
	return account, nil
}

// reattach reinstates a handle that a concurrent disconnect evicted between
// the caller obtaining it and recording its session, returning the canonical
// handle for the account. When another connect already rebuilt the entry,
// the rebuilt handle wins so every session of the account keeps sharing one.
func (a *Accounts) reattach(account *Account) *Account {
	accountID := account.ID()
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing := a.byID[accountID]; existing != nil {
		return existing
	}
	a.byID[accountID] = account
	metrics.ConnectedAccounts.Set(float64(len(a.byID)))
	return account
}

// Get returns the cached handle for an account id, nil when not connected.
func (a *Accounts) Get(accountID int64) *Account {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.byID[accountID]
}

// FullyDisconnected drops the handle once the account's last session is
// gone.
func (a *Accounts) FullyDisconnected(accountID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byID, accountID)
	metrics.ConnectedAccounts.Set(float64(len(a.byID)))
}

// Len returns the number of connected accounts.
func (a *Accounts) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byID)
}

// RoleUpdated refreshes every connected account holding the role. Each
// affected account refreshes in its own goroutine; send delivers the new
// authenticated state to the account's sessions. Failures are logged, never
// propagated.
func (a *Accounts) RoleUpdated(ctx context.Context, roleID int64, send func(accountID int64, response protocol.Response)) {
	a.mu.RLock()
	var affected []*Account
	for _, account := range a.byID {
		set := account.Permissions()
		if set != nil && set.HasRole(roleID) {
			affected = append(affected, account)
		}
	}
	a.mu.RUnlock()

	for _, account := range affected {
		go a.refresh(ctx, account, send)
	}
}

// Refresh reloads one account and pushes the result to its sessions.
func (a *Accounts) Refresh(ctx context.Context, account *Account, send func(accountID int64, response protocol.Response)) {
	a.refresh(ctx, account, send)
}

func (a *Accounts) refresh(ctx context.Context, account *Account, send func(accountID int64, response protocol.Response)) {
	accountID := account.ID()
	profile, err := a.source.GetProfileByAccountID(ctx, accountID)
	if err != nil {
		metrics.RoleRefreshes.WithLabelValues("error").Inc()
		a.log.Error().Err(err).Int64("account_id", accountID).Msg("refresh: profile load failed")
		return
	}
	set, err := a.source.LoadPermissionsFor(ctx, accountID)
	if err != nil {
		metrics.RoleRefreshes.WithLabelValues("error").Inc()
		a.log.Error().Err(err).Int64("account_id", accountID).Msg("refresh: permissions load failed")
		return
	}
	account.replace(profile, set)
	metrics.RoleRefreshes.WithLabelValues("ok").Inc()

	send(accountID, protocol.Response{
		Type: protocol.ResponseAuthenticated,
		Authenticated: &protocol.Authenticated{
			Profile:     profile,
			Permissions: set,
		},
	})
}
