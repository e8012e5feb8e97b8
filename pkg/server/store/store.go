// Package store defines the storage interfaces the session and IAM layers
// depend on. Implementations live in the gorm subpackage; tests substitute
// testify mocks.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ncog-id/ncog/pkg/model"
	"github.com/ncog-id/ncog/pkg/permissions"
	"github.com/ncog-id/ncog/pkg/protocol"
)

// ErrNoProfile is returned when an installation or account cannot be
// resolved to a profile. Callers treat it as recoverable: the session simply
// stays anonymous.
var ErrNoProfile = errors.New("store: no profile found")

// InstallationsStore resolves and updates client installations.
type InstallationsStore interface {
	// LookupInstallation returns the installation, creating it when the id
	// is unknown. Idempotent.
	LookupInstallation(ctx context.Context, installationID uuid.UUID) (*model.Installation, error)

	// SetInstallationAccountID links an installation to an account.
	SetInstallationAccountID(ctx context.Context, installationID uuid.UUID, accountID int64) error
}

// ProfilesStore loads account profiles.
type ProfilesStore interface {
	// GetProfileByInstallationID resolves an installation to its account
	// profile. Returns ErrNoProfile for unassociated installations.
	GetProfileByInstallationID(ctx context.Context, installationID uuid.UUID) (protocol.UserProfile, error)

	// GetProfileByAccountID loads a profile directly by account id.
	GetProfileByAccountID(ctx context.Context, accountID int64) (protocol.UserProfile, error)
}

// PermissionsStore compiles an account's stored statements.
type PermissionsStore interface {
	// LoadPermissionsFor returns the compiled permission set for an
	// account: statements granted through any role it holds plus
	// role-independent statements, folded in ascending statement id order.
	LoadPermissionsFor(ctx context.Context, accountID int64) (*permissions.PermissionSet, error)
}

// IAMStore serves the backoffice operations.
type IAMStore interface {
	ListUsers(ctx context.Context) ([]protocol.User, error)
	GetUser(ctx context.Context, accountID int64) (*protocol.User, error)
	ListRoles(ctx context.Context) ([]protocol.Role, error)
	GetRole(ctx context.Context, roleID int64) (*protocol.Role, error)

	// SaveRole inserts or updates a role and returns its id.
	SaveRole(ctx context.Context, role *protocol.Role) (int64, error)

	GetPermissionStatement(ctx context.Context, statementID int64) (*protocol.PermissionStatement, error)

	// SavePermissionStatement inserts or updates a statement and returns
	// its id. Malformed statements are rejected before reaching the
	// database.
	SavePermissionStatement(ctx context.Context, statement *protocol.PermissionStatement) (int64, error)
}

// Store is the full storage surface used by the server.
type Store interface {
	InstallationsStore
	ProfilesStore
	PermissionsStore
	IAMStore
}
