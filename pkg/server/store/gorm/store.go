// Package gorm implements the store interfaces on top of GORM/Postgres.
package gorm

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ncog-id/ncog/pkg/model"
	"github.com/ncog-id/ncog/pkg/permissions"
	"github.com/ncog-id/ncog/pkg/protocol"
	"github.com/ncog-id/ncog/pkg/server/store"
)

// Ensure Store implements the full storage surface.
var _ store.Store = (*Store)(nil)

// Store implements store.Store using GORM.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LookupInstallation returns the installation, creating it when unknown.
func (s *Store) LookupInstallation(ctx context.Context, installationID uuid.UUID) (*model.Installation, error) {
	installation := model.Installation{ID: installationID}
	err := s.db.WithContext(ctx).
		Where(&model.Installation{ID: installationID}).
		FirstOrCreate(&installation).Error
	if err != nil {
		return nil, err
	}
	return &installation, nil
}

// SetInstallationAccountID links an installation to an account.
func (s *Store) SetInstallationAccountID(ctx context.Context, installationID uuid.UUID, accountID int64) error {
	return s.db.WithContext(ctx).
		Model(&model.Installation{}).
		Where("id = ?", installationID).
		Update("account_id", accountID).Error
}

// GetProfileByInstallationID resolves an installation to its account profile.
func (s *Store) GetProfileByInstallationID(ctx context.Context, installationID uuid.UUID) (protocol.UserProfile, error) {
	var account model.Account
	err := s.db.WithContext(ctx).
		Joins("INNER JOIN installations ON installations.account_id = accounts.id").
		Where("installations.id = ?", installationID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return protocol.UserProfile{}, store.ErrNoProfile
	}
	if err != nil {
		return protocol.UserProfile{}, err
	}
	return profileOf(account), nil
}

// GetProfileByAccountID loads a profile directly by account id.
func (s *Store) GetProfileByAccountID(ctx context.Context, accountID int64) (protocol.UserProfile, error) {
	var account model.Account
	err := s.db.WithContext(ctx).First(&account, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return protocol.UserProfile{}, store.ErrNoProfile
	}
	if err != nil {
		return protocol.UserProfile{}, err
	}
	return profileOf(account), nil
}

func profileOf(account model.Account) protocol.UserProfile {
	return protocol.UserProfile{
		ID:          account.ID,
		Login:       account.Login,
		DisplayName: account.DisplayName,
	}
}

// LoadPermissionsFor compiles the account's applicable statements: those
// granted through roles the account holds plus role-independent statements.
// Statements fold in ascending id order so identical key paths resolve
// deterministically.
func (s *Store) LoadPermissionsFor(ctx context.Context, accountID int64) (*permissions.PermissionSet, error) {
	var rows []model.PermissionStatement
	err := s.db.WithContext(ctx).Raw(`
		SELECT DISTINCT role_permission_statements.*
		FROM role_permission_statements
		LEFT OUTER JOIN account_roles
			ON account_roles.role_id = role_permission_statements.role_id
			AND account_roles.account_id = ?
		WHERE role_permission_statements.role_id IS NULL
			OR account_roles.account_id IS NOT NULL
		ORDER BY role_permission_statements.id
	`, accountID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	var roleIDs []int64
	err = s.db.WithContext(ctx).
		Model(&model.AccountRole{}).
		Where("account_id = ?", accountID).
		Order("role_id").
		Pluck("role_id", &roleIDs).Error
	if err != nil {
		return nil, err
	}

	statements := make([]permissions.Statement, 0, len(rows))
	for _, row := range rows {
		statements = append(statements, permissions.Statement{
			ID:           row.ID,
			RoleID:       row.RoleID,
			Service:      row.Service,
			ResourceType: row.ResourceType,
			ResourceID:   row.ResourceID,
			Action:       row.Action,
			Allow:        row.Allow,
		})
	}
	return permissions.New(statements, roleIDs), nil
}
