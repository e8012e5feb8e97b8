package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ncog-id/ncog/pkg/model"
	"github.com/ncog-id/ncog/pkg/protocol"
)

// ErrUnknownRecord is returned by the IAM getters for missing ids.
var ErrUnknownRecord = errors.New("store: unknown record")

// ListUsers returns every account with its role memberships.
func (s *Store) ListUsers(ctx context.Context) ([]protocol.User, error) {
	var accounts []model.Account
	if err := s.db.WithContext(ctx).Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}

	type membership struct {
		AccountID int64
		RoleID    int64
		Name      string
	}
	var memberships []membership
	err := s.db.WithContext(ctx).Raw(`
		SELECT account_roles.account_id, roles.id AS role_id, roles.name
		FROM account_roles
		INNER JOIN roles ON roles.id = account_roles.role_id
		ORDER BY account_roles.account_id, roles.id
	`).Scan(&memberships).Error
	if err != nil {
		return nil, err
	}

	rolesByAccount := make(map[int64][]protocol.RoleSummary)
	for _, m := range memberships {
		rolesByAccount[m.AccountID] = append(rolesByAccount[m.AccountID], protocol.RoleSummary{
			ID:   m.RoleID,
			Name: m.Name,
		})
	}

	users := make([]protocol.User, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, protocol.User{
			ID:          account.ID,
			Login:       account.Login,
			DisplayName: account.DisplayName,
			CreatedAt:   account.CreatedAt,
			Roles:       rolesByAccount[account.ID],
		})
	}
	return users, nil
}

// GetUser returns one account with its role memberships.
func (s *Store) GetUser(ctx context.Context, accountID int64) (*protocol.User, error) {
	var account model.Account
	err := s.db.WithContext(ctx).First(&account, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownRecord
	}
	if err != nil {
		return nil, err
	}

	var roles []protocol.RoleSummary
	err = s.db.WithContext(ctx).Raw(`
		SELECT roles.id, roles.name
		FROM account_roles
		INNER JOIN roles ON roles.id = account_roles.role_id
		WHERE account_roles.account_id = ?
		ORDER BY roles.id
	`, accountID).Scan(&roles).Error
	if err != nil {
		return nil, err
	}

	return &protocol.User{
		ID:          account.ID,
		Login:       account.Login,
		DisplayName: account.DisplayName,
		CreatedAt:   account.CreatedAt,
		Roles:       roles,
	}, nil
}

// ListRoles returns all roles ordered by id.
func (s *Store) ListRoles(ctx context.Context) ([]protocol.Role, error) {
	var rows []model.Role
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	roles := make([]protocol.Role, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, roleOf(row))
	}
	return roles, nil
}

// GetRole returns one role.
func (s *Store) GetRole(ctx context.Context, roleID int64) (*protocol.Role, error) {
	var row model.Role
	err := s.db.WithContext(ctx).First(&row, roleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownRecord
	}
	if err != nil {
		return nil, err
	}
	role := roleOf(row)
	return &role, nil
}

// SaveRole inserts or updates a role and returns its id.
func (s *Store) SaveRole(ctx context.Context, role *protocol.Role) (int64, error) {
	row := model.Role{Name: role.Name}
	if role.ID != nil {
		row.ID = *role.ID
		err := s.db.WithContext(ctx).
			Model(&model.Role{}).
			Where("id = ?", row.ID).
			Update("name", row.Name).Error
		return row.ID, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// GetPermissionStatement returns one stored statement.
func (s *Store) GetPermissionStatement(ctx context.Context, statementID int64) (*protocol.PermissionStatement, error) {
	var row model.PermissionStatement
	err := s.db.WithContext(ctx).First(&row, statementID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownRecord
	}
	if err != nil {
		return nil, err
	}
	return statementOf(row), nil
}

// SavePermissionStatement inserts or updates a statement and returns its id.
func (s *Store) SavePermissionStatement(ctx context.Context, statement *protocol.PermissionStatement) (int64, error) {
	if err := statement.Statement().Validate(); err != nil {
		return 0, err
	}
	row := model.PermissionStatement{
		RoleID:       statement.RoleID,
		Service:      statement.Service,
		ResourceType: statement.ResourceType,
		ResourceID:   statement.ResourceID,
		Action:       statement.Action,
		Allow:        statement.Allow,
		Comment:      statement.Comment,
	}
	if statement.ID != nil {
		row.ID = *statement.ID
		err := s.db.WithContext(ctx).Save(&row).Error
		return row.ID, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

func roleOf(row model.Role) protocol.Role {
	id := row.ID
	return protocol.Role{
		ID:        &id,
		Name:      row.Name,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func statementOf(row model.PermissionStatement) *protocol.PermissionStatement {
	id := row.ID
	return &protocol.PermissionStatement{
		ID:           &id,
		RoleID:       row.RoleID,
		Service:      row.Service,
		ResourceType: row.ResourceType,
		ResourceID:   row.ResourceID,
		Action:       row.Action,
		Allow:        row.Allow,
		Comment:      row.Comment,
	}
}
