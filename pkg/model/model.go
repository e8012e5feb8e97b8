// Package model contains the database models for ncog's identity and
// authorization tables.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Account is an authenticated identity. Login and DisplayName are filled in
// by the external login flow once the user completes it.
type Account struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	Login       *string   `gorm:"column:login"`
	DisplayName *string   `gorm:"column:display_name"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Account) TableName() string {
	return "accounts"
}

// Installation is a persistent client identity. It exists before login and
// gains an AccountID when the external login flow completes.
type Installation struct {
	ID        uuid.UUID `gorm:"column:id;primaryKey"`
	AccountID *int64    `gorm:"column:account_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Installation) TableName() string {
	return "installations"
}

// Role groups permission statements and is granted to accounts.
type Role struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Role) TableName() string {
	return "roles"
}

// AccountRole grants a role to an account.
type AccountRole struct {
	AccountID int64 `gorm:"column:account_id;primaryKey"`
	RoleID    int64 `gorm:"column:role_id;primaryKey"`
}

func (AccountRole) TableName() string {
	return "account_roles"
}

// PermissionStatement is a stored authorization rule. Nullable columns are
// wildcards. The table carries a CHECK constraint matching
// permissions.Statement.Validate: resource_id requires resource_type.
type PermissionStatement struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	RoleID       *int64  `gorm:"column:role_id"`
	Service      *string `gorm:"column:service"`
	ResourceType *string `gorm:"column:resource_type"`
	ResourceID   *int64  `gorm:"column:resource_id"`
	Action       *string `gorm:"column:action"`
	Allow        bool    `gorm:"column:allow"`
	Comment      *string `gorm:"column:comment"`
}

func (PermissionStatement) TableName() string {
	return "role_permission_statements"
}
