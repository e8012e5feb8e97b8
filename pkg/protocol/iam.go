package protocol

import (
	"time"

	"github.com/ncog-id/ncog/pkg/permissions"
)

// IAM request variant tags.
const (
	IAMUsersList     = "users_list"
	IAMUserGet       = "user_get"
	IAMRolesList     = "roles_list"
	IAMRoleGet       = "role_get"
	IAMRoleSave      = "role_save"
	IAMStatementGet  = "statement_get"
	IAMStatementSave = "statement_save"
)

// IAMRequest is a backoffice operation against accounts, roles and
// permission statements. Every variant is permission-gated server-side.
type IAMRequest struct {
	Type      string               `json:"type"`
	AccountID *int64               `json:"account_id,omitempty"`
	RoleID    *int64               `json:"role_id,omitempty"`
	Role      *Role                `json:"role,omitempty"`
	Statement *PermissionStatement `json:"statement,omitempty"`
}

// IAMResponse carries the result of an IAMRequest.
type IAMResponse struct {
	Type           string               `json:"type"`
	Users          []User               `json:"users,omitempty"`
	User           *User                `json:"user,omitempty"`
	Roles          []Role               `json:"roles,omitempty"`
	Role           *Role                `json:"role,omitempty"`
	RoleID         *int64               `json:"role_id,omitempty"`
	Statement      *PermissionStatement `json:"statement,omitempty"`
	StatementID    *int64               `json:"statement_id,omitempty"`
}

// IAM response variant tags.
const (
	IAMResponseUsersList      = "users_list"
	IAMResponseUserProfile    = "user_profile"
	IAMResponseRolesList      = "roles_list"
	IAMResponseRole           = "role"
	IAMResponseRoleSaved      = "role_saved"
	IAMResponseStatement      = "statement"
	IAMResponseStatementSaved = "statement_saved"
)

// User is the backoffice view of an account: profile plus role memberships.
type User struct {
	ID          int64         `json:"id"`
	Login       *string       `json:"login"`
	DisplayName *string       `json:"display_name"`
	CreatedAt   time.Time     `json:"created_at"`
	Roles       []RoleSummary `json:"roles"`
}

// RoleSummary names a role an account holds.
type RoleSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Role is a saveable role. A nil ID creates a new role.
type Role struct {
	ID        *int64    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PermissionStatement is the wire form of a stored statement.
type PermissionStatement struct {
	ID           *int64  `json:"id"`
	RoleID       *int64  `json:"role_id"`
	Service      *string `json:"service"`
	ResourceType *string `json:"resource_type"`
	ResourceID   *int64  `json:"resource_id"`
	Action       *string `json:"action"`
	Allow        bool    `json:"allow"`
	Comment      *string `json:"comment"`
}

// Statement converts the wire form to the evaluator's statement type.
func (s PermissionStatement) Statement() permissions.Statement {
	statement := permissions.Statement{
		RoleID:       s.RoleID,
		Service:      s.Service,
		ResourceType: s.ResourceType,
		ResourceID:   s.ResourceID,
		Action:       s.Action,
		Allow:        s.Allow,
	}
	if s.ID != nil {
		statement.ID = *s.ID
	}
	return statement
}
