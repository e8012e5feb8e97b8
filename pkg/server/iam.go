package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/ncog-id/ncog/pkg/audit"
	"github.com/ncog-id/ncog/pkg/permissions"
	"github.com/ncog-id/ncog/pkg/protocol"
	"github.com/ncog-id/ncog/pkg/pubsub"
)

// IAM claim vocabulary. Backoffice access is itself governed by permission
// statements, under the service name "ncog".
const (
	IAMService = "ncog"

	IAMResourceUsers      = "users"
	IAMResourceRoles      = "roles"
	IAMResourceStatements = "statements"

	IAMActionList  = "list"
	IAMActionRead  = "read"
	IAMActionWrite = "write"
)

var errUnknownIAMType = errors.New("unknown iam request type")

func errMissingField(name string) error {
	return fmt.Errorf("missing %s", name)
}

func iamClaim(resourceType string, resourceID *int64, action string) permissions.Claim {
	return permissions.NewClaim(IAMService, &resourceType, resourceID, action)
}

func (sess *session) handleIAM(ctx context.Context, request protocol.Request) {
	iam := request.IAM
	if iam == nil {
		sess.client.Send(protocol.Errorf(request.ID, "missing iam payload"))
		return
	}

	account := sess.client.Account()
	if account == nil {
		sess.client.Send(protocol.Errorf(request.ID, "authenticate first"))
		return
	}

	response, err := sess.server.serveIAM(ctx, account.ID(), sess.client.PermissionAllowed, iam)
	if err != nil {
		sess.client.Send(protocol.Errorf(request.ID, err.Error()))
		return
	}
	sess.client.Send(protocol.Response{
		RequestID: request.ID,
		Type:      protocol.ResponseIAM,
		IAM:       response,
	})
}

// serveIAM runs one backoffice operation for the given actor. allowed is the
// actor's claim check; every variant is gated before touching the store.
func (s *Server) serveIAM(
	ctx context.Context,
	actorAccountID int64,
	allowed func(permissions.Claim) error,
	request *protocol.IAMRequest,
) (*protocol.IAMResponse, error) {
	switch request.Type {
	case protocol.IAMUsersList:
		if err := allowed(iamClaim(IAMResourceUsers, nil, IAMActionList)); err != nil {
			return nil, err
		}
		users, err := s.Store.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		// Rows the actor may not read are filtered, not errored.
		visible := users[:0]
		for _, user := range users {
			id := user.ID
			if allowed(iamClaim(IAMResourceUsers, &id, IAMActionRead)) == nil {
				visible = append(visible, user)
			}
		}
		return &protocol.IAMResponse{Type: protocol.IAMResponseUsersList, Users: visible}, nil

	case protocol.IAMUserGet:
		if request.AccountID == nil {
			return nil, errMissingField("account_id")
		}
		if err := allowed(iamClaim(IAMResourceUsers, request.AccountID, IAMActionRead)); err != nil {
			return nil, err
		}
		user, err := s.Store.GetUser(ctx, *request.AccountID)
		if err != nil {
			return nil, err
		}
		return &protocol.IAMResponse{Type: protocol.IAMResponseUserProfile, User: user}, nil

	case protocol.IAMRolesList:
		if err := allowed(iamClaim(IAMResourceRoles, nil, IAMActionList)); err != nil {
			return nil, err
		}
		roles, err := s.Store.ListRoles(ctx)
		if err != nil {
			return nil, err
		}
		visible := roles[:0]
		for _, role := range roles {
			if allowed(iamClaim(IAMResourceRoles, role.ID, IAMActionRead)) == nil {
				visible = append(visible, role)
			}
		}
		return &protocol.IAMResponse{Type: protocol.IAMResponseRolesList, Roles: visible}, nil

	case protocol.IAMRoleGet:
		if request.RoleID == nil {
			return nil, errMissingField("role_id")
		}
		if err := allowed(iamClaim(IAMResourceRoles, request.RoleID, IAMActionRead)); err != nil {
			return nil, err
		}
		role, err := s.Store.GetRole(ctx, *request.RoleID)
		if err != nil {
			return nil, err
		}
		return &protocol.IAMResponse{Type: protocol.IAMResponseRole, Role: role}, nil

	case protocol.IAMRoleSave:
		if request.Role == nil {
			return nil, errMissingField("role")
		}
		if err := allowed(iamClaim(IAMResourceRoles, request.Role.ID, IAMActionWrite)); err != nil {
			return nil, err
		}
		created := request.Role.ID == nil
		roleID, err := s.Store.SaveRole(ctx, request.Role)
		if err != nil {
			return nil, err
		}
		audit.Log(audit.RoleSavedEvent{
			ActorAccountID: actorAccountID,
			RoleID:         roleID,
			RoleName:       request.Role.Name,
			Created:        created,
		})
		// Connected holders of the role pick up the rename.
		if err := pubsub.NotifyRoleUpdated(s.DB, roleID); err != nil {
			s.log.Error().Err(err).Int64("role_id", roleID).Msg("iam: notify failed")
		}
		return &protocol.IAMResponse{Type: protocol.IAMResponseRoleSaved, RoleID: &roleID}, nil

	case protocol.IAMStatementGet:
		if request.Statement == nil || request.Statement.ID == nil {
			return nil, errMissingField("statement.id")
		}
		if err := allowed(iamClaim(IAMResourceStatements, request.Statement.ID, IAMActionRead)); err != nil {
			return nil, err
		}
		statement, err := s.Store.GetPermissionStatement(ctx, *request.Statement.ID)
		if err != nil {
			return nil, err
		}
		return &protocol.IAMResponse{Type: protocol.IAMResponseStatement, Statement: statement}, nil

	case protocol.IAMStatementSave:
		if request.Statement == nil {
			return nil, errMissingField("statement")
		}
		if err := allowed(iamClaim(IAMResourceStatements, request.Statement.ID, IAMActionWrite)); err != nil {
			return nil, err
		}
		created := request.Statement.ID == nil
		statementID, err := s.Store.SavePermissionStatement(ctx, request.Statement)
		if err != nil {
			return nil, err
		}
		audit.Log(audit.StatementSavedEvent{
			ActorAccountID: actorAccountID,
			StatementID:    statementID,
			Created:        created,
		})
		// A role-bound statement changes what its holders may do.
		if request.Statement.RoleID != nil {
			if err := pubsub.NotifyRoleUpdated(s.DB, *request.Statement.RoleID); err != nil {
				s.log.Error().Err(err).Int64("role_id", *request.Statement.RoleID).Msg("iam: notify failed")
			}
		}
		return &protocol.IAMResponse{Type: protocol.IAMResponseStatementSaved, StatementID: &statementID}, nil
	}

	return nil, errUnknownIAMType
}
