package server

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ncog-id/ncog/pkg/permissions"
	"github.com/ncog-id/ncog/pkg/protocol"
)

func allowAll(permissions.Claim) error { return nil }

func denyAll(claim permissions.Claim) error { return permissions.Denied(claim) }

func TestIAMUsersList(t *testing.T) {
	st := new(mockStore)
	s, _ := newTestServer(t, st)

	login := "alice"
	st.On("ListUsers", mock.Anything).Return([]protocol.User{{ID: 1, Login: &login}}, nil).Once()

	response, err := s.serveIAM(context.Background(), 1, allowAll, &protocol.IAMRequest{Type: protocol.IAMUsersList})
	require.NoError(t, err)
	assert.Equal(t, protocol.IAMResponseUsersList, response.Type)
	require.Len(t, response.Users, 1)
	assert.Equal(t, int64(1), response.Users[0].ID)
	st.AssertExpectations(t)
}

func TestIAMDeniedBeforeStore(t *testing.T) {
	st := new(mockStore)
	s, _ := newTestServer(t, st)

	requests := []*protocol.IAMRequest{
		{Type: protocol.IAMUsersList},
		{Type: protocol.IAMRolesList},
		{Type: protocol.IAMRoleSave, Role: &protocol.Role{Name: "ops"}},
	}
	for _, request := range requests {
		_, err := s.serveIAM(context.Background(), 1, denyAll, request)
		var denied *permissions.DeniedError
		require.ErrorAs(t, err, &denied, request.Type)
	}
	// The store is never reached for denied requests.
	st.AssertNotCalled(t, "ListUsers", mock.Anything)
	st.AssertNotCalled(t, "ListRoles", mock.Anything)
	st.AssertNotCalled(t, "SaveRole", mock.Anything, mock.Anything)
}

func TestIAMRoleSaveNotifies(t *testing.T) {
	st := new(mockStore)
	s, sqlMock := newTestServer(t, st)

	role := &protocol.Role{Name: "operators"}
	st.On("SaveRole", mock.Anything, role).Return(int64(5), nil).Once()
	sqlMock.ExpectExec("SELECT pg_notify").
		WithArgs("role_updated", "5").
		WillReturnResult(sqlmock.NewResult(0, 0))

	response, err := s.serveIAM(context.Background(), 1, allowAll, &protocol.IAMRequest{
		Type: protocol.IAMRoleSave,
		Role: role,
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.IAMResponseRoleSaved, response.Type)
	require.NotNil(t, response.RoleID)
	assert.Equal(t, int64(5), *response.RoleID)
	require.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestIAMStatementSaveNotifiesRole(t *testing.T) {
	st := new(mockStore)
	s, sqlMock := newTestServer(t, st)

	roleID := int64(3)
	statement := &protocol.PermissionStatement{RoleID: &roleID, Allow: true}
	st.On("SavePermissionStatement", mock.Anything, statement).Return(int64(11), nil).Once()
	sqlMock.ExpectExec("SELECT pg_notify").
		WithArgs("role_updated", "3").
		WillReturnResult(sqlmock.NewResult(0, 0))

	response, err := s.serveIAM(context.Background(), 1, allowAll, &protocol.IAMRequest{
		Type:      protocol.IAMStatementSave,
		Statement: statement,
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.IAMResponseStatementSaved, response.Type)
	require.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestIAMStatementSaveWithoutRoleSkipsNotify(t *testing.T) {
	st := new(mockStore)
	s, sqlMock := newTestServer(t, st)

	statement := &protocol.PermissionStatement{Allow: true}
	st.On("SavePermissionStatement", mock.Anything, statement).Return(int64(12), nil).Once()

	_, err := s.serveIAM(context.Background(), 1, allowAll, &protocol.IAMRequest{
		Type:      protocol.IAMStatementSave,
		Statement: statement,
	})
	require.NoError(t, err)
	require.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestIAMMissingFields(t *testing.T) {
	st := new(mockStore)
	s, _ := newTestServer(t, st)

	cases := []*protocol.IAMRequest{
		{Type: protocol.IAMUserGet},
		{Type: protocol.IAMRoleGet},
		{Type: protocol.IAMRoleSave},
		{Type: protocol.IAMStatementGet},
		{Type: protocol.IAMStatementSave},
		{Type: "bogus"},
	}
	for _, request := range cases {
		_, err := s.serveIAM(context.Background(), 1, allowAll, request)
		assert.Error(t, err, request.Type)
	}
}
