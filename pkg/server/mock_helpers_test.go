package server

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ncog-id/ncog/pkg/audit"
	"github.com/ncog-id/ncog/pkg/config"
	"github.com/ncog-id/ncog/pkg/model"
	"github.com/ncog-id/ncog/pkg/permissions"
	"github.com/ncog-id/ncog/pkg/protocol"
	"github.com/ncog-id/ncog/pkg/registry"
)

func init() {
	audit.SetEnabled(false)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) LookupInstallation(ctx context.Context, installationID uuid.UUID) (*model.Installation, error) {
	args := m.Called(ctx, installationID)
	if installation := args.Get(0); installation != nil {
		return installation.(*model.Installation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) SetInstallationAccountID(ctx context.Context, installationID uuid.UUID, accountID int64) error {
	args := m.Called(ctx, installationID, accountID)
	return args.Error(0)
}

func (m *mockStore) GetProfileByInstallationID(ctx context.Context, installationID uuid.UUID) (protocol.UserProfile, error) {
	args := m.Called(ctx, installationID)
	return args.Get(0).(protocol.UserProfile), args.Error(1)
}

func (m *mockStore) GetProfileByAccountID(ctx context.Context, accountID int64) (protocol.UserProfile, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(protocol.UserProfile), args.Error(1)
}

func (m *mockStore) LoadPermissionsFor(ctx context.Context, accountID int64) (*permissions.PermissionSet, error) {
	args := m.Called(ctx, accountID)
	if set := args.Get(0); set != nil {
		return set.(*permissions.PermissionSet), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListUsers(ctx context.Context) ([]protocol.User, error) {
	args := m.Called(ctx)
	if users := args.Get(0); users != nil {
		return users.([]protocol.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetUser(ctx context.Context, accountID int64) (*protocol.User, error) {
	args := m.Called(ctx, accountID)
	if user := args.Get(0); user != nil {
		return user.(*protocol.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListRoles(ctx context.Context) ([]protocol.Role, error) {
	args := m.Called(ctx)
	if roles := args.Get(0); roles != nil {
		return roles.([]protocol.Role), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetRole(ctx context.Context, roleID int64) (*protocol.Role, error) {
	args := m.Called(ctx, roleID)
	if role := args.Get(0); role != nil {
		return role.(*protocol.Role), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) SaveRole(ctx context.Context, role *protocol.Role) (int64, error) {
	args := m.Called(ctx, role)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) GetPermissionStatement(ctx context.Context, statementID int64) (*protocol.PermissionStatement, error) {
	args := m.Called(ctx, statementID)
	if statement := args.Get(0); statement != nil {
		return statement.(*protocol.PermissionStatement), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) SavePermissionStatement(ctx context.Context, statement *protocol.PermissionStatement) (int64, error) {
	args := m.Called(ctx, statement)
	return args.Get(0).(int64), args.Error(1)
}

// newMockDB wraps a sqlmock connection with GORM for the notify paths.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(
		postgres.New(postgres.Config{
			Conn:                 mockDB,
			PreferSimpleProtocol: true,
		}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		},
	)
	require.NoError(t, err)
	return gormDB, sqlMock
}

func newTestServer(t *testing.T, st *mockStore) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	gormDB, sqlMock := newMockDB(t)
	cfg := &config.Config{
		BindAddress:      "127.0.0.1",
		Port:             0,
		AuthorizationURL: "https://login.example.com/auth",
		CallbackSecret:   "test-callback-secret",
		PingIntervalMS:   100,
		OutboundBuffer:   16,
	}
	clients := registry.NewClients(registry.NewAccounts(st, zerolog.Nop()), zerolog.Nop())
	return NewServer(cfg, gormDB, st, clients, zerolog.Nop()), sqlMock
}
