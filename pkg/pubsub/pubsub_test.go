package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ncog-id/ncog/pkg/permissions"
	"github.com/ncog-id/ncog/pkg/protocol"
	"github.com/ncog-id/ncog/pkg/registry"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) GetProfileByInstallationID(ctx context.Context, installationID uuid.UUID) (protocol.UserProfile, error) {
	args := m.Called(ctx, installationID)
	return args.Get(0).(protocol.UserProfile), args.Error(1)
}

func (m *mockSource) GetProfileByAccountID(ctx context.Context, accountID int64) (protocol.UserProfile, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(protocol.UserProfile), args.Error(1)
}

func (m *mockSource) LoadPermissionsFor(ctx context.Context, accountID int64) (*permissions.PermissionSet, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(*permissions.PermissionSet), args.Error(1)
}

func setWithRole(roleID int64) *permissions.PermissionSet {
	service := "svc"
	action := "read"
	return permissions.New([]permissions.Statement{
		{ID: 1, RoleID: &roleID, Service: &service, Action: &action, Allow: true},
	}, []int64{roleID})
}

func TestDispatchInstallationLogin(t *testing.T) {
	source := new(mockSource)
	installationID := uuid.New()
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, installationID).Return(profile, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(setWithRole(1), nil).Once()

	clients := registry.NewClients(registry.NewAccounts(source, zerolog.Nop()), zerolog.Nop())
	client := registry.NewClient(4)
	clients.Connect(installationID, client)

	listener := NewListener("", clients, zerolog.Nop())
	listener.Dispatch(context.Background(), ChannelInstallationLogin, installationID.String())

	select {
	case response := <-client.Out():
		assert.Equal(t, protocol.ResponseAuthenticated, response.Type)
		require.NotNil(t, response.Authenticated)
		assert.Equal(t, int64(7), response.Authenticated.Profile.ID)
		require.NotNil(t, response.Authenticated.Permissions)
	case <-time.After(time.Second):
		t.Fatal("expected authenticated push")
	}
	source.AssertExpectations(t)
}

func TestDispatchLoginForUnknownSession(t *testing.T) {
	source := new(mockSource)
	installationID := uuid.New()
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, installationID).Return(profile, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(setWithRole(1), nil).Once()

	clients := registry.NewClients(registry.NewAccounts(source, zerolog.Nop()), zerolog.Nop())
	listener := NewListener("", clients, zerolog.Nop())

	// Nobody is connected under this id; the event is dropped quietly.
	listener.Dispatch(context.Background(), ChannelInstallationLogin, installationID.String())
	assert.Equal(t, 0, clients.Accounts().Len())
}

func TestDispatchRoleUpdated(t *testing.T) {
	source := new(mockSource)
	installationID := uuid.New()
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, installationID).Return(profile, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(setWithRole(3), nil).Once()

	clients := registry.NewClients(registry.NewAccounts(source, zerolog.Nop()), zerolog.Nop())
	client := registry.NewClient(4)
	clients.Connect(installationID, client)
	_, err := clients.AssociateAccount(context.Background(), installationID)
	require.NoError(t, err)

	source.On("GetProfileByAccountID", mock.Anything, int64(7)).Return(profile, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(setWithRole(3), nil).Once()

	listener := NewListener("", clients, zerolog.Nop())
	listener.Dispatch(context.Background(), ChannelRoleUpdated, "3")

	select {
	case response := <-client.Out():
		assert.Equal(t, protocol.ResponseAuthenticated, response.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected refresh push")
	}
	source.AssertExpectations(t)
}

func TestDispatchAccountUpdated(t *testing.T) {
	source := new(mockSource)
	installationID := uuid.New()
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, installationID).Return(profile, nil).Once()
	// The initial set does not hold role 5; a grant reaches the session by
	// account id, not role id.
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(setWithRole(3), nil).Once()

	clients := registry.NewClients(registry.NewAccounts(source, zerolog.Nop()), zerolog.Nop())
	client := registry.NewClient(4)
	clients.Connect(installationID, client)
	_, err := clients.AssociateAccount(context.Background(), installationID)
	require.NoError(t, err)

	source.On("GetProfileByAccountID", mock.Anything, int64(7)).Return(profile, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(setWithRole(5), nil).Once()

	listener := NewListener("", clients, zerolog.Nop())
	listener.Dispatch(context.Background(), ChannelAccountUpdated, "7")

	select {
	case response := <-client.Out():
		assert.Equal(t, protocol.ResponseAuthenticated, response.Type)
		require.NotNil(t, response.Authenticated)
		assert.True(t, response.Authenticated.Permissions.HasRole(5))
	case <-time.After(2 * time.Second):
		t.Fatal("expected refresh push")
	}
	source.AssertExpectations(t)
}

func TestDispatchAccountUpdatedForDisconnectedAccount(t *testing.T) {
	source := new(mockSource)
	clients := registry.NewClients(registry.NewAccounts(source, zerolog.Nop()), zerolog.Nop())
	listener := NewListener("", clients, zerolog.Nop())

	// Nobody connected for the account; no loads happen.
	listener.Dispatch(context.Background(), ChannelAccountUpdated, "7")
	source.AssertExpectations(t)
}

func TestDispatchMalformedPayloads(t *testing.T) {
	source := new(mockSource)
	clients := registry.NewClients(registry.NewAccounts(source, zerolog.Nop()), zerolog.Nop())
	listener := NewListener("", clients, zerolog.Nop())

	listener.Dispatch(context.Background(), ChannelRoleUpdated, "not-a-number")
	listener.Dispatch(context.Background(), ChannelInstallationLogin, "not-a-uuid")
	listener.Dispatch(context.Background(), "unrelated", "payload")
	source.AssertExpectations(t)
}
