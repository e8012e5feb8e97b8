package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ncog-id/ncog/pkg/permissions"
	"github.com/ncog-id/ncog/pkg/protocol"
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

func permissionSetWithRole(roleID int64) *permissions.PermissionSet {
	service := "svc"
	action := "read"
	return permissions.New([]permissions.Statement{
		{ID: 1, RoleID: &roleID, Service: &service, Action: &action, Allow: true},
	}, []int64{roleID})
}

func newRegistry(source AccountSource) *Clients {
	log := zerolog.Nop()
	return NewClients(NewAccounts(source, log), log)
}

func connect(t *testing.T, r *Clients, installationID uuid.UUID) (*Client, *Account) {
	t.Helper()
	client := NewClient(8)
	r.Connect(installationID, client)
	account, err := r.AssociateAccount(context.Background(), installationID)
	require.NoError(t, err)
	return client, account
}

func TestSessionsOfOneAccountShareHandle(t *testing.T) {
	source := new(mockSource)
	installationA := uuid.New()
	installationB := uuid.New()
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, installationA).Return(profile, nil).Once()
	source.On("GetProfileByInstallationID", mock.Anything, installationB).Return(profile, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(permissionSetWithRole(1), nil).Once()

	r := newRegistry(source)
	_, accountA := connect(t, r, installationA)
	_, accountB := connect(t, r, installationB)

	assert.Same(t, accountA, accountB)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 1, r.Accounts().Len())
	source.AssertExpectations(t)
}

func TestLastDisconnectDropsAccount(t *testing.T) {
	source := new(mockSource)
	installationA := uuid.New()
	installationB := uuid.New()
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, mock.Anything).Return(profile, nil)
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(permissionSetWithRole(1), nil).Twice()

	r := newRegistry(source)
	clientA, _ := connect(t, r, installationA)
	clientB, _ := connect(t, r, installationB)

	r.Disconnect(installationA, clientA)
	assert.Equal(t, 1, r.Accounts().Len())
	_, open := <-clientA.Out()
	assert.False(t, open)

	r.Disconnect(installationB, clientB)
	assert.Equal(t, 0, r.Accounts().Len())
	assert.Equal(t, 0, r.Len())

	// A later connection rebuilds the handle from scratch.
	_, account := connect(t, r, installationA)
	require.NotNil(t, account)
	source.AssertExpectations(t)
}

func TestAssociateAfterSessionClosed(t *testing.T) {
	source := new(mockSource)
	installationID := uuid.New()
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, installationID).Return(profile, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(permissionSetWithRole(1), nil).Once()

	r := newRegistry(source)
	// No Connect: the session vanished before the association landed.
	_, err := r.AssociateAccount(context.Background(), installationID)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, 0, r.Accounts().Len())
}

func TestRoleUpdateFansOutToAccountSessions(t *testing.T) {
	source := new(mockSource)
	installationA := uuid.New()
	installationB := uuid.New()
	installationC := uuid.New()
	holder := protocol.UserProfile{ID: 7}
	bystander := protocol.UserProfile{ID: 9}

	source.On("GetProfileByInstallationID", mock.Anything, installationA).Return(holder, nil).Once()
	source.On("GetProfileByInstallationID", mock.Anything, installationB).Return(holder, nil).Once()
	source.On("GetProfileByInstallationID", mock.Anything, installationC).Return(bystander, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(permissionSetWithRole(3), nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(9)).Return(permissionSetWithRole(4), nil).Once()

	r := newRegistry(source)
	clientA, _ := connect(t, r, installationA)
	clientB, _ := connect(t, r, installationB)
	clientC, _ := connect(t, r, installationC)

	// The refresh reloads profile and permissions exactly once for the
	// affected account.
	source.On("GetProfileByAccountID", mock.Anything, int64(7)).Return(holder, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(permissionSetWithRole(3), nil).Once()

	r.RoleUpdated(context.Background(), 3)

	for _, client := range []*Client{clientA, clientB} {
		select {
		case response := <-client.Out():
			assert.Equal(t, protocol.ResponseAuthenticated, response.Type)
			require.NotNil(t, response.Authenticated)
			assert.Equal(t, int64(7), response.Authenticated.Profile.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("expected refreshed state on session")
		}
	}

	select {
	case response := <-clientC.Out():
		t.Fatalf("unexpected response for unaffected account: %v", response.Type)
	case <-time.After(50 * time.Millisecond):
	}

	source.AssertExpectations(t)
}

func TestRoleUpdateForUnheldRoleIsQuiet(t *testing.T) {
	source := new(mockSource)
	installationID := uuid.New()
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, installationID).Return(profile, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(permissionSetWithRole(3), nil).Once()

	r := newRegistry(source)
	client, _ := connect(t, r, installationID)

	r.RoleUpdated(context.Background(), 99)

	select {
	case response := <-client.Out():
		t.Fatalf("unexpected response: %v", response.Type)
	case <-time.After(50 * time.Millisecond):
	}
	source.AssertExpectations(t)
}

func TestConnectReplacesExistingSession(t *testing.T) {
	source := new(mockSource)
	installationID := uuid.New()

	r := newRegistry(source)
	first := NewClient(1)
	second := NewClient(1)
	r.Connect(installationID, first)
	r.Connect(installationID, second)

	_, open := <-first.Out()
	assert.False(t, open)
	assert.Equal(t, 1, r.Len())
	assert.True(t, second.Send(protocol.Errorf(1, "still writable")))
}

func TestStaleSessionTeardownKeepsReplacement(t *testing.T) {
	source := new(mockSource)
	installationID := uuid.New()
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, installationID).Return(profile, nil)
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(permissionSetWithRole(1), nil)

	r := newRegistry(source)
	stale, _ := connect(t, r, installationID)

	// The reconnect replaces and closes the stale session.
	replacement := NewClient(8)
	r.Connect(installationID, replacement)
	_, open := <-stale.Out()
	assert.False(t, open)
	_, err := r.AssociateAccount(context.Background(), installationID)
	require.NoError(t, err)

	// The stale session's teardown runs after the takeover. It must not
	// evict its successor.
	r.Disconnect(installationID, stale)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Accounts().Len())
	assert.True(t, replacement.Send(protocol.Errorf(1, "still registered")))

	r.Disconnect(installationID, replacement)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Accounts().Len())
}

func TestReattachRestoresEvictedHandle(t *testing.T) {
	source := new(mockSource)
	installationID := uuid.New()
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, installationID).Return(profile, nil).Once()
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(permissionSetWithRole(1), nil).Once()

	accounts := NewAccounts(source, zerolog.Nop())
	handle, err := accounts.Connect(context.Background(), installationID)
	require.NoError(t, err)

	// A concurrent last-session disconnect dropped the entry while an
	// association still held the handle.
	accounts.FullyDisconnected(7)
	require.Nil(t, accounts.Get(7))

	assert.Same(t, handle, accounts.reattach(handle))
	assert.Same(t, handle, accounts.Get(7))
	assert.Equal(t, 1, accounts.Len())

	// When another connect already rebuilt the entry, the rebuilt handle is
	// canonical and the evicted one is discarded.
	rebuilt := &Account{profile: profile}
	accounts.FullyDisconnected(7)
	assert.Same(t, rebuilt, accounts.reattach(rebuilt))
	assert.Same(t, rebuilt, accounts.reattach(handle))
	assert.Equal(t, 1, accounts.Len())
	source.AssertExpectations(t)
}

func TestConcurrentDisconnectAndRoleRefresh(t *testing.T) {
	source := new(mockSource)
	profile := protocol.UserProfile{ID: 7}

	source.On("GetProfileByInstallationID", mock.Anything, mock.Anything).Return(profile, nil)
	source.On("GetProfileByAccountID", mock.Anything, int64(7)).Return(profile, nil)
	source.On("LoadPermissionsFor", mock.Anything, int64(7)).Return(permissionSetWithRole(3), nil)

	r := newRegistry(source)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		installationID := uuid.New()
		client, _ := connect(t, r, installationID)

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RoleUpdated(context.Background(), 3)
		}()
		r.Disconnect(installationID, client)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Accounts().Len())
}

func TestSendIsBestEffort(t *testing.T) {
	client := NewClient(1)
	assert.True(t, client.Send(protocol.Errorf(1, "first")))
	assert.False(t, client.Send(protocol.Errorf(2, "overflow")))

	client.Close()
	client.Close()
	assert.False(t, client.Send(protocol.Errorf(3, "after close")))
}

func TestAnonymousSessionIsDenied(t *testing.T) {
	client := NewClient(1)
	claim := permissions.NewClaim("svc", nil, nil, "read")
	err := client.PermissionAllowed(claim)
	var denied *permissions.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, claim, denied.Claim)
}

func TestPingCarriesTimingEstimates(t *testing.T) {
	source := new(mockSource)
	r := newRegistry(source)
	installationID := uuid.New()
	client := NewClient(4)
	r.Connect(installationID, client)

	now := protocol.Timestamp()
	client.UpdateTiming(now-0.2, now-0.1)

	r.Ping()
	select {
	case response := <-client.Out():
		assert.Equal(t, protocol.ResponsePing, response.Type)
		require.NotNil(t, response.Ping)
		assert.InDelta(t, 0.2, response.Ping.AverageRoundtrip, 0.05)
	case <-time.After(time.Second):
		t.Fatal("expected ping")
	}
}

func TestNetworkTimingAverages(t *testing.T) {
	var timing NetworkTiming

	now := protocol.Timestamp()
	timing.Update(now-0.1, now-0.05)
	assert.InDelta(t, 0.1, timing.AverageRoundtrip(), 0.02)

	// The second sample is weighted one part in five.
	now = protocol.Timestamp()
	timing.Update(now-0.6, now-0.3)
	assert.InDelta(t, 0.2, timing.AverageRoundtrip(), 0.03)
}
