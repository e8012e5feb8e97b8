// Package pubsub bridges Postgres NOTIFY events into the session registry.
// The database is the source of truth for role and login changes; this
// listener keeps every server instance's connected sessions current.
package pubsub

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ncog-id/ncog/pkg/protocol"
	"github.com/ncog-id/ncog/pkg/registry"
)

// Notification channels. The payloads are a role id, an account id and an
// installation id respectively.
const (
	ChannelRoleUpdated       = "role_updated"
	ChannelAccountUpdated    = "account_updated"
	ChannelInstallationLogin = "installation_login"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// Listener subscribes to the notification channels and applies each event to
// the registry. Handler errors are logged, never propagated: a bad payload
// must not take the bridge down.
type Listener struct {
	databaseURL string
	clients     *registry.Clients
	log         zerolog.Logger
}

// NewListener creates a Listener.
func NewListener(databaseURL string, clients *registry.Clients, log zerolog.Logger) *Listener {
	return &Listener{databaseURL: databaseURL, clients: clients, log: log}
}

// Run listens until the context is cancelled. lib/pq reconnects on its own;
// a nil notification marks a reconnect, after which Postgres may have
// dropped events, so affected accounts will catch up on their next refresh.
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.databaseURL, minReconnectInterval, maxReconnectInterval, func(event pq.ListenerEventType, err error) {
		if err != nil {
			l.log.Error().Err(err).Int("event", int(event)).Msg("pubsub: listener event")
		}
	})
	defer listener.Close()

	for _, channel := range []string{ChannelRoleUpdated, ChannelAccountUpdated, ChannelInstallationLogin} {
		if err := listener.Listen(channel); err != nil {
			return err
		}
	}
	l.log.Info().Msg("pubsub: listening")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notification := <-listener.Notify:
			if notification == nil {
				l.log.Warn().Msg("pubsub: connection re-established")
				continue
			}
			l.Dispatch(ctx, notification.Channel, notification.Extra)
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					l.log.Error().Err(err).Msg("pubsub: ping failed")
				}
			}()
		}
	}
}

// Dispatch applies one notification to the registry.
func (l *Listener) Dispatch(ctx context.Context, channel, payload string) {
	switch channel {
	case ChannelRoleUpdated:
		roleID, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			l.log.Error().Str("payload", payload).Msg("pubsub: bad role id")
			return
		}
		l.log.Info().Int64("role_id", roleID).Msg("pubsub: role updated")
		l.clients.RoleUpdated(ctx, roleID)

	case ChannelAccountUpdated:
		accountID, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			l.log.Error().Str("payload", payload).Msg("pubsub: bad account id")
			return
		}
		l.log.Info().Int64("account_id", accountID).Msg("pubsub: account updated")
		l.clients.AccountUpdated(ctx, accountID)

	case ChannelInstallationLogin:
		installationID, err := uuid.Parse(payload)
		if err != nil {
			l.log.Error().Str("payload", payload).Msg("pubsub: bad installation id")
			return
		}
		l.log.Info().Str("installation_id", payload).Msg("pubsub: installation logged in")
		account, err := l.clients.AssociateAccount(ctx, installationID)
		if err != nil {
			// The session may have disconnected, or the login did not
			// complete. Either way there is nobody to notify.
			l.log.Debug().Err(err).Str("installation_id", payload).Msg("pubsub: association skipped")
			return
		}
		profile, set := account.Snapshot()
		l.clients.SendToInstallationID(installationID, protocol.Response{
			Type: protocol.ResponseAuthenticated,
			Authenticated: &protocol.Authenticated{
				Profile:     profile,
				Permissions: set,
			},
		})

	default:
		l.log.Warn().Str("channel", channel).Msg("pubsub: unknown channel")
	}
}

// Notify emits an event through Postgres so every listening server instance
// sees it, including this one.
func Notify(db *gorm.DB, channel, payload string) error {
	return db.Exec("SELECT pg_notify(?, ?)", channel, payload).Error
}

// NotifyRoleUpdated publishes a role change.
func NotifyRoleUpdated(db *gorm.DB, roleID int64) error {
	return Notify(db, ChannelRoleUpdated, strconv.FormatInt(roleID, 10))
}

// NotifyInstallationLogin publishes a completed login.
func NotifyInstallationLogin(db *gorm.DB, installationID uuid.UUID) error {
	return Notify(db, ChannelInstallationLogin, installationID.String())
}
