package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ncog-id/ncog/pkg/audit"
	"github.com/ncog-id/ncog/pkg/protocol"
	"github.com/ncog-id/ncog/pkg/registry"
	"github.com/ncog-id/ncog/pkg/server/store"
)

// session is the server side of one WebSocket connection. A session starts
// anonymous; the authenticate request registers it with the registry under
// its installation id.
type session struct {
	server         *Server
	conn           *websocket.Conn
	client         *registry.Client
	installationID *uuid.UUID
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("ws: upgrade failed")
		return
	}

	sess := &session{
		server: s,
		conn:   conn,
		client: registry.NewClient(s.Config.OutboundBuffer),
	}
	go sess.writeLoop()
	sess.readLoop(r.Context())
}

// writeLoop drains the client's outbound queue onto the wire. It owns all
// writes to the connection and closes it when the queue shuts.
func (sess *session) writeLoop() {
	for response := range sess.client.Out() {
		if err := sess.conn.WriteJSON(response); err != nil {
			sess.server.log.Debug().Err(err).Msg("ws: write failed")
			break
		}
	}
	_ = sess.conn.Close()
}

func (sess *session) readLoop(ctx context.Context) {
	defer sess.teardown()

	for {
		var request protocol.Request
		if err := sess.conn.ReadJSON(&request); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.server.log.Debug().Err(err).Msg("ws: read failed")
			}
			return
		}
		sess.dispatch(ctx, request)
	}
}

func (sess *session) teardown() {
	if sess.installationID != nil {
		sess.server.Clients.Disconnect(*sess.installationID, sess.client)
		return
	}
	sess.client.Close()
}

func (sess *session) dispatch(ctx context.Context, request protocol.Request) {
	switch request.Type {
	case protocol.RequestAuthenticate:
		sess.handleAuthenticate(ctx, request)
	case protocol.RequestAuthenticationURL:
		sess.handleAuthenticationURL(request)
	case protocol.RequestPong:
		sess.handlePong(request)
	case protocol.RequestIAM:
		sess.handleIAM(ctx, request)
	default:
		sess.client.Send(protocol.Errorf(request.ID, "unknown request type"))
	}
}

func (sess *session) handleAuthenticate(ctx context.Context, request protocol.Request) {
	auth := request.Authenticate
	if auth == nil {
		sess.client.Send(protocol.Errorf(request.ID, "missing authenticate payload"))
		return
	}
	if auth.Version != protocol.Version {
		sess.client.Send(protocol.Errorf(request.ID, "client out of date"))
		return
	}

	adopted := auth.InstallationID == nil
	installationID := uuid.New()
	if !adopted {
		installationID = *auth.InstallationID
	}

	installation, err := sess.server.Store.LookupInstallation(ctx, installationID)
	if err != nil {
		sess.server.log.Error().Err(err).Msg("ws: installation lookup failed")
		sess.client.Send(protocol.Errorf(request.ID, "authentication failed"))
		return
	}

	sess.server.Clients.Connect(installationID, sess.client)
	sess.installationID = &installationID

	if adopted {
		sess.client.Send(protocol.Response{
			RequestID: request.ID,
			Type:      protocol.ResponseAdoptInstallationID,
			AdoptInstallation: &protocol.AdoptInstallationID{
				InstallationID: installationID,
			},
		})
	}

	if installation.AccountID == nil {
		sess.client.Send(protocol.Response{RequestID: request.ID, Type: protocol.ResponseUnauthenticated})
		return
	}

	account, err := sess.server.Clients.AssociateAccount(ctx, installationID)
	if err != nil {
		if !errors.Is(err, store.ErrNoProfile) && !errors.Is(err, registry.ErrSessionClosed) {
			sess.server.log.Error().Err(err).Msg("ws: account association failed")
		}
		audit.Log(audit.AssociateEvent{InstallationID: installationID.String(), ErrorMessage: err.Error()})
		sess.client.Send(protocol.Response{RequestID: request.ID, Type: protocol.ResponseUnauthenticated})
		return
	}

	audit.Log(audit.AssociateEvent{InstallationID: installationID.String(), AccountID: account.ID(), Success: true})
	profile, set := account.Snapshot()
	sess.client.Send(protocol.Response{
		RequestID: request.ID,
		Type:      protocol.ResponseAuthenticated,
		Authenticated: &protocol.Authenticated{
			Profile:     profile,
			Permissions: set,
		},
	})
}

func (sess *session) handleAuthenticationURL(request protocol.Request) {
	if sess.installationID == nil {
		sess.client.Send(protocol.Errorf(request.ID, "authenticate first"))
		return
	}
	url := sess.server.Config.AuthorizationURL + "?installation_id=" + sess.installationID.String()
	sess.client.Send(protocol.Response{
		RequestID:         request.ID,
		Type:              protocol.ResponseAuthenticateAtURL,
		AuthenticateAtURL: &protocol.AuthenticateAtURL{URL: url},
	})
}

func (sess *session) handlePong(request protocol.Request) {
	if request.Pong == nil {
		return
	}
	sess.client.UpdateTiming(request.Pong.OriginalTimestamp, request.Pong.Timestamp)
}
