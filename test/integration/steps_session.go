package integration

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ncog-id/ncog/pkg/permissions"
	"github.com/ncog-id/ncog/pkg/protocol"
)

const readTimeout = 10 * time.Second

// iOpenANewSession dials the WebSocket endpoint and authenticates without an
// installation id. The server assigns one and reports the session state.
func (s *StepsContext) iOpenANewSession() error {
	s.closeSession()
	s.installationID = nil
	return s.authenticate()
}

// iReconnectWithTheSameInstallation closes the current connection and
// authenticates again presenting the adopted installation id.
func (s *StepsContext) iReconnectWithTheSameInstallation() error {
	if s.installationID == nil {
		return fmt.Errorf("no installation id to reconnect with")
	}
	s.closeSession()
	return s.authenticate()
}

func (s *StepsContext) authenticate() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.tc.WebSocketURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.tc.WebSocketURL, err)
	}
	s.conn = conn

	s.requestID++
	request := protocol.Request{
		ID:   s.requestID,
		Type: protocol.RequestAuthenticate,
		Authenticate: &protocol.Authenticate{
			InstallationID: s.installationID,
			Version:        protocol.Version,
		},
	}
	if err := conn.WriteJSON(request); err != nil {
		return err
	}

	// A fresh installation is told to adopt an id before the session state
	// arrives.
	for {
		response, err := s.readResponse()
		if err != nil {
			return err
		}
		switch response.Type {
		case protocol.ResponseAdoptInstallationID:
			id := response.AdoptInstallation.InstallationID
			s.installationID = &id
		case protocol.ResponseUnauthenticated:
			s.lastResponse = response
			return nil
		case protocol.ResponseAuthenticated:
			s.lastResponse = response
			s.lastAuth = response.Authenticated
			return nil
		case protocol.ResponseError:
			return fmt.Errorf("authenticate failed: %s", response.Error.Message)
		default:
			return fmt.Errorf("unexpected response %q during authenticate", response.Type)
		}
	}
}

func (s *StepsContext) closeSession() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.lastResponse = nil
	s.lastAuth = nil
}

// readResponse reads the next non-ping message from the session.
func (s *StepsContext) readResponse() (*protocol.Response, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("no open session")
	}
	deadline := time.Now().Add(readTimeout)
	_ = s.conn.SetReadDeadline(deadline)

	for time.Now().Before(deadline) {
		var response protocol.Response
		if err := s.conn.ReadJSON(&response); err != nil {
			return nil, err
		}
		if response.Type == protocol.ResponsePing {
			continue
		}
		return &response, nil
	}
	return nil, fmt.Errorf("timed out waiting for a response")
}

// waitForAuthenticated reads until an authenticated push arrives. The pubsub
// round trip through Postgres makes the arrival asynchronous.
func (s *StepsContext) waitForAuthenticated() error {
	for {
		response, err := s.readResponse()
		if err != nil {
			return fmt.Errorf("waiting for authenticated: %w", err)
		}
		if response.Type == protocol.ResponseAuthenticated {
			s.lastResponse = response
			s.lastAuth = response.Authenticated
			return nil
		}
	}
}

func (s *StepsContext) theSessionIsUnauthenticated() error {
	if s.lastResponse == nil || s.lastResponse.Type != protocol.ResponseUnauthenticated {
		return fmt.Errorf("expected an unauthenticated session, last response: %+v", s.lastResponse)
	}
	return nil
}

func (s *StepsContext) theSessionIsAuthenticatedAs(login string) error {
	if s.lastAuth == nil {
		if err := s.waitForAuthenticated(); err != nil {
			return err
		}
	}
	profile := s.lastAuth.Profile
	if profile.Login == nil || *profile.Login != login {
		return fmt.Errorf("expected login %q, got %v", login, profile.Login)
	}
	if s.lastAuth.Permissions == nil {
		return fmt.Errorf("authenticated response carries no permissions")
	}
	return nil
}

func (s *StepsContext) theSessionReceivesRefreshedPermissions() error {
	return s.waitForAuthenticated()
}

func (s *StepsContext) checkSessionClaim(service, resourceType, action string) (bool, error) {
	if s.lastAuth == nil || s.lastAuth.Permissions == nil {
		return false, fmt.Errorf("session has no permissions; authenticate first")
	}
	claim := permissions.NewClaim(service, &resourceType, nil, action)
	return s.lastAuth.Permissions.Allowed(claim), nil
}

func (s *StepsContext) iRequestTheAuthenticationURL() error {
	s.requestID++
	request := protocol.Request{
		ID:   s.requestID,
		Type: protocol.RequestAuthenticationURL,
	}
	if err := s.conn.WriteJSON(request); err != nil {
		return err
	}
	response, err := s.readResponse()
	if err != nil {
		return err
	}
	if response.Type != protocol.ResponseAuthenticateAtURL {
		return fmt.Errorf("expected authenticate_at_url, got %q", response.Type)
	}
	s.lastResponse = response
	return nil
}

func (s *StepsContext) theAuthenticationURLCarriesMyInstallationID() error {
	if s.lastResponse == nil || s.lastResponse.AuthenticateAtURL == nil {
		return fmt.Errorf("no authentication URL response")
	}
	if s.installationID == nil {
		return fmt.Errorf("no installation id")
	}
	url := s.lastResponse.AuthenticateAtURL.URL
	if !strings.Contains(url, s.installationID.String()) {
		return fmt.Errorf("URL %q does not carry installation id %s", url, s.installationID)
	}
	return nil
}
