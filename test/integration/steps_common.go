package integration

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cucumber/godog"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ncog-id/ncog/pkg/protocol"
)

// StepsContext holds state shared between step definitions
type StepsContext struct {
	tc *TestContext

	accountIDs map[string]int64
	roleIDs    map[string]int64

	conn           *websocket.Conn
	installationID *uuid.UUID
	requestID      int64
	lastAuth       *protocol.Authenticated
	lastResponse   *protocol.Response
	lastStatus     int
}

// NewStepsContext creates a new steps context
func NewStepsContext(tc *TestContext) *StepsContext {
	return &StepsContext{
		tc:         tc,
		accountIDs: make(map[string]int64),
		roleIDs:    make(map[string]int64),
	}
}

// RegisterSteps registers all step definitions
func (s *StepsContext) RegisterSteps(sc *godog.ScenarioContext) {
	// Background steps
	sc.Step(`^the server is running$`, s.theServerIsRunning)
	sc.Step(`^an account "([^"]*)" exists$`, s.anAccountExists)
	sc.Step(`^a role "([^"]*)" exists$`, s.aRoleExists)
	sc.Step(`^role "([^"]*)" allows "([^"]*)" on "([^"]*)" in service "([^"]*)"$`, s.roleAllowsActionOnResource)
	sc.Step(`^account "([^"]*)" holds role "([^"]*)"$`, s.accountHoldsRole)

	// Session steps
	sc.Step(`^I open a new session$`, s.iOpenANewSession)
	sc.Step(`^I reconnect with the same installation$`, s.iReconnectWithTheSameInstallation)
	sc.Step(`^the session is unauthenticated$`, s.theSessionIsUnauthenticated)
	sc.Step(`^the session is authenticated as "([^"]*)"$`, s.theSessionIsAuthenticatedAs)
	sc.Step(`^the session receives refreshed permissions$`, s.theSessionReceivesRefreshedPermissions)
	sc.Step(`^I request the authentication URL$`, s.iRequestTheAuthenticationURL)
	sc.Step(`^the authentication URL carries my installation id$`, s.theAuthenticationURLCarriesMyInstallationID)

	// Login callback steps
	sc.Step(`^the login flow links my installation to account "([^"]*)"$`, s.theLoginFlowLinksMyInstallation)
	sc.Step(`^the callback response status should be (\d+)$`, s.theCallbackResponseStatusShouldBe)

	// Permission steps
	sc.Step(`^the session permissions allow "([^"]*)" on "([^"]*)" in service "([^"]*)"$`, s.sessionPermissionsAllow)
	sc.Step(`^the session permissions deny "([^"]*)" on "([^"]*)" in service "([^"]*)"$`, s.sessionPermissionsDeny)
	sc.Step(`^role "([^"]*)" gains "([^"]*)" on "([^"]*)" in service "([^"]*)"$`, s.roleGainsActionOnResource)

	sc.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		s.closeSession()
		return ctx, nil
	})
}

// Background steps

func (s *StepsContext) theServerIsRunning() error {
	// Server is already running via TestContext
	return nil
}

func (s *StepsContext) anAccountExists(login string) error {
	if _, ok := s.accountIDs[login]; ok {
		return nil
	}
	var id int64
	err := s.tc.DB.Raw(`
		INSERT INTO accounts (login, display_name) VALUES (?, ?) RETURNING id
	`, login, login).Scan(&id).Error
	if err != nil {
		return err
	}
	s.accountIDs[login] = id
	return nil
}

func (s *StepsContext) aRoleExists(name string) error {
	if _, ok := s.roleIDs[name]; ok {
		return nil
	}
	var id int64
	err := s.tc.DB.Raw(`
		INSERT INTO roles (name) VALUES (?) RETURNING id
	`, name).Scan(&id).Error
	if err != nil {
		return err
	}
	s.roleIDs[name] = id
	return nil
}

func (s *StepsContext) roleAllowsActionOnResource(role, action, resourceType, service string) error {
	roleID, ok := s.roleIDs[role]
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	return s.tc.DB.Exec(`
		INSERT INTO role_permission_statements (role_id, service, resource_type, action, allow)
		VALUES (?, ?, ?, ?, true)
	`, roleID, service, resourceType, action).Error
}

func (s *StepsContext) accountHoldsRole(login, role string) error {
	accountID, ok := s.accountIDs[login]
	if !ok {
		return fmt.Errorf("unknown account %q", login)
	}
	roleID, ok := s.roleIDs[role]
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	return s.tc.DB.Exec(`
		INSERT INTO account_roles (account_id, role_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, accountID, roleID).Error
}

// Login callback steps

func (s *StepsContext) theLoginFlowLinksMyInstallation(login string) error {
	if s.installationID == nil {
		return fmt.Errorf("no installation id; open a session first")
	}
	accountID, ok := s.accountIDs[login]
	if !ok {
		return fmt.Errorf("unknown account %q", login)
	}

	claims := jwt.MapClaims{
		"installation_id": s.installationID.String(),
		"account_id":      accountID,
		"exp":             time.Now().Add(time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(s.tc.CallbackSecret))
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", s.tc.ServerURL+"/auth/callback", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.tc.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	s.lastStatus = resp.StatusCode
	return nil
}

func (s *StepsContext) theCallbackResponseStatusShouldBe(expected int) error {
	if s.lastStatus != expected {
		return fmt.Errorf("expected callback status %d, got %d", expected, s.lastStatus)
	}
	return nil
}

// Permission steps

func (s *StepsContext) sessionPermissionsAllow(action, resourceType, service string) error {
	allowed, err := s.checkSessionClaim(service, resourceType, action)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("expected %s on %s in %s to be allowed", action, resourceType, service)
	}
	return nil
}

func (s *StepsContext) sessionPermissionsDeny(action, resourceType, service string) error {
	allowed, err := s.checkSessionClaim(service, resourceType, action)
	if err != nil {
		return err
	}
	if allowed {
		return fmt.Errorf("expected %s on %s in %s to be denied", action, resourceType, service)
	}
	return nil
}

func (s *StepsContext) roleGainsActionOnResource(role, action, resourceType, service string) error {
	// Same insert as the background step; the statement trigger broadcasts
	// the role change to connected sessions.
	return s.roleAllowsActionOnResource(role, action, resourceType, service)
}
