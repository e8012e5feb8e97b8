package audit

import (
	"bytes"
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetWriter(&buf)

	logger.Log(CheckEvent{AccountID: 7, Claim: "svc:post:5:read", Allowed: true})

	line := buf.String()
	// <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID ...
	assert.Regexp(t, regexp.MustCompile(`^<86>1 \d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z \S+ ncog \d+ check `), line)
	assert.Contains(t, line, `claim="svc:post:5:read"`)
	assert.Contains(t, line, "account 7 checked svc:post:5:read: allowed")
}

func TestDeniedCheckMessage(t *testing.T) {
	event := CheckEvent{AccountID: 9, Claim: "svc:*:*:delete", Allowed: false}
	assert.Equal(t, "account 9 checked svc:*:*:delete: denied", event.Message())
	assert.Equal(t, "failure", event.StructuredData()[SDIDAction]["result"])
}

func TestAssociateEvent(t *testing.T) {
	success := AssociateEvent{InstallationID: "0c9461c1-8885-4a5a-a68c-96f5d270d11e", AccountID: 3, Success: true}
	assert.Equal(t, SeverityInfo, success.Severity())
	assert.Contains(t, success.Message(), "associated with account 3")

	failure := AssociateEvent{InstallationID: "0c9461c1-8885-4a5a-a68c-96f5d270d11e", Success: false, ErrorMessage: "no profile"}
	assert.Equal(t, SeverityWarning, failure.Severity())
	assert.Contains(t, failure.Message(), "no profile")
}

func TestRoleSavedEvent(t *testing.T) {
	created := RoleSavedEvent{ActorAccountID: 1, RoleID: 5, RoleName: "administrators", Created: true}
	assert.Contains(t, created.Message(), "created role 5")
	assert.Equal(t, "create", created.StructuredData()[SDIDAction]["operation"])

	updated := RoleSavedEvent{ActorAccountID: 1, RoleID: 5, RoleName: "administrators"}
	assert.Contains(t, updated.Message(), "updated role 5")
}

func TestStructuredDataEscaping(t *testing.T) {
	escaped := escapeSDValue(`value with "quotes" and ] bracket`)
	assert.Equal(t, `"value with \"quotes\" and \] bracket"`, escaped)
}

func TestSetEnabled(t *testing.T) {
	original := auditEnabled
	defer SetEnabled(original)

	var buf bytes.Buffer
	DefaultLogger.SetWriter(&buf)
	defer DefaultLogger.SetWriter(os.Stdout)

	SetEnabled(false)
	Log(CheckEvent{AccountID: 1, Claim: "svc:*:*:read", Allowed: true})
	require.Empty(t, buf.String())
}
