package audit

import (
	"fmt"
	"strconv"
)

// AssociateEvent records an installation gaining (or failing to gain) an
// account association.
type AssociateEvent struct {
	InstallationID string
	AccountID      int64
	Success        bool
	ErrorMessage   string
}

func (e AssociateEvent) MessageID() string {
	return "associate"
}

func (e AssociateEvent) Message() string {
	if e.Success {
		return fmt.Sprintf("installation %s associated with account %d", e.InstallationID, e.AccountID)
	}
	msg := fmt.Sprintf("installation %s failed to associate", e.InstallationID)
	if e.ErrorMessage != "" {
		msg += ": " + e.ErrorMessage
	}
	return msg
}

func (e AssociateEvent) Severity() Severity {
	if e.Success {
		return SeverityInfo
	}
	return SeverityWarning
}

func (e AssociateEvent) Facility() int {
	return FacilityAuthPriv
}

func (e AssociateEvent) StructuredData() map[string]map[string]string {
	result := "success"
	if !e.Success {
		result = "failure"
	}
	return map[string]map[string]string{
		SDIDSession: {
			"installation": e.InstallationID,
		},
		SDIDAuth: {
			"account": strconv.FormatInt(e.AccountID, 10),
		},
		SDIDAction: {
			"operation": "associate",
			"result":    result,
		},
	}
}

// CheckEvent records a permission check against a claim.
type CheckEvent struct {
	AccountID int64
	Claim     string
	Allowed   bool
}

func (e CheckEvent) MessageID() string {
	return "check"
}

func (e CheckEvent) Message() string {
	if e.Allowed {
		return fmt.Sprintf("account %d checked %s: allowed", e.AccountID, e.Claim)
	}
	return fmt.Sprintf("account %d checked %s: denied", e.AccountID, e.Claim)
}

func (e CheckEvent) Severity() Severity {
	return SeverityInfo
}

func (e CheckEvent) Facility() int {
	return FacilityAuthPriv
}

func (e CheckEvent) StructuredData() map[string]map[string]string {
	result := "success"
	if !e.Allowed {
		result = "failure"
	}
	return map[string]map[string]string{
		SDIDAuth: {
			"account": strconv.FormatInt(e.AccountID, 10),
		},
		SDIDSubject: {
			"claim": e.Claim,
		},
		SDIDAction: {
			"operation": "check",
			"result":    result,
		},
	}
}

// RoleSavedEvent records a role create or update through the IAM surface.
type RoleSavedEvent struct {
	ActorAccountID int64
	RoleID         int64
	RoleName       string
	Created        bool
}

func (e RoleSavedEvent) MessageID() string {
	return "role-save"
}

func (e RoleSavedEvent) Message() string {
	verb := "updated"
	if e.Created {
		verb = "created"
	}
	return fmt.Sprintf("account %d %s role %d (%s)", e.ActorAccountID, verb, e.RoleID, e.RoleName)
}

func (e RoleSavedEvent) Severity() Severity {
	return SeverityNotice
}

func (e RoleSavedEvent) Facility() int {
	return FacilityAuth
}

func (e RoleSavedEvent) StructuredData() map[string]map[string]string {
	operation := "update"
	if e.Created {
		operation = "create"
	}
	return map[string]map[string]string{
		SDIDAuth: {
			"account": strconv.FormatInt(e.ActorAccountID, 10),
		},
		SDIDSubject: {
			"role": strconv.FormatInt(e.RoleID, 10),
			"name": e.RoleName,
		},
		SDIDAction: {
			"operation": operation,
			"result":    "success",
		},
	}
}

// StatementSavedEvent records a permission statement create or update.
type StatementSavedEvent struct {
	ActorAccountID int64
	StatementID    int64
	Created        bool
}

func (e StatementSavedEvent) MessageID() string {
	return "statement-save"
}

func (e StatementSavedEvent) Message() string {
	verb := "updated"
	if e.Created {
		verb = "created"
	}
	return fmt.Sprintf("account %d %s permission statement %d", e.ActorAccountID, verb, e.StatementID)
}

func (e StatementSavedEvent) Severity() Severity {
	return SeverityNotice
}

func (e StatementSavedEvent) Facility() int {
	return FacilityAuth
}

func (e StatementSavedEvent) StructuredData() map[string]map[string]string {
	operation := "update"
	if e.Created {
		operation = "create"
	}
	return map[string]map[string]string{
		SDIDAuth: {
			"account": strconv.FormatInt(e.ActorAccountID, 10),
		},
		SDIDSubject: {
			"statement": strconv.FormatInt(e.StatementID, 10),
		},
		SDIDAction: {
			"operation": operation,
			"result":    "success",
		},
	}
}
