// Package audit provides audit logging for security-relevant operations.
//
// Events are emitted in RFC5424 syslog format and optionally persisted to a
// dedicated audit database.
//
// # Event Types
//
//   - Account association events (success/failure)
//   - Permission check events
//   - Role save events
//   - Permission statement save events
//
// # Usage
//
//	audit.Log(audit.CheckEvent{AccountID: id, Claim: claim.String(), Allowed: true})
//
// Audit events are logged in a structured format suitable for security
// monitoring and compliance requirements.
package audit
