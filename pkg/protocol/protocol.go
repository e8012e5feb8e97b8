// Package protocol defines the JSON messages exchanged over a ncog WebSocket
// session. Requests and responses are tagged envelopes: Type names the
// variant and exactly one payload field is populated.
package protocol

import (
	"time"

	"github.com/google/uuid"

	"github.com/ncog-id/ncog/pkg/permissions"
)

// Version is the protocol version the server speaks. Clients send theirs in
// the Authenticate request and are told to update on mismatch.
const Version = "0.1.0"

// Request variant tags.
const (
	RequestAuthenticate      = "authenticate"
	RequestAuthenticationURL = "authentication_url"
	RequestPong              = "pong"
	RequestIAM               = "iam"
)

// Response variant tags.
const (
	ResponseUnauthenticated      = "unauthenticated"
	ResponseAuthenticated        = "authenticated"
	ResponseAdoptInstallationID  = "adopt_installation_id"
	ResponseAuthenticateAtURL    = "authenticate_at_url"
	ResponsePing                 = "ping"
	ResponseError                = "error"
	ResponseIAM                  = "iam"
)

// Request is the client-to-server envelope. ID is echoed back on responses
// that answer this request.
type Request struct {
	ID           int64         `json:"id"`
	Type         string        `json:"type"`
	Authenticate *Authenticate `json:"authenticate,omitempty"`
	Pong         *Pong         `json:"pong,omitempty"`
	IAM          *IAMRequest   `json:"iam,omitempty"`
}

// Authenticate opens a session. InstallationID is nil on a client's very
// first connection; the server assigns one and tells the client to adopt it.
type Authenticate struct {
	InstallationID *uuid.UUID `json:"installation_id"`
	Version        string     `json:"version"`
}

// Pong answers a server Ping and carries the client's clock reading so the
// server can track roundtrip time and clock skew.
type Pong struct {
	OriginalTimestamp float64 `json:"original_timestamp"`
	Timestamp         float64 `json:"timestamp"`
}

// Response is the server-to-client envelope. RequestID is zero for messages
// the server pushes on its own (pings, permission refreshes).
type Response struct {
	RequestID          int64                      `json:"request_id,omitempty"`
	Type               string                     `json:"type"`
	Authenticated      *Authenticated             `json:"authenticated,omitempty"`
	AdoptInstallation  *AdoptInstallationID       `json:"adopt_installation_id,omitempty"`
	AuthenticateAtURL  *AuthenticateAtURL         `json:"authenticate_at_url,omitempty"`
	Ping               *Ping                      `json:"ping,omitempty"`
	Error              *Error                     `json:"error,omitempty"`
	IAM                *IAMResponse               `json:"iam,omitempty"`
}

// Authenticated reports a successful account association. It is also re-sent
// whenever the account's permissions change server-side.
type Authenticated struct {
	Profile     UserProfile                `json:"profile"`
	Permissions *permissions.PermissionSet `json:"permissions"`
}

// AdoptInstallationID instructs the client to persist its assigned
// installation id for future connections.
type AdoptInstallationID struct {
	InstallationID uuid.UUID `json:"installation_id"`
}

// AuthenticateAtURL directs the client to the external login page.
type AuthenticateAtURL struct {
	URL string `json:"url"`
}

// Ping is the periodic timing probe, carrying the session's current
// estimates back to the client.
type Ping struct {
	Timestamp                   float64 `json:"timestamp"`
	AverageRoundtrip            float64 `json:"average_roundtrip"`
	AverageServerTimestampDelta float64 `json:"average_server_timestamp_delta"`
}

// Error reports a failed request. Never fatal to the session.
type Error struct {
	Message string `json:"message,omitempty"`
}

// UserProfile is the public identity of an account.
type UserProfile struct {
	ID          int64   `json:"id"`
	Login       *string `json:"login"`
	DisplayName *string `json:"display_name"`
}

// Timestamp returns the current wall clock as fractional seconds since the
// Unix epoch, the unit used throughout the timing protocol.
func Timestamp() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Errorf builds an error response for a request.
func Errorf(requestID int64, message string) Response {
	return Response{RequestID: requestID, Type: ResponseError, Error: &Error{Message: message}}
}
