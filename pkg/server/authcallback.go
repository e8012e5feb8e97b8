package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ncog-id/ncog/pkg/pubsub"
)

// callbackClaims is the assertion the login service posts back after a user
// completes the external flow. It is signed with the shared callback secret.
type callbackClaims struct {
	InstallationID string `json:"installation_id"`
	AccountID      int64  `json:"account_id"`
	jwt.RegisteredClaims
}

// handleAuthCallback links an installation to an account once the external
// login service vouches for it, then broadcasts the login so whichever
// server instance holds the session pushes the authenticated state.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.Config.CallbackSecret == "" {
		http.Error(w, "callback disabled", http.StatusNotImplemented)
		return
	}

	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	claims := &callbackClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.Config.CallbackSecret), nil
	})
	if err != nil || !parsed.Valid {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	installationID, err := uuid.Parse(claims.InstallationID)
	if err != nil || claims.AccountID == 0 {
		http.Error(w, "invalid claims", http.StatusBadRequest)
		return
	}

	if err := s.Store.SetInstallationAccountID(r.Context(), installationID, claims.AccountID); err != nil {
		s.log.Error().Err(err).Str("installation_id", claims.InstallationID).Msg("callback: link failed")
		http.Error(w, "failed to link installation", http.StatusInternalServerError)
		return
	}

	if err := pubsub.NotifyInstallationLogin(s.DB, installationID); err != nil {
		s.log.Error().Err(err).Str("installation_id", claims.InstallationID).Msg("callback: notify failed")
	}

	w.WriteHeader(http.StatusNoContent)
}
