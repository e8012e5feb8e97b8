// Package server provides the HTTP and WebSocket server for ncog.
//
// This package implements the server that carries client sessions. It uses
// gorilla/mux for routing and gorilla/websocket for the session transport.
//
// # Server Setup
//
//	srv := server.NewServer(cfg, db, store, clients, log)
//	if err := srv.Start(); err != nil {
//	    log.Fatal().Err(err).Msg("server stopped")
//	}
//
// # Components
//
// The Server struct holds:
//
//   - Router: HTTP request router
//   - DB: Database connection
//   - Store: Storage surface for profiles, permissions and IAM records
//   - Clients: In-memory session registry
//   - Config: Runtime configuration
//
// # Endpoints
//
//   - /ws - WebSocket session endpoint; all client requests travel over it
//   - /auth/callback - Login callback that links an installation to an account
//   - /metrics - Prometheus metrics
//   - /__healthcheck - Liveness probe, pings the database
//
// Over the WebSocket, clients authenticate with their installation id, check
// permissions against their account's compiled statement set, and, when
// authorized, manage users, roles and permission statements.
package server
