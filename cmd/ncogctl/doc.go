// Package main provides ncogctl, the CLI for the ncog session and
// authorization server.
//
// ncog keeps persistent WebSocket sessions for client installations,
// associates them with accounts after an external login, and answers
// permission checks from compiled per-account permission sets. Role and
// login changes propagate to connected sessions through Postgres NOTIFY.
//
// # Architecture
//
// The server is organized into several packages:
//
//   - pkg/server: HTTP/WebSocket server and routing
//   - pkg/registry: connected session and account registry
//   - pkg/permissions: permission statement evaluation
//   - pkg/protocol: WebSocket message envelopes
//   - pkg/pubsub: Postgres LISTEN/NOTIFY bridge
//   - pkg/model: database models
//   - pkg/db: database connection utilities
//   - pkg/audit: audit logging
//   - pkg/config: configuration management
//
// # Quick Start
//
//	# Run database migrations
//	ncogctl db migrate
//
//	# Start the server
//	ncogctl server
//
// # Environment Variables
//
//   - DATABASE_URL: PostgreSQL connection string
//   - NCOG_CALLBACK_SECRET: Login callback signing key
//   - NCOG_LOG_LEVEL: Log level (debug, info, warn, error)
//   - NCOG_PORT: Server port (default: 7878)
package main
