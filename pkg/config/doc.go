// Package config provides configuration management for the ncog server.
//
// This package handles loading and validating server configuration from
// environment variables and a YAML configuration file.
//
// # Configuration Sources
//
// Configuration is loaded from:
//
//   - Environment variables (primary)
//   - Configuration file (optional, /etc/ncog/config/ncog.yml)
//
// # Key Configuration Options
//
//   - NCOG_DATABASE_URL / DATABASE_URL: Postgres connection
//   - NCOG_BIND_ADDRESS, NCOG_PORT: Listen address
//   - NCOG_AUTHORIZATION_URL: External login page
//   - NCOG_CALLBACK_SECRET: Login callback signing key
//   - NCOG_LOG_LEVEL, NCOG_LOG_FORMAT: Logging
package config
