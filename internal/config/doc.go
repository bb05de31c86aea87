// Package config handles configuration loading for deskbridge.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${DESKBRIDGE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "24h"
//	bridge:
//	  dedupe_ttl: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API, widget websocket, Slack webhooks
//
// Database:
//
//	database:
//	  path: "/var/lib/deskbridge/deskbridge.db"
//
// Widget session tokens:
//
//	auth:
//	  jwt_secret: "${DESKBRIDGE_JWT_SECRET}"
//	  token_ttl: "24h"
//
// Relay behavior:
//
//	bridge:
//	  dedupe_ttl: "5m"
//	  dedupe_max_size: 10000
//
// Slack integration:
//
//	slack:
//	  enabled: true
//	  bot_token: "${SLACK_BOT_TOKEN}"
//	  signing_secret: "${SLACK_SIGNING_SECRET}"
//	  bot_user_id: "U0123456789"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/deskbridge/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
