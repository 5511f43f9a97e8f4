// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the ballotbox API server.

ballotbox runs time-windowed polls where every participant counts at most
once, anonymous ballots carry no identity, concurrent edits are resolved by
revision, and tallies stream live to subscribers.

# Starting the Server

The default database type is SQLite, so a local file is enough:

	go run . -d file:ballotbox.db

Or against PostgreSQL with flags:

	go run . -p 3318 -t postgres -d "postgres://..." --encryption-key ...

A .env file in the working directory is loaded when present.

# Configuration

Required settings:

  - DATABASE_URL (-d): SQLite file URL or PostgreSQL connection string
  - ENCRYPTION_KEY (--encryption-key): 32-byte hex key for stored emails
  - ADMIN_KEY_SALT (--admin-salt): Secret for admin key HMAC
  - CORRELATION_SALT (--correlation-salt): Secret for hashing client IPs

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite (default) or postgres
  - ADMIN_EMAILS: Comma separated admin allow-list
  - RATE_LIMIT, RATE_WINDOW, BURST_THRESHOLD, BURST_WINDOW: Admission limits
  - RATE_STORE: memory (per process) or sql (shared)
  - SWEEP_INTERVAL: Lifecycle sweep period
  - LOG_LEVEL, LOG_FILE: Logging
  - CORS_ORIGINS: Comma separated allowed origins
  - TRUSTED_PROXIES: Comma separated proxy addresses or CIDRs whose
    X-Forwarded-For is believed; empty means the socket peer is the client

# Architecture

  - handlers: HTTP request handlers (voters, polls, voting, tallies)
  - router: Component wiring and route definitions
  - middleware: CORS, logging, JSON helpers
  - vote: Vote casting engine
  - editor: Poll validation and optimistic edits
  - guard: Admission guard for vote attempts
  - lifecycle: Poll status and the background sweep
  - tally: Results visibility and the live broadcaster
  - store: Ballot store and transactions
  - identity: Email hashing and encryption
  - auth: Keys, tokens and claims
  - metrics: Prometheus collectors
  - db: Connections and schema
  - cliparse: Configuration parsing

The server, the lifecycle sweep and the rate counter pruner run under one
errgroup and stop together on SIGINT or SIGTERM.
*/
package main
