// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# CLI Flags

	-p, --port             Server port (default 3318)
	-d, --database-url     Database URL
	-t, --database-type    sqlite or postgres (default sqlite)
	--env-file             Load environment from a file
	--admin-salt           Admin key salt
	--correlation-salt     Salt for hashing client origins
	--encryption-key       Hex encoded 32-byte identity key
	--admin-emails         Admin allow-list
	--rate-limit           Vote attempts per origin per window (default 8)
	--rate-window          Rate limit window (default 10m)
	--burst-threshold      Requests per burst window (default 3)
	--burst-window         Burst window (default 500ms)
	--rate-store           memory or sql (default memory)
	--sweep-interval       Lifecycle sweep interval (default 1m)
	--log-level            debug, info, warn or error
	--log-file             Rotated log file
	--cors-origins         Allowed CORS origins

# Environment Variables

Flags that were not given fall back to environment variables:

	PORT, DATABASE_URL, DATABASE_TYPE,
	ADMIN_KEY_SALT, CORRELATION_SALT, ENCRYPTION_KEY, ADMIN_EMAILS,
	RATE_LIMIT, RATE_WINDOW, BURST_THRESHOLD, BURST_WINDOW, RATE_STORE,
	SWEEP_INTERVAL, LOG_LEVEL, LOG_FILE, CORS_ORIGINS, TRUSTED_PROXIES

A .env file in the working directory is loaded first when present.
Variables already set in the environment are never overridden by it.

# Validation

ParseFlags returns an error if required values are missing:

  - DATABASE_URL must be provided
  - ADMIN_KEY_SALT and CORRELATION_SALT must be provided
  - ENCRYPTION_KEY must be 64 hex characters
*/
package cliparse
