// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap handlers with request logging:

	mux.HandleFunc("GET /health", middleware.WithLogging(handler))

Logs request start at debug and completion (status, duration_ms) at info.
The wrapper passes websocket hijacking through.

Install the process logger once at startup:

	closer, err := middleware.SetupLogging(cfg.LogLevel, cfg.LogFile)
	defer closer.Close()

A non-empty file also copies output to a size-rotated log file.

# CORS Middleware

Enable cross-origin requests for frontend access:

	server := http.Server{
		Handler: middleware.CORS(cfg.CORSOrigins)(mux),
	}

Allows methods GET, POST, PUT, DELETE, OPTIONS with headers
Content-Type, Authorization, X-Admin-Key, X-Voter-Token. With no origins
configured any origin is accepted without credentials.

# JSON Helpers

Write JSON responses:

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")
	middleware.ConflictResponse(w, "poll was modified", currentRevision)

Parse JSON request bodies:

	var req models.CreatePollRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

# Client IP Extraction

Resolve the caller's address. X-Forwarded-For and X-Real-IP are honoured
only when the connecting peer is one of the configured trusted proxies:

	ips, err := middleware.NewClientIPs(cfg.TrustedProxies)
	ip := ips.ClientIP(r)

Used as the admission guard's origin and for anonymous participant keys.
*/
package middleware
