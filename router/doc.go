// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the ballotbox API.

# Route Registration

NewDeps builds the domain components from configuration, and NewRouter
serves them:

	deps, err := router.NewDeps(db, cfg, metrics)
	deps.Gatherer = registry
	mux := router.NewRouter(deps)

# Endpoints

Operations:

	GET /health  - Database ping
	GET /metrics - Prometheus exposition (when a Gatherer is set)

Voters (X-Voter-Token):

	POST   /voters    - Register, returns the bearer token once
	GET    /voters/me - Own record with decrypted email
	DELETE /voters/me - Delete account

Polls:

	POST /polls      - Create (voter token required)
	GET  /polls      - List with cached status
	GET  /polls/{id} - Read with recomputed status
	PUT  /polls/{id} - Edit against expected_revision

Voting:

	POST /polls/{id}/votes         - Cast through the admission guard
	GET  /polls/{id}/participation - Whether and when the caller voted, with own choices
	POST /participation            - The same for a batch of poll ids

Tallies:

	GET /polls/{id}/tally - Current tally
	GET /polls/{id}/live  - Websocket tally feed

# Client Addresses

Deps.ClientIPs is built from TRUSTED_PROXIES. Forwarding headers are only
read from those peers; with none configured the socket peer is the client.

# Rate Counters

With the memory rate store, Deps.Memory holds the in-process counter so the
caller can prune it periodically. With the SQL store it is nil and counters
are shared by every instance on the same database.
*/
package router
