// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the ballotbox API.

# Handler Types

Each handler is a struct over the store and the domain component it fronts:

  - VoterHandler: Voter registration, self lookup and account deletion
  - PollHandler: Poll creation, listing, reading and optimistic edits
  - VotingHandler: Vote casting behind the admission guard, participation checks
  - TallyHandler: Tally reads and the live websocket feed

Handlers are created via constructor functions:

	ips, err := middleware.NewClientIPs(cfg.TrustedProxies)
	pollHandler := handlers.NewPollHandler(store, editor, engine, claims, ips)

Every handler turns domain errors into responses through writeError:
validation 400, missing credentials 401, forbidden or automated 403,
unknown poll 404, conflicts 409, rate limited 429, anything else 500.

# Voters

	POST /voters       → Register (returns voter_token once)
	GET /voters/me     → GetMe (decrypts the caller's own email)
	DELETE /voters/me  → DeleteMe

Voter operations take the X-Voter-Token header.

# Polls

	POST /polls        → CreatePoll (voter token required; returns admin_key)
	GET /polls         → ListPolls
	GET /polls/{id}    → GetPoll
	PUT /polls/{id}    → EditPoll (expected_revision; 409 carries current_revision)

Edits are accepted with the X-Admin-Key header, from the poll's author, or
from a voter on the admin allow-list. Per-option votes read as zero while
results are sealed, except to callers who voted in a poll with
show_results_after_vote.

# Voting

	POST /polls/{id}/votes          → CastVote (204, no body)
	GET /polls/{id}/participation   → GetParticipation
	POST /participation             → GetParticipationBatch (poll_ids, at most 100)

Callers without a voter token are identified by a salted hash of their
client IP. X-Forwarded-For and X-Real-IP only count when the peer is a
trusted proxy. Participation reports when the caller voted and, for a
signed-in voter on a poll that is not anonymous, their own choices.

# Tallies

	GET /polls/{id}/tally  → GetTally
	GET /polls/{id}/live   → Live (websocket)

The live feed sends the current tally, then one message per committed vote
and the final tally when the poll completes. Both reads unseal counts for a
caller who voted in a show_results_after_vote poll.
*/
package handlers
