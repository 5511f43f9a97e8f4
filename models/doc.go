// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Request Types

  - RegisterVoterRequest: email
  - CreatePollRequest: title, description, window, settings, options
  - EditPollRequest: the same payload plus expected_revision
  - CastVoteRequest: options (option ids)
  - ParticipationBatchRequest: poll_ids

# Response Types

  - RegisterVoterResponse: voter_id, voter_token
  - CreatePollResponse: poll_id, admin_key, revision
  - EditPollResponse: revision
  - VoterResponse: voter_id, email, is_admin
  - Participation: has_voted, voted_at, options (own non-anonymous ballot only)
  - ParticipationBatchResponse: polls, keyed by poll id
  - ErrorResponse: error, message, current_revision (version conflicts only)

# Domain Types

  - Poll, Option, Settings: poll definition with cached counters
  - Ballot: recorded choices; VoterID is nil in anonymous mode
  - ParticipationRecord: proof that a participant voted in a poll
  - Voter: hashed + encrypted identity record
  - Tally: absolute per-option counts pushed to live subscribers

Fields that could identify a voter are tagged json:"-" and never serialized.
*/
package models
