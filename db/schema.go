// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
// The same DDL runs on PostgreSQL and SQLite; timestamps are always written in UTC.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const schema = `
-- Voters (identity records: lookup hash + encrypted copy)
CREATE TABLE IF NOT EXISTS voter (
    id TEXT PRIMARY KEY,
    email_hash TEXT NOT NULL UNIQUE,
    email_cipher TEXT NOT NULL,
    token_hash TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);

-- Polls
CREATE TABLE IF NOT EXISTS poll (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    starts_at TIMESTAMP NOT NULL,
    ends_at TIMESTAMP NOT NULL,
    results_at TIMESTAMP,
    max_selections INTEGER NOT NULL DEFAULT 1,
    anonymous BOOLEAN NOT NULL DEFAULT FALSE,
    require_auth BOOLEAN NOT NULL DEFAULT FALSE,
    show_results_before_end BOOLEAN NOT NULL DEFAULT FALSE,
    show_results_after_vote BOOLEAN NOT NULL DEFAULT FALSE,
    revision BIGINT NOT NULL DEFAULT 1,
    status TEXT NOT NULL DEFAULT 'upcoming' CHECK (status IN ('upcoming', 'active', 'completed')),
    ballot_count BIGINT NOT NULL DEFAULT 0,
    author_id TEXT REFERENCES voter(id) ON DELETE SET NULL,
    completion_notified_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_poll_status ON poll(status);

-- Options
CREATE TABLE IF NOT EXISTS poll_option (
    id TEXT PRIMARY KEY,
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    label TEXT NOT NULL,
    position INTEGER NOT NULL,
    votes BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_poll_option_poll_id ON poll_option(poll_id);

-- Participation records: one per (poll, participant), the double-vote guard
CREATE TABLE IF NOT EXISTS participation (
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    participant_key TEXT NOT NULL,
    voter_id TEXT REFERENCES voter(id) ON DELETE CASCADE,
    voted_at TIMESTAMP NOT NULL,
    PRIMARY KEY (poll_id, participant_key)
);

CREATE INDEX IF NOT EXISTS idx_participation_voter_id ON participation(voter_id);

-- Ballots (anonymous ballots never carry a voter reference)
CREATE TABLE IF NOT EXISTS ballot (
    id TEXT PRIMARY KEY,
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    voter_id TEXT REFERENCES voter(id) ON DELETE SET NULL,
    anonymous BOOLEAN NOT NULL,
    cast_at TIMESTAMP NOT NULL,
    CHECK (NOT anonymous OR voter_id IS NULL)
);

CREATE INDEX IF NOT EXISTS idx_ballot_poll_id ON ballot(poll_id);

-- Choices; an option with choices cannot be deleted
CREATE TABLE IF NOT EXISTS ballot_choice (
    ballot_id TEXT NOT NULL REFERENCES ballot(id) ON DELETE CASCADE,
    option_id TEXT NOT NULL REFERENCES poll_option(id),
    PRIMARY KEY (ballot_id, option_id)
);

CREATE INDEX IF NOT EXISTS idx_ballot_choice_option_id ON ballot_choice(option_id);

-- Admission guard sliding-window log (shared counter store)
CREATE TABLE IF NOT EXISTS rate_hit (
    bucket TEXT NOT NULL,
    at_ms BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rate_hit_bucket ON rate_hit(bucket, at_ms);
CREATE INDEX IF NOT EXISTS idx_rate_hit_at_ms ON rate_hit(at_ms);
`
