// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db handles database connections and schema creation.

# Connections

Open selects the driver by database type:

	conn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)

PostgreSQL uses lib/pq. SQLite uses modernc.org/sqlite with foreign keys
enabled and a single open connection.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tables

  - voter: email hash (unique), encrypted email, voter token hash (unique)
  - poll: metadata, window, settings, revision, cached status and ballot count
  - poll_option: options with cached vote counters
  - participation: unique (poll_id, participant_key), the double-vote guard
  - ballot: choices holder; voter_id is NULL for anonymous ballots
  - ballot_choice: (ballot_id, option_id)
  - rate_hit: sliding-window log for the admission guard

# Relationships

	poll 1──* poll_option
	poll 1──* participation
	poll 1──* ballot
	ballot 1──* ballot_choice *──1 poll_option
	voter 1──* participation (ON DELETE CASCADE)
	voter 1──* ballot (ON DELETE SET NULL)

ballot_choice.option_id has no cascade, so an option that has received
votes cannot be deleted.

# Constraint Errors

IsUniqueViolation and IsForeignKeyViolation classify driver errors for
both PostgreSQL and SQLite.
*/
package db
