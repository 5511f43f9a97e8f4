// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/db"
	"github.com/danielhkuo/ballotbox/models"
)

// Tx exposes the write primitives that must run inside one transaction.
type Tx struct {
	tx *sql.Tx
}

// ---------- Vote unit ----------

// InsertParticipation writes the (poll, participant) record. The primary key
// rejects a second insert; that rejection is the authoritative duplicate check.
func (t *Tx) InsertParticipation(ctx context.Context, rec models.ParticipationRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO participation (poll_id, participant_key, voter_id, voted_at)
		VALUES ($1, $2, $3, $4)
	`, rec.PollID, rec.ParticipantKey, rec.VoterID, rec.VotedAt.UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.ErrDuplicateVote
		}
		return fmt.Errorf("failed to insert participation: %w", err)
	}
	return nil
}

// InsertBallot writes the ballot and its choices.
func (t *Tx) InsertBallot(ctx context.Context, b models.Ballot) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ballot (id, poll_id, voter_id, anonymous, cast_at)
		VALUES ($1, $2, $3, $4, $5)
	`, b.ID, b.PollID, b.VoterID, b.Anonymous, b.CastAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert ballot: %w", err)
	}

	for _, optionID := range b.OptionIDs {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO ballot_choice (ballot_id, option_id)
			VALUES ($1, $2)
		`, b.ID, optionID)
		if err != nil {
			if db.IsForeignKeyViolation(err) || db.IsUniqueViolation(err) {
				return apperr.ErrInvalidSelection
			}
			return fmt.Errorf("failed to insert ballot choice: %w", err)
		}
	}
	return nil
}

// CountBallot adds the ballot to the poll's ballot count. It is the vote's
// first write to the poll row, and it happens before any option row is
// touched, so votes and edits lock the poll row first and cannot deadlock.
//
// The update only matches while the poll is still in the anonymity mode the
// ballot is written under; otherwise ErrPollChanged is returned and the caller
// must retry against the new settings.
func (t *Tx) CountBallot(ctx context.Context, pollID string, anonymous bool) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE poll SET ballot_count = ballot_count + 1
		WHERE id = $1 AND anonymous = $2
	`, pollID, anonymous)
	if err != nil {
		return fmt.Errorf("failed to increment ballot count: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return ErrPollChanged
	}
	return nil
}

// IncrementOptions bumps the cached counters for the chosen options.
// Increments are additive and need no version check.
func (t *Tx) IncrementOptions(ctx context.Context, pollID string, optionIDs []string) error {
	for _, optionID := range optionIDs {
		res, err := t.tx.ExecContext(ctx, `
			UPDATE poll_option SET votes = votes + 1
			WHERE id = $1 AND poll_id = $2
		`, optionID, pollID)
		if err != nil {
			return fmt.Errorf("failed to increment option votes: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return apperr.ErrInvalidSelection
		}
	}
	return nil
}

// ---------- Edit unit ----------

// Metadata is the editable part of a poll.
type Metadata struct {
	Title       string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time
	ResultsAt   *time.Time
	Settings    models.Settings
	Status      string
}

// PollHead is the part of a poll an edit decides on.
type PollHead struct {
	Revision  int64
	Anonymous bool
	AuthorID  string
}

// PollHead reads the poll's revision, anonymity mode and author as seen by
// this transaction.
func (t *Tx) PollHead(ctx context.Context, pollID string) (PollHead, error) {
	var h PollHead
	var authorID sql.NullString
	err := t.tx.QueryRowContext(ctx, `
		SELECT revision, anonymous, author_id FROM poll WHERE id = $1
	`, pollID).Scan(&h.Revision, &h.Anonymous, &authorID)
	if err == sql.ErrNoRows {
		return PollHead{}, apperr.ErrNotFound
	}
	if err != nil {
		return PollHead{}, fmt.Errorf("failed to query poll revision: %w", err)
	}
	h.AuthorID = authorID.String
	return h, nil
}

// CompareAndSwapRevision applies m only if the stored revision still equals
// expected, incrementing it in the same statement.
func (t *Tx) CompareAndSwapRevision(ctx context.Context, pollID string, expected int64, m Metadata) (int64, error) {
	var resultsAt *time.Time
	if m.ResultsAt != nil {
		r := m.ResultsAt.UTC()
		resultsAt = &r
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE poll
		SET title = $1, description = $2, starts_at = $3, ends_at = $4, results_at = $5,
		    max_selections = $6, anonymous = $7, require_auth = $8, show_results_before_end = $9,
		    show_results_after_vote = $10, status = $11, revision = revision + 1
		WHERE id = $12 AND revision = $13
	`, m.Title, m.Description, m.StartsAt.UTC(), m.EndsAt.UTC(), resultsAt,
		m.Settings.MaxSelections, m.Settings.Anonymous, m.Settings.RequireAuth,
		m.Settings.ShowResultsBeforeEnd, m.Settings.ShowResultsAfterVote, m.Status, pollID, expected)
	if err != nil {
		return 0, fmt.Errorf("failed to update poll: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 1 {
		return expected + 1, nil
	}

	head, err := t.PollHead(ctx, pollID)
	if err != nil {
		return 0, err
	}
	return 0, &apperr.VersionConflictError{Current: head.Revision}
}

// Options lists the poll's options in display order.
func (t *Tx) Options(ctx context.Context, pollID string) ([]models.Option, error) {
	return queryOptions(ctx, t.tx, pollID)
}

// OptionReferenced reports whether any ballot chose the option.
func (t *Tx) OptionReferenced(ctx context.Context, optionID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM ballot_choice WHERE option_id = $1)
	`, optionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query option references: %w", err)
	}
	return exists, nil
}

func (t *Tx) HasBallots(ctx context.Context, pollID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM ballot WHERE poll_id = $1)
	`, pollID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query ballots: %w", err)
	}
	return exists, nil
}

// InsertOption adds an option with a zero counter.
func (t *Tx) InsertOption(ctx context.Context, pollID, optionID, text string, position int) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO poll_option (id, poll_id, label, position, votes)
		VALUES ($1, $2, $3, $4, 0)
	`, optionID, pollID, text, position)
	if err != nil {
		return fmt.Errorf("failed to insert option: %w", err)
	}
	return nil
}

// UpdateOption changes text and position only; counters are never touched here.
func (t *Tx) UpdateOption(ctx context.Context, optionID, text string, position int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE poll_option SET label = $1, position = $2 WHERE id = $3
	`, text, position, optionID)
	if err != nil {
		return fmt.Errorf("failed to update option: %w", err)
	}
	return nil
}

// DeleteOption removes an option. The ballot_choice foreign key refuses the
// delete if a ballot references it, even one committed after a prior check.
func (t *Tx) DeleteOption(ctx context.Context, optionID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM poll_option WHERE id = $1`, optionID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.ErrOptionInUse
		}
		return fmt.Errorf("failed to delete option: %w", err)
	}
	return nil
}
