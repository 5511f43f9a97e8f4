// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/db"
	"github.com/danielhkuo/ballotbox/models"
)

var (
	ErrVoterNotFound = errors.New("voter not found")
	// ErrPollChanged means the poll's anonymity mode changed under a vote.
	ErrPollChanged = errors.New("poll settings changed during vote")
)

// Store is the persistence layer for polls, ballots, participation
// records, voter identities and admission counters.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a transaction. fn's error aborts the transaction and is
// returned unchanged so callers can match sentinel errors.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ---------- Voters ----------

func (s *Store) CreateVoter(ctx context.Context, v models.Voter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO voter (id, email_hash, email_cipher, token_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, v.ID, v.EmailHash, v.EmailCipher, v.TokenHash, v.CreatedAt.UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.ErrAlreadyRegistered
		}
		return fmt.Errorf("failed to insert voter: %w", err)
	}
	return nil
}

func (s *Store) GetVoterByTokenHash(ctx context.Context, tokenHash string) (*models.Voter, error) {
	return s.getVoter(ctx, `
		SELECT id, email_hash, email_cipher, token_hash, created_at
		FROM voter WHERE token_hash = $1
	`, tokenHash)
}

func (s *Store) GetVoterByEmailHash(ctx context.Context, emailHash string) (*models.Voter, error) {
	return s.getVoter(ctx, `
		SELECT id, email_hash, email_cipher, token_hash, created_at
		FROM voter WHERE email_hash = $1
	`, emailHash)
}

func (s *Store) getVoter(ctx context.Context, query string, arg string) (*models.Voter, error) {
	var v models.Voter
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&v.ID, &v.EmailHash, &v.EmailCipher, &v.TokenHash, &v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrVoterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query voter: %w", err)
	}
	return &v, nil
}

// DeleteVoter removes an account. Participation records cascade; ballots
// keep their choices but lose the voter reference.
func (s *Store) DeleteVoter(ctx context.Context, voterID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM voter WHERE id = $1`, voterID)
	if err != nil {
		return false, fmt.Errorf("failed to delete voter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ---------- Polls ----------

// CreatePoll inserts a poll and its options. Revision starts at 1.
func (s *Store) CreatePoll(ctx context.Context, p *models.Poll) error {
	return s.InTx(ctx, func(tx *Tx) error {
		var resultsAt *time.Time
		if p.ResultsAt != nil {
			t := p.ResultsAt.UTC()
			resultsAt = &t
		}
		var authorID *string
		if p.AuthorID != "" {
			authorID = &p.AuthorID
		}

		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO poll (id, title, description, starts_at, ends_at, results_at,
			                  max_selections, anonymous, require_auth, show_results_before_end,
			                  show_results_after_vote, revision, status, ballot_count, author_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, $14, $15)
		`, p.ID, p.Title, p.Description, p.StartsAt.UTC(), p.EndsAt.UTC(), resultsAt,
			p.Settings.MaxSelections, p.Settings.Anonymous, p.Settings.RequireAuth,
			p.Settings.ShowResultsBeforeEnd, p.Settings.ShowResultsAfterVote,
			p.Revision, p.Status, authorID, p.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert poll: %w", err)
		}

		for i, opt := range p.Options {
			if err := tx.InsertOption(ctx, p.ID, opt.ID, opt.Text, i); err != nil {
				return err
			}
		}
		return nil
	})
}

const pollColumns = `
	id, title, description, starts_at, ends_at, results_at,
	max_selections, anonymous, require_auth, show_results_before_end,
	show_results_after_vote, revision, status, ballot_count, author_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoll(row rowScanner) (*models.Poll, error) {
	var p models.Poll
	var resultsAt sql.NullTime
	var authorID sql.NullString
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.StartsAt, &p.EndsAt, &resultsAt,
		&p.Settings.MaxSelections, &p.Settings.Anonymous, &p.Settings.RequireAuth,
		&p.Settings.ShowResultsBeforeEnd, &p.Settings.ShowResultsAfterVote,
		&p.Revision, &p.Status, &p.BallotCount,
		&authorID, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.StartsAt = p.StartsAt.UTC()
	p.EndsAt = p.EndsAt.UTC()
	if resultsAt.Valid {
		t := resultsAt.Time.UTC()
		p.ResultsAt = &t
	}
	p.AuthorID = authorID.String
	return &p, nil
}

// GetPoll returns the poll with its options. The status field is the cached
// value; callers that make decisions must recompute it.
func (s *Store) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	p, err := scanPoll(s.db.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM poll WHERE id = $1`, pollID))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query poll: %w", err)
	}

	p.Options, err = queryOptions(ctx, s.db, pollID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPolls returns every poll without options, newest first.
func (s *Store) ListPolls(ctx context.Context) ([]models.Poll, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pollColumns+` FROM poll ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query polls: %w", err)
	}
	defer rows.Close()

	polls := []models.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan poll: %w", err)
		}
		polls = append(polls, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return polls, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryOptions(ctx context.Context, q queryer, pollID string) ([]models.Option, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, poll_id, label, votes
		FROM poll_option
		WHERE poll_id = $1
		ORDER BY position, id
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to query options: %w", err)
	}
	defer rows.Close()

	options := []models.Option{}
	for rows.Next() {
		var opt models.Option
		if err := rows.Scan(&opt.ID, &opt.PollID, &opt.Text, &opt.Votes); err != nil {
			return nil, fmt.Errorf("failed to scan option: %w", err)
		}
		options = append(options, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return options, nil
}

// Tally reads the cached counters for a poll. The total and the per-option
// counts come from one statement, so they always agree.
func (s *Store) Tally(ctx context.Context, pollID string) (models.Tally, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.ballot_count, o.id, o.votes
		FROM poll p
		LEFT JOIN poll_option o ON o.poll_id = p.id
		WHERE p.id = $1
		ORDER BY o.position, o.id
	`, pollID)
	if err != nil {
		return models.Tally{}, fmt.Errorf("failed to query tally: %w", err)
	}
	defer rows.Close()

	tally := models.Tally{PollID: pollID, Counts: []models.OptionCount{}}
	found := false
	for rows.Next() {
		var optionID sql.NullString
		var votes sql.NullInt64
		if err := rows.Scan(&tally.Total, &optionID, &votes); err != nil {
			return models.Tally{}, fmt.Errorf("failed to scan tally: %w", err)
		}
		found = true
		if optionID.Valid {
			tally.Counts = append(tally.Counts, models.OptionCount{OptionID: optionID.String, Votes: votes.Int64})
		}
	}
	if err := rows.Err(); err != nil {
		return models.Tally{}, err
	}
	if !found {
		return models.Tally{}, apperr.ErrNotFound
	}
	return tally, nil
}

// CountChoices recomputes per-option counts from the ballots themselves.
func (s *Store) CountChoices(ctx context.Context, pollID string) (map[string]int64, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, COUNT(c.ballot_id)
		FROM poll_option o
		LEFT JOIN ballot_choice c ON c.option_id = o.id
		WHERE o.poll_id = $1
		GROUP BY o.id
	`, pollID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count choices: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, 0, fmt.Errorf("failed to scan choice count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var ballots int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ballot WHERE poll_id = $1`, pollID).Scan(&ballots); err != nil {
		return nil, 0, fmt.Errorf("failed to count ballots: %w", err)
	}
	return counts, ballots, nil
}

// RecountVotes rewrites the cached counters from the ballot set, which is the
// source of truth.
func (s *Store) RecountVotes(ctx context.Context, pollID string) error {
	return s.InTx(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(ctx, `
			UPDATE poll_option
			SET votes = (SELECT COUNT(*) FROM ballot_choice c WHERE c.option_id = poll_option.id)
			WHERE poll_id = $1
		`, pollID)
		if err != nil {
			return fmt.Errorf("failed to recount option votes: %w", err)
		}

		_, err = tx.tx.ExecContext(ctx, `
			UPDATE poll
			SET ballot_count = (SELECT COUNT(*) FROM ballot b WHERE b.poll_id = poll.id)
			WHERE id = $1
		`, pollID)
		if err != nil {
			return fmt.Errorf("failed to recount ballots: %w", err)
		}
		return nil
	})
}

// ---------- Lifecycle ----------

// PollWindow is the slice of a poll the lifecycle sweep needs.
type PollWindow struct {
	ID                 string
	Title              string
	StartsAt           time.Time
	EndsAt             time.Time
	Status             string
	CompletionNotified bool
}

func (s *Store) ListPollWindows(ctx context.Context) ([]PollWindow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, starts_at, ends_at, status, completion_notified_at
		FROM poll
		ORDER BY ends_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query poll windows: %w", err)
	}
	defer rows.Close()

	var windows []PollWindow
	for rows.Next() {
		var w PollWindow
		var notifiedAt sql.NullTime
		if err := rows.Scan(&w.ID, &w.Title, &w.StartsAt, &w.EndsAt, &w.Status, &notifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan poll window: %w", err)
		}
		w.StartsAt = w.StartsAt.UTC()
		w.EndsAt = w.EndsAt.UTC()
		w.CompletionNotified = notifiedAt.Valid
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return windows, nil
}

// SetStatus refreshes the cached status used by list views.
func (s *Store) SetStatus(ctx context.Context, pollID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE poll SET status = $1 WHERE id = $2`, status, pollID)
	if err != nil {
		return fmt.Errorf("failed to update poll status: %w", err)
	}
	return nil
}

// ClaimCompletion marks the completion side effect as done. Only the first
// caller for a poll gets true.
func (s *Store) ClaimCompletion(ctx context.Context, pollID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE poll SET completion_notified_at = $1
		WHERE id = $2 AND completion_notified_at IS NULL
	`, now.UTC(), pollID)
	if err != nil {
		return false, fmt.Errorf("failed to claim completion: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ---------- Participation ----------

func (s *Store) HasParticipated(ctx context.Context, pollID, participantKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM participation
			WHERE poll_id = $1 AND participant_key = $2
		)
	`, pollID, participantKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query participation: %w", err)
	}
	return exists, nil
}

// Participation reports, for each poll in pollIDs the participant has voted
// in, when they voted and, when voterID is set, the choices on their own
// ballot. Anonymous ballots carry no voter, so their choices are never found.
func (s *Store) Participation(ctx context.Context, pollIDs []string, participantKey, voterID string) (map[string]models.Participation, error) {
	out := make(map[string]models.Participation)
	if len(pollIDs) == 0 {
		return out, nil
	}

	in, args := inClause(pollIDs, 2)
	rows, err := s.db.QueryContext(ctx, `
		SELECT poll_id, voted_at FROM participation
		WHERE participant_key = $1 AND poll_id IN (`+in+`)
	`, append([]any{participantKey}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query participation: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pollID string
		var votedAt time.Time
		if err := rows.Scan(&pollID, &votedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participation: %w", err)
		}
		votedAt = votedAt.UTC()
		out[pollID] = models.Participation{HasVoted: true, VotedAt: &votedAt}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if voterID == "" || len(out) == 0 {
		return out, nil
	}

	choices, err := s.db.QueryContext(ctx, `
		SELECT b.poll_id, c.option_id
		FROM ballot b
		JOIN ballot_choice c ON c.ballot_id = b.id
		JOIN poll_option o ON o.id = c.option_id
		WHERE b.voter_id = $1 AND b.anonymous = FALSE AND b.poll_id IN (`+in+`)
		ORDER BY b.poll_id, o.position, o.id
	`, append([]any{voterID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query own ballots: %w", err)
	}
	defer choices.Close()

	for choices.Next() {
		var pollID, optionID string
		if err := choices.Scan(&pollID, &optionID); err != nil {
			return nil, fmt.Errorf("failed to scan own ballot: %w", err)
		}
		p, ok := out[pollID]
		if !ok {
			continue
		}
		p.Options = append(p.Options, optionID)
		out[pollID] = p
	}
	return out, choices.Err()
}

// inClause returns "$first, $first+1, ..." for values and the matching args.
func inClause(values []string, first int) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "$" + strconv.Itoa(first+i)
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}
