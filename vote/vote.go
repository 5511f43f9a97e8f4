// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package vote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/auth"
	"github.com/danielhkuo/ballotbox/lifecycle"
	"github.com/danielhkuo/ballotbox/metrics"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
	"github.com/danielhkuo/ballotbox/tally"
)

// maxAttempts bounds retries when the poll's anonymity mode changes mid-vote.
const maxAttempts = 3

// MaxBatch is the most polls one participation lookup may name.
const MaxBatch = 100

// Store is the slice of the ballot store the engine needs.
type Store interface {
	GetPoll(ctx context.Context, pollID string) (*models.Poll, error)
	HasParticipated(ctx context.Context, pollID, participantKey string) (bool, error)
	Participation(ctx context.Context, pollIDs []string, participantKey, voterID string) (map[string]models.Participation, error)
	InTx(ctx context.Context, fn func(tx *store.Tx) error) error
	Tally(ctx context.Context, pollID string) (models.Tally, error)
}

// Publisher receives the committed tally after each vote.
type Publisher interface {
	Publish(t models.Tally)
}

// Caller identifies who is voting. VoterID is empty for unauthenticated
// callers, who are correlated by Origin instead.
type Caller struct {
	VoterID string
	Origin  string
}

type CastRequest struct {
	PollID    string
	OptionIDs []string
	Caller    Caller
}

// Engine records votes so that each participant counts at most once per poll.
type Engine struct {
	store     Store
	publisher Publisher
	salt      string
	metrics   *metrics.Metrics

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewEngine creates an engine. salt keys the origin hash for unauthenticated callers.
func NewEngine(s Store, p Publisher, salt string, m *metrics.Metrics) *Engine {
	return &Engine{
		store:     s,
		publisher: p,
		salt:      salt,
		metrics:   m,
		Now:       time.Now,
	}
}

// Cast validates and records one vote. Only the error is returned: the
// caller learns whether the vote counted, never anything about other ballots.
func (e *Engine) Cast(ctx context.Context, req CastRequest) error {
	err := e.cast(ctx, req)
	if err != nil {
		kind := apperr.KindOf(err)
		e.metrics.VoteRejected(kind.String())
		if kind == apperr.KindInternal {
			slog.Error("failed to cast vote", "poll_id", req.PollID, "error", err)
		} else {
			slog.Debug("vote refused", "poll_id", req.PollID, "kind", kind.String(), "error", err)
		}
		return err
	}

	e.metrics.VoteCast()
	return nil
}

func (e *Engine) cast(ctx context.Context, req CastRequest) error {
	key, err := e.participantKey(req.Caller)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		poll, err := e.check(ctx, req, key)
		if err != nil {
			return err
		}

		err = e.record(ctx, poll, req, key)
		if errors.Is(err, store.ErrPollChanged) && attempt < maxAttempts {
			continue
		}
		if err != nil {
			return err
		}

		e.publish(ctx, poll)
		return nil
	}
}

// check runs the read-only preconditions in order and returns the poll.
func (e *Engine) check(ctx context.Context, req CastRequest, key string) (*models.Poll, error) {
	poll, err := e.store.GetPoll(ctx, req.PollID)
	if err != nil {
		return nil, err
	}

	if lifecycle.Status(poll, e.Now()) != models.StatusActive {
		return nil, apperr.ErrPollNotActive
	}

	if poll.Settings.RequireAuth && req.Caller.VoterID == "" {
		return nil, apperr.ErrAuthRequired
	}

	n := len(req.OptionIDs)
	if n < 1 || n > poll.Settings.MaxSelections {
		return nil, apperr.ErrInvalidSelection
	}
	seen := make(map[string]bool, n)
	for _, id := range req.OptionIDs {
		if seen[id] {
			return nil, apperr.ErrInvalidSelection
		}
		seen[id] = true
	}

	for _, id := range req.OptionIDs {
		if !poll.HasOption(id) {
			return nil, apperr.ErrInvalidSelection
		}
	}

	// Early exit only; the participation insert below is authoritative.
	voted, err := e.store.HasParticipated(ctx, poll.ID, key)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, apperr.ErrDuplicateVote
	}

	return poll, nil
}

// record writes participation, ballot and counters in one transaction.
// Participation goes first so a concurrent duplicate fails before any
// ballot row exists. The poll row is locked next and option rows last, the
// same order an edit takes them.
func (e *Engine) record(ctx context.Context, poll *models.Poll, req CastRequest, key string) error {
	now := e.Now().UTC()
	anonymous := poll.Settings.Anonymous

	var voterID *string
	if req.Caller.VoterID != "" {
		id := req.Caller.VoterID
		voterID = &id
	}

	ballot := models.Ballot{
		ID:        uuid.NewString(),
		PollID:    poll.ID,
		VoterID:   voterID,
		OptionIDs: req.OptionIDs,
		CastAt:    now,
		Anonymous: anonymous,
	}
	votedAt := now
	if anonymous {
		// Coarse timestamps on both rows so they cannot be joined by time.
		ballot.VoterID = nil
		ballot.CastAt = now.Truncate(time.Minute)
		votedAt = ballot.CastAt
	}

	return e.store.InTx(ctx, func(tx *store.Tx) error {
		err := tx.InsertParticipation(ctx, models.ParticipationRecord{
			PollID:         poll.ID,
			ParticipantKey: key,
			VoterID:        voterID,
			VotedAt:        votedAt,
		})
		if err != nil {
			return err
		}

		if err := tx.CountBallot(ctx, poll.ID, anonymous); err != nil {
			return err
		}

		if err := tx.InsertBallot(ctx, ballot); err != nil {
			return err
		}

		return tx.IncrementOptions(ctx, poll.ID, req.OptionIDs)
	})
}

// publish pushes the committed tally. A failed read only delays live
// viewers until the next vote, so it is logged and not returned.
func (e *Engine) publish(ctx context.Context, poll *models.Poll) {
	if e.publisher == nil {
		return
	}

	t, err := e.store.Tally(ctx, poll.ID)
	if err != nil {
		slog.Warn("failed to read tally after vote", "poll_id", poll.ID, "error", err)
		return
	}
	e.publisher.Publish(tally.Visible(poll, t, e.Now()))
}

// HasParticipated reports whether the caller already voted in the poll. It
// never reveals which options were chosen.
func (e *Engine) HasParticipated(ctx context.Context, pollID string, c Caller) (bool, error) {
	key, err := e.participantKey(c)
	if err != nil {
		return false, err
	}
	if _, err := e.store.GetPoll(ctx, pollID); err != nil {
		return false, err
	}
	return e.store.HasParticipated(ctx, pollID, key)
}

// Participation returns what the caller may learn about their own vote in
// one poll: whether and when they voted and, for ballots linked to them,
// their choices.
func (e *Engine) Participation(ctx context.Context, pollID string, c Caller) (models.Participation, error) {
	if _, err := e.store.GetPoll(ctx, pollID); err != nil {
		return models.Participation{}, err
	}
	batch, err := e.ParticipationBatch(ctx, []string{pollID}, c)
	if err != nil {
		return models.Participation{}, err
	}
	return batch[pollID], nil
}

// ParticipationBatch is Participation for many polls at once. Polls the
// caller has not voted in, including unknown ones, are left out.
func (e *Engine) ParticipationBatch(ctx context.Context, pollIDs []string, c Caller) (map[string]models.Participation, error) {
	if len(pollIDs) > MaxBatch {
		return nil, apperr.Invalid("poll_ids", "at most 100 polls per request")
	}
	key, err := e.participantKey(c)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(pollIDs))
	unique := make([]string, 0, len(pollIDs))
	for _, id := range pollIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	return e.store.Participation(ctx, unique, key, c.VoterID)
}

func (e *Engine) participantKey(c Caller) (string, error) {
	if c.VoterID != "" {
		return auth.VoterKey(c.VoterID), nil
	}
	if c.Origin == "" {
		return "", apperr.Invalid("caller", "no voter or origin")
	}
	return auth.OriginKey(c.Origin, e.salt), nil
}
