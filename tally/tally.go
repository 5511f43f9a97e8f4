// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielhkuo/ballotbox/lifecycle"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
)

// Visible applies the poll's results visibility to t at now. Sealed tallies
// keep only the total.
func Visible(p *models.Poll, t models.Tally, now time.Time) models.Tally {
	return VisibleTo(p, t, now, false)
}

// VisibleTo is Visible for a caller who may have voted in the poll.
func VisibleTo(p *models.Poll, t models.Tally, now time.Time, voted bool) models.Tally {
	t.Status = lifecycle.Status(p, now)
	if !lifecycle.ResultsVisibleTo(p, now, voted) {
		t.Counts = nil
	}
	return t
}

// VoteCheck reports whether the requesting caller has voted in a poll.
type VoteCheck func(ctx context.Context) (bool, error)

// Reader loads what a tally push needs.
type Reader interface {
	GetPoll(ctx context.Context, pollID string) (*models.Poll, error)
	Tally(ctx context.Context, pollID string) (models.Tally, error)
}

// Snapshot reads the current publicly visible tally for a poll.
func Snapshot(ctx context.Context, r Reader, pollID string, now time.Time) (models.Tally, error) {
	return SnapshotFor(ctx, r, pollID, now, nil)
}

// SnapshotFor reads the tally as one caller may see it. voted is only
// consulted when the answer could unseal the counts; nil means the caller
// has not voted.
func SnapshotFor(ctx context.Context, r Reader, pollID string, now time.Time, voted VoteCheck) (models.Tally, error) {
	p, err := r.GetPoll(ctx, pollID)
	if err != nil {
		return models.Tally{}, err
	}
	t, err := r.Tally(ctx, pollID)
	if err != nil {
		return models.Tally{}, err
	}

	hasVoted := false
	if voted != nil && p.Settings.ShowResultsAfterVote && !lifecycle.ResultsVisible(p, now) {
		if hasVoted, err = voted(ctx); err != nil {
			return models.Tally{}, err
		}
	}
	return VisibleTo(p, t, now, hasVoted), nil
}

// CompletionNotifier pushes the final tally to live subscribers when the
// lifecycle sweep completes a poll.
type CompletionNotifier struct {
	Broadcaster *Broadcaster
	Reader      Reader
	Now         func() time.Time
}

func (n CompletionNotifier) PollCompleted(ctx context.Context, w store.PollWindow) {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}

	t, err := Snapshot(ctx, n.Reader, w.ID, now())
	if err != nil {
		slog.Warn("failed to read final tally", "poll_id", w.ID, "error", err)
		return
	}
	n.Broadcaster.Publish(t)
}
