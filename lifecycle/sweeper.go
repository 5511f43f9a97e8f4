// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/ballotbox/metrics"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
)

// Store is the slice of the ballot store the sweeper needs.
type Store interface {
	ListPollWindows(ctx context.Context) ([]store.PollWindow, error)
	SetStatus(ctx context.Context, pollID, status string) error
	ClaimCompletion(ctx context.Context, pollID string, now time.Time) (bool, error)
	RecountVotes(ctx context.Context, pollID string) error
}

// Notifier receives the one-time completion event for a poll.
type Notifier interface {
	PollCompleted(ctx context.Context, w store.PollWindow)
}

// LogNotifier records completions in the service log.
type LogNotifier struct{}

func (LogNotifier) PollCompleted(_ context.Context, w store.PollWindow) {
	slog.Info("poll completed", "poll_id", w.ID, "title", w.Title, "ended", humanize.Time(w.EndsAt))
}

// Notifiers fans one completion out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) PollCompleted(ctx context.Context, w store.PollWindow) {
	for _, n := range ns {
		n.PollCompleted(ctx, w)
	}
}

// Sweeper periodically brings cached poll status in line with the clock and
// runs the completion side effects exactly once per poll.
type Sweeper struct {
	store    Store
	notifier Notifier
	interval time.Duration
	metrics  *metrics.Metrics

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func NewSweeper(s Store, n Notifier, interval time.Duration, m *metrics.Metrics) *Sweeper {
	if n == nil {
		n = LogNotifier{}
	}
	return &Sweeper{
		store:    s,
		notifier: n,
		interval: interval,
		metrics:  m,
		Now:      time.Now,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	slog.Info("lifecycle sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			slog.Error("lifecycle sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("lifecycle sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep processes every poll once. Polls are handled one at a time and the
// context is checked between polls, so a shutdown never leaves one half done.
func (s *Sweeper) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start).Seconds()) }()

	windows, err := s.store.ListPollWindows(ctx)
	if err != nil {
		return err
	}

	now := s.Now()
	transitions := 0
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return err
		}

		changed, err := s.sweepPoll(ctx, w, now)
		if err != nil {
			// One broken poll must not stall the others.
			slog.Error("failed to sweep poll", "poll_id", w.ID, "error", err)
			continue
		}
		if changed {
			transitions++
		}
	}

	if transitions > 0 {
		slog.Info("lifecycle sweep finished", "polls", len(windows), "transitions", transitions)
	}
	return nil
}

func (s *Sweeper) sweepPoll(ctx context.Context, w store.PollWindow, now time.Time) (bool, error) {
	status := StatusAt(w.StartsAt, w.EndsAt, now)

	changed := status != w.Status
	if changed {
		if err := s.store.SetStatus(ctx, w.ID, status); err != nil {
			return false, err
		}
		slog.Debug("poll status changed", "poll_id", w.ID, "from", w.Status, "to", status)
	}

	if status != models.StatusCompleted || w.CompletionNotified {
		return changed, nil
	}

	// Recount is idempotent, so it runs before the claim: a failure here
	// leaves the poll unclaimed and the next sweep retries it.
	if err := s.store.RecountVotes(ctx, w.ID); err != nil {
		return changed, fmt.Errorf("failed to reconcile counters: %w", err)
	}

	claimed, err := s.store.ClaimCompletion(ctx, w.ID, now)
	if err != nil {
		return changed, err
	}
	if !claimed {
		return changed, nil
	}

	s.metrics.PollCompleted()
	s.notifier.PollCompleted(ctx, w)
	return true, nil
}
