// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package lifecycle

import (
	"time"

	"github.com/danielhkuo/ballotbox/models"
)

// StatusAt derives a poll's status from its window. Both bounds are
// inclusive for the active state: a vote at exactly endsAt is accepted.
func StatusAt(startsAt, endsAt, t time.Time) string {
	switch {
	case t.Before(startsAt):
		return models.StatusUpcoming
	case t.After(endsAt):
		return models.StatusCompleted
	default:
		return models.StatusActive
	}
}

// Status is StatusAt for a loaded poll.
func Status(p *models.Poll, t time.Time) string {
	return StatusAt(p.StartsAt, p.EndsAt, t)
}

// ResultsVisibleTo is ResultsVisible for a caller who may have voted. Polls
// with ShowResultsAfterVote reveal counts to their participants early.
func ResultsVisibleTo(p *models.Poll, t time.Time, voted bool) bool {
	if voted && p.Settings.ShowResultsAfterVote {
		return true
	}
	return ResultsVisible(p, t)
}

// ResultsVisible reports whether per-option counts may be shown at t.
// Counts stay sealed until the poll completes unless the poll opts in to
// live results; results_at delays the reveal further.
func ResultsVisible(p *models.Poll, t time.Time) bool {
	if p.Settings.ShowResultsBeforeEnd {
		return true
	}
	if Status(p, t) != models.StatusCompleted {
		return false
	}
	if p.ResultsAt != nil && t.Before(*p.ResultsAt) {
		return false
	}
	return true
}
