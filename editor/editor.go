// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package editor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/auth"
	"github.com/danielhkuo/ballotbox/lifecycle"
	"github.com/danielhkuo/ballotbox/metrics"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
)

// Store is the slice of the ballot store the controller needs.
type Store interface {
	CreatePoll(ctx context.Context, p *models.Poll) error
	InTx(ctx context.Context, fn func(tx *store.Tx) error) error
}

// Caller is who is asking to change a poll. Any one credential is enough:
// the poll's admin key, being its author, or an admin claim.
type Caller struct {
	VoterID  string
	AdminKey string
	IsAdmin  bool
}

type CreateRequest struct {
	Draft
	AuthorID string
}

type EditRequest struct {
	Draft
	PollID           string
	ExpectedRevision int64
	Caller           Caller
}

// Controller creates polls and applies metadata edits under optimistic
// concurrency: every edit names the revision it was based on.
type Controller struct {
	store   Store
	salt    string
	metrics *metrics.Metrics

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewController creates a controller. salt verifies poll admin keys.
func NewController(s Store, salt string, m *metrics.Metrics) *Controller {
	return &Controller{store: s, salt: salt, metrics: m, Now: time.Now}
}

// Create validates and stores a new poll at revision 1. The returned admin
// key is the only copy; it is derived, not stored.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (*models.Poll, string, error) {
	now := c.Now().UTC()
	req.normalize()
	if err := req.validate(now, true); err != nil {
		return nil, "", err
	}

	pollID, err := auth.GenerateID(16)
	if err != nil {
		return nil, "", err
	}

	p := &models.Poll{
		ID:          pollID,
		Title:       req.Title,
		Description: req.Description,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		ResultsAt:   req.ResultsAt,
		Settings:    req.Settings,
		Revision:    1,
		Status:      lifecycle.StatusAt(req.StartsAt, req.EndsAt, now),
		AuthorID:    req.AuthorID,
		CreatedAt:   now,
	}
	for _, opt := range req.Options {
		optionID, err := auth.GenerateID(12)
		if err != nil {
			return nil, "", err
		}
		p.Options = append(p.Options, models.Option{ID: optionID, PollID: pollID, Text: opt.Text})
	}

	if err := c.store.CreatePoll(ctx, p); err != nil {
		return nil, "", err
	}

	slog.Info("poll created", "poll_id", pollID, "options", len(p.Options), "anonymous", p.Settings.Anonymous)
	return p, auth.GenerateAdminKey(pollID, c.salt), nil
}

// Edit replaces a poll's metadata and option set if req.ExpectedRevision is
// still current, and returns the new revision. Everything happens in one
// transaction: any refusal leaves the poll and its revision untouched.
// Callers without edit rights get ErrForbidden before the draft is validated.
func (c *Controller) Edit(ctx context.Context, req EditRequest) (int64, error) {
	req.normalize()

	var revision int64
	err := c.store.InTx(ctx, func(tx *store.Tx) error {
		head, err := tx.PollHead(ctx, req.PollID)
		if err != nil {
			return err
		}
		if !c.authorized(req.PollID, head, req.Caller) {
			return apperr.ErrForbidden
		}
		if err := req.validate(c.Now().UTC(), false); err != nil {
			return err
		}
		if head.Revision != req.ExpectedRevision {
			return &apperr.VersionConflictError{Current: head.Revision}
		}

		// The conditional update is the authoritative check; the read above
		// only spares the option work for an edit that is already stale.
		revision, err = tx.CompareAndSwapRevision(ctx, req.PollID, req.ExpectedRevision, store.Metadata{
			Title:       req.Title,
			Description: req.Description,
			StartsAt:    req.StartsAt,
			EndsAt:      req.EndsAt,
			ResultsAt:   req.ResultsAt,
			Settings:    req.Settings,
			Status:      lifecycle.StatusAt(req.StartsAt, req.EndsAt, c.Now()),
		})
		if err != nil {
			return err
		}

		// Checked after the update holds the poll row, so a ballot that
		// committed while we waited is visible here.
		if req.Settings.Anonymous != head.Anonymous {
			has, err := tx.HasBallots(ctx, req.PollID)
			if err != nil {
				return err
			}
			if has {
				return apperr.ErrSettingLocked
			}
		}

		return applyOptions(ctx, tx, req.PollID, req.Options)
	})
	if err != nil {
		if _, ok := apperr.CurrentRevision(err); ok {
			c.metrics.EditConflict()
		}
		return 0, err
	}

	c.metrics.EditApplied()
	slog.Info("poll edited", "poll_id", req.PollID, "revision", revision)
	return revision, nil
}

func (c *Controller) authorized(pollID string, head store.PollHead, caller Caller) bool {
	switch {
	case caller.IsAdmin:
		return true
	case caller.VoterID != "" && caller.VoterID == head.AuthorID:
		return true
	case caller.AdminKey != "":
		return auth.ValidateAdminKey(pollID, caller.AdminKey, c.salt) == nil
	default:
		return false
	}
}

// applyOptions makes the stored option set match inputs, in input order.
// Inputs with an ID keep that option; inputs without one are new. Stored
// options missing from inputs are removed, unless a ballot chose them.
func applyOptions(ctx context.Context, tx *store.Tx, pollID string, inputs []models.OptionInput) error {
	current, err := tx.Options(ctx, pollID)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(current))
	for _, opt := range current {
		existing[opt.ID] = true
	}
	kept := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if in.ID == "" {
			continue
		}
		if !existing[in.ID] {
			return apperr.Invalid("options", "unknown option "+in.ID)
		}
		kept[in.ID] = true
	}

	for _, opt := range current {
		if kept[opt.ID] {
			continue
		}
		referenced, err := tx.OptionReferenced(ctx, opt.ID)
		if err != nil {
			return err
		}
		if referenced {
			return apperr.ErrOptionInUse
		}
		if err := tx.DeleteOption(ctx, opt.ID); err != nil {
			return err
		}
	}

	for position, in := range inputs {
		if in.ID != "" {
			if err := tx.UpdateOption(ctx, in.ID, in.Text, position); err != nil {
				return err
			}
			continue
		}
		optionID, err := auth.GenerateID(12)
		if err != nil {
			return fmt.Errorf("failed to generate option ID: %w", err)
		}
		if err := tx.InsertOption(ctx, pollID, optionID, in.Text, position); err != nil {
			return err
		}
	}
	return nil
}
