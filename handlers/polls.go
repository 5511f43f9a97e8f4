// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/auth"
	"github.com/danielhkuo/ballotbox/editor"
	"github.com/danielhkuo/ballotbox/lifecycle"
	"github.com/danielhkuo/ballotbox/middleware"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
	"github.com/danielhkuo/ballotbox/vote"
)

type PollHandler struct {
	store   *store.Store
	editor  *editor.Controller
	engine  *vote.Engine
	claims  auth.Claims
	callers callers

	// Now is the clock used for status and results visibility
	Now func() time.Time
}

func NewPollHandler(s *store.Store, ed *editor.Controller, e *vote.Engine, claims auth.Claims, ips *middleware.ClientIPs) *PollHandler {
	return &PollHandler{
		store:   s,
		editor:  ed,
		engine:  e,
		claims:  claims,
		callers: callers{voters: s, ips: ips},
		Now:     time.Now,
	}
}

// CreatePoll handles POST /polls
// The caller becomes the poll's author and receives its admin key
func (h *PollHandler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	author, err := requireVoter(r.Context(), h.store, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.CreatePollRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	poll, adminKey, err := h.editor.Create(r.Context(), editor.CreateRequest{
		Draft: editor.Draft{
			Title:       req.Title,
			Description: req.Description,
			StartsAt:    req.StartsAt,
			EndsAt:      req.EndsAt,
			ResultsAt:   req.ResultsAt,
			Settings:    req.Settings,
			Options:     req.Options,
		},
		AuthorID: author.ID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, models.CreatePollResponse{
		PollID:   poll.ID,
		AdminKey: adminKey,
		Revision: poll.Revision,
	})
}

// ListPolls handles GET /polls
// Status is the value cached by the lifecycle sweep
func (h *PollHandler) ListPolls(w http.ResponseWriter, r *http.Request) {
	polls, err := h.store.ListPolls(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := h.Now()
	for i := range polls {
		redactCounts(&polls[i], now, false)
	}

	middleware.JSONResponse(w, http.StatusOK, polls)
}

// GetPoll handles GET /polls/{id}
// Status is recomputed from the window; counts are hidden until results are
// visible to the caller
func (h *PollHandler) GetPoll(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_id is required")
		return
	}

	poll, err := h.store.GetPoll(r.Context(), pollID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := h.Now()
	poll.Status = lifecycle.Status(poll, now)

	voted := false
	if poll.Settings.ShowResultsAfterVote && !lifecycle.ResultsVisible(poll, now) {
		if voted, err = h.callers.voteCheck(h.engine, r, pollID)(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	redactCounts(poll, now, voted)

	middleware.JSONResponse(w, http.StatusOK, poll)
}

// EditPoll handles PUT /polls/{id}
// Allowed with the poll's X-Admin-Key, as its author, or with an admin claim.
// A stale expected_revision returns 409 with the current revision.
func (h *PollHandler) EditPoll(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_id is required")
		return
	}

	voter, err := optionalVoter(r.Context(), h.store, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.EditPollRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	caller := editor.Caller{AdminKey: r.Header.Get("X-Admin-Key")}
	if voter != nil {
		caller.VoterID = voter.ID
		caller.IsAdmin = h.claims.IsAdmin(voter.EmailHash)
	}
	if caller.AdminKey == "" && caller.VoterID == "" {
		writeError(w, r, apperr.ErrAuthRequired)
		return
	}

	revision, err := h.editor.Edit(r.Context(), editor.EditRequest{
		Draft: editor.Draft{
			Title:       req.Title,
			Description: req.Description,
			StartsAt:    req.StartsAt,
			EndsAt:      req.EndsAt,
			ResultsAt:   req.ResultsAt,
			Settings:    req.Settings,
			Options:     req.Options,
		},
		PollID:           pollID,
		ExpectedRevision: req.ExpectedRevision,
		Caller:           caller,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Debug("poll edit accepted", "poll_id", pollID, "revision", revision)
	middleware.JSONResponse(w, http.StatusOK, models.EditPollResponse{Revision: revision})
}

// redactCounts zeroes per-option votes while results are sealed.
// The ballot count stays visible.
func redactCounts(p *models.Poll, now time.Time, voted bool) {
	p.ResultsVisible = lifecycle.ResultsVisibleTo(p, now, voted)
	if p.ResultsVisible {
		return
	}
	for i := range p.Options {
		p.Options[i].Votes = 0
	}
}
