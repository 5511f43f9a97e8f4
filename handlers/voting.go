// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/danielhkuo/ballotbox/guard"
	"github.com/danielhkuo/ballotbox/middleware"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
	"github.com/danielhkuo/ballotbox/vote"
)

type VotingHandler struct {
	callers callers
	guard   *guard.Guard
	engine  *vote.Engine
}

// NewVotingHandler creates the voting handler. ips decides which proxies may
// report the client address; nil trusts none.
func NewVotingHandler(s *store.Store, g *guard.Guard, e *vote.Engine, ips *middleware.ClientIPs) *VotingHandler {
	return &VotingHandler{callers: callers{voters: s, ips: ips}, guard: g, engine: e}
}

// CastVote handles POST /polls/{id}/votes
// Admission runs before the body is read; the response never reveals other ballots
func (h *VotingHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_id is required")
		return
	}

	if err := h.guard.Admit(r.Context(), guard.FromHTTP(r, h.callers.origin(r))); err != nil {
		writeError(w, r, err)
		return
	}

	caller, err := h.callers.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.CastVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	err = h.engine.Cast(r.Context(), vote.CastRequest{
		PollID:    pollID,
		OptionIDs: req.Options,
		Caller:    caller,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetParticipation handles GET /polls/{id}/participation
// Reports whether and when the caller voted; signed-in voters also get their
// own choices on polls that are not anonymous
func (h *VotingHandler) GetParticipation(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_id is required")
		return
	}

	caller, err := h.callers.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.engine.Participation(r.Context(), pollID, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, p)
}

// GetParticipationBatch handles POST /participation
// Answers GetParticipation for up to vote.MaxBatch polls at once; polls the
// caller has not voted in are omitted
func (h *VotingHandler) GetParticipationBatch(w http.ResponseWriter, r *http.Request) {
	caller, err := h.callers.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.ParticipationBatchRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	polls, err := h.engine.ParticipationBatch(r.Context(), req.PollIDs, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.ParticipationBatchResponse{Polls: polls})
}
