// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/auth"
	"github.com/danielhkuo/ballotbox/identity"
	"github.com/danielhkuo/ballotbox/middleware"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
)

const maxEmailLength = 254

type VoterHandler struct {
	store  *store.Store
	codec  *identity.Codec
	claims auth.Claims
}

func NewVoterHandler(s *store.Store, codec *identity.Codec, claims auth.Claims) *VoterHandler {
	return &VoterHandler{store: s, codec: codec, claims: claims}
}

// Register handles POST /voters
// Stores the email as a lookup hash plus ciphertext and returns a bearer token
func (h *VoterHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterVoterRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	email := identity.NormalizeEmail(req.Email)
	if email == "" || len(email) > maxEmailLength {
		writeError(w, r, apperr.Invalid("email", "must be 1-254 characters"))
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		writeError(w, r, apperr.Invalid("email", "is not a valid address"))
		return
	}
	// Display names are dropped so "Bob <bob@x.com>" and "bob@x.com" are one voter
	email = identity.NormalizeEmail(addr.Address)

	if _, err := h.store.GetVoterByEmailHash(r.Context(), identity.LookupHash(email)); err == nil {
		writeError(w, r, apperr.ErrAlreadyRegistered)
		return
	} else if !errors.Is(err, store.ErrVoterNotFound) {
		writeError(w, r, err)
		return
	}

	protected, err := h.codec.Protect(email)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := auth.GenerateVoterToken()
	if err != nil {
		writeError(w, r, err)
		return
	}
	voterID, err := auth.GenerateID(16)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The unique email_hash index still rejects a racing registration
	err = h.store.CreateVoter(r.Context(), models.Voter{
		ID:          voterID,
		EmailHash:   protected.Hash,
		EmailCipher: protected.Ciphertext,
		TokenHash:   identity.Hash(token),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("voter registered", "voter_id", voterID)

	middleware.JSONResponse(w, http.StatusCreated, models.RegisterVoterResponse{
		VoterID:    voterID,
		VoterToken: token,
	})
}

// GetMe handles GET /voters/me
// Decrypts the caller's own email; a tampered record fails closed
func (h *VoterHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	voter, err := requireVoter(r.Context(), h.store, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	email, err := h.codec.Reveal(identity.Protected{Hash: voter.EmailHash, Ciphertext: voter.EmailCipher})
	if err != nil {
		writeError(w, r, err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.VoterResponse{
		VoterID: voter.ID,
		Email:   email,
		IsAdmin: h.claims.IsAdmin(voter.EmailHash),
	})
}

// DeleteMe handles DELETE /voters/me
// Participation records cascade; named ballots keep their choices without the voter
func (h *VoterHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	voter, err := requireVoter(r.Context(), h.store, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	deleted, err := h.store.DeleteVoter(r.Context(), voter.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		// Raced with another delete of the same account
		writeError(w, r, apperr.ErrAuthRequired)
		return
	}

	slog.Info("voter deleted", "voter_id", voter.ID)
	w.WriteHeader(http.StatusNoContent)
}
