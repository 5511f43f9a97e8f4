// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/auth"
	"github.com/danielhkuo/ballotbox/identity"
	"github.com/danielhkuo/ballotbox/middleware"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
)

// voterTokenHeader carries the bearer token issued by POST /voters
const voterTokenHeader = "X-Voter-Token"

// writeError translates a domain error into its HTTP status
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
	case apperr.KindConflict:
		if rev, ok := apperr.CurrentRevision(err); ok {
			middleware.ConflictResponse(w, "poll was modified; reload and retry", rev)
			return
		}
		middleware.ErrorResponse(w, http.StatusConflict, err.Error())
	case apperr.KindRejection:
		if errors.Is(err, apperr.ErrTooManyRequests) {
			middleware.ErrorResponse(w, http.StatusTooManyRequests, err.Error())
			return
		}
		middleware.ErrorResponse(w, http.StatusForbidden, err.Error())
	case apperr.KindNotFound:
		middleware.ErrorResponse(w, http.StatusNotFound, err.Error())
	case apperr.KindUnauthorized:
		if errors.Is(err, apperr.ErrAuthRequired) {
			middleware.ErrorResponse(w, http.StatusUnauthorized, err.Error())
			return
		}
		middleware.ErrorResponse(w, http.StatusForbidden, err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Internal error")
	}
}

// voterLookup is the slice of the store used to resolve bearer tokens
type voterLookup interface {
	GetVoterByTokenHash(ctx context.Context, tokenHash string) (*models.Voter, error)
}

// optionalVoter resolves the X-Voter-Token header. No header yields a nil
// voter; a header that matches no account is an authentication failure.
func optionalVoter(ctx context.Context, s voterLookup, r *http.Request) (*models.Voter, error) {
	token := r.Header.Get(voterTokenHeader)
	if token == "" {
		return nil, nil
	}
	if err := auth.ValidateTokenFormat(token); err != nil {
		return nil, apperr.ErrAuthRequired
	}

	v, err := s.GetVoterByTokenHash(ctx, identity.Hash(token))
	if errors.Is(err, store.ErrVoterNotFound) {
		return nil, apperr.ErrAuthRequired
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// requireVoter is optionalVoter with the header made mandatory
func requireVoter(ctx context.Context, s voterLookup, r *http.Request) (*models.Voter, error) {
	v, err := optionalVoter(ctx, s, r)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperr.ErrAuthRequired
	}
	return v, nil
}
