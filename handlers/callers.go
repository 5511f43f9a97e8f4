// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/middleware"
	"github.com/danielhkuo/ballotbox/tally"
	"github.com/danielhkuo/ballotbox/vote"
)

// callers resolves who a request comes from
type callers struct {
	voters voterLookup
	ips    *middleware.ClientIPs
}

func (c callers) origin(r *http.Request) string {
	return c.ips.ClientIP(r)
}

// resolve identifies the request by voter token when present, else by origin
func (c callers) resolve(r *http.Request) (vote.Caller, error) {
	voter, err := optionalVoter(r.Context(), c.voters, r)
	if err != nil {
		return vote.Caller{}, err
	}

	caller := vote.Caller{Origin: c.origin(r)}
	if voter != nil {
		caller.VoterID = voter.ID
	}
	return caller, nil
}

// voteCheck reports whether the requester voted in pollID. Reads are public,
// so a token that matches nobody counts as not having voted.
func (c callers) voteCheck(e *vote.Engine, r *http.Request, pollID string) tally.VoteCheck {
	return func(ctx context.Context) (bool, error) {
		caller, err := c.resolve(r)
		if errors.Is(err, apperr.ErrAuthRequired) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return e.HasParticipated(ctx, pollID, caller)
	}
}
