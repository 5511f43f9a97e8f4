// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package apperr

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	// KindInternal means storage or crypto failure. Only class worth retrying with backoff.
	KindInternal Kind = iota
	// KindValidation means malformed or out-of-range input.
	KindValidation
	// KindConflict means the caller must re-fetch state before retrying.
	KindConflict
	// KindRejection means the caller should back off.
	KindRejection
	// KindNotFound means a stale reference.
	KindNotFound
	// KindUnauthorized means missing or insufficient credentials.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindRejection:
		return "rejection"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

var (
	ErrNotFound           = errors.New("poll not found")
	ErrPollNotActive      = errors.New("poll is not active")
	ErrInvalidSelection   = errors.New("invalid selection")
	ErrDuplicateVote      = errors.New("already voted in this poll")
	ErrAuthRequired       = errors.New("authentication required")
	ErrForbidden          = errors.New("not allowed to modify this poll")
	ErrTooManyRequests    = errors.New("too many requests")
	ErrRejectedAutomation = errors.New("request rejected as automated")
	ErrOptionInUse        = errors.New("option has ballots and cannot be removed")
	ErrSettingLocked      = errors.New("setting cannot change once ballots exist")
	ErrAlreadyRegistered  = errors.New("identity already registered")
	ErrDecrypt            = errors.New("identity record could not be decrypted")
)

// VersionConflictError is returned when an edit carries a stale revision.
type VersionConflictError struct {
	Current int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("revision conflict: current revision is %d", e.Current)
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	var vc *VersionConflictError
	var ve *ValidationError

	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &ve), errors.Is(err, ErrInvalidSelection):
		return KindValidation
	case errors.As(err, &vc),
		errors.Is(err, ErrDuplicateVote),
		errors.Is(err, ErrPollNotActive),
		errors.Is(err, ErrOptionInUse),
		errors.Is(err, ErrSettingLocked),
		errors.Is(err, ErrAlreadyRegistered):
		return KindConflict
	case errors.Is(err, ErrTooManyRequests), errors.Is(err, ErrRejectedAutomation):
		return KindRejection
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrForbidden):
		return KindUnauthorized
	default:
		return KindInternal
	}
}

// CurrentRevision extracts the revision from a version conflict.
func CurrentRevision(err error) (int64, bool) {
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return vc.Current, true
	}
	return 0, false
}
