// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Invalid("title", "too short"), KindValidation},
		{"invalid selection", ErrInvalidSelection, KindValidation},
		{"version conflict", &VersionConflictError{Current: 3}, KindConflict},
		{"wrapped version conflict", fmt.Errorf("edit: %w", &VersionConflictError{Current: 3}), KindConflict},
		{"duplicate vote", ErrDuplicateVote, KindConflict},
		{"poll not active", ErrPollNotActive, KindConflict},
		{"option in use", ErrOptionInUse, KindConflict},
		{"setting locked", ErrSettingLocked, KindConflict},
		{"already registered", ErrAlreadyRegistered, KindConflict},
		{"too many requests", ErrTooManyRequests, KindRejection},
		{"automation", fmt.Errorf("guard: %w", ErrRejectedAutomation), KindRejection},
		{"not found", ErrNotFound, KindNotFound},
		{"auth required", ErrAuthRequired, KindUnauthorized},
		{"forbidden", ErrForbidden, KindUnauthorized},
		{"decrypt", fmt.Errorf("%w: bad tag", ErrDecrypt), KindInternal},
		{"unknown", errors.New("connection reset"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCurrentRevision(t *testing.T) {
	rev, ok := CurrentRevision(fmt.Errorf("wrapped: %w", &VersionConflictError{Current: 7}))
	if !ok || rev != 7 {
		t.Errorf("CurrentRevision() = %d, %v; want 7, true", rev, ok)
	}

	if _, ok := CurrentRevision(ErrDuplicateVote); ok {
		t.Error("CurrentRevision() matched a non-conflict error")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	if got := Invalid("title", "too short").Error(); got != "title: too short" {
		t.Errorf("Error() = %q", got)
	}
	if got := Invalid("", "bad input").Error(); got != "bad input" {
		t.Errorf("Error() = %q", got)
	}
}

func TestKindString(t *testing.T) {
	if KindRejection.String() != "rejection" || KindInternal.String() != "internal" {
		t.Error("unexpected Kind names")
	}
}
