// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package editor

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/models"
)

const (
	minTitleLen       = 3
	maxTitleLen       = 100
	maxDescriptionLen = 500
	maxOptionLen      = 100
	minOptions        = 2
)

// Draft is the caller-supplied content of a poll, shared by create and edit.
type Draft struct {
	Title       string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time
	ResultsAt   *time.Time
	Settings    models.Settings
	Options     []models.OptionInput
}

// normalize trims text fields and fills defaults in place.
func (d *Draft) normalize() {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	for i := range d.Options {
		d.Options[i].Text = strings.TrimSpace(d.Options[i].Text)
	}
	if d.Settings.MaxSelections == 0 {
		d.Settings.MaxSelections = 1
	}
	d.StartsAt = d.StartsAt.UTC()
	d.EndsAt = d.EndsAt.UTC()
	if d.ResultsAt != nil {
		r := d.ResultsAt.UTC()
		d.ResultsAt = &r
	}
}

// validate checks a normalized draft. creating additionally rejects a start
// time in the past; edits may keep a start that has already passed.
func (d *Draft) validate(now time.Time, creating bool) error {
	if n := utf8.RuneCountInString(d.Title); n < minTitleLen || n > maxTitleLen {
		return apperr.Invalid("title", "must be 3-100 characters")
	}
	if utf8.RuneCountInString(d.Description) > maxDescriptionLen {
		return apperr.Invalid("description", "must be at most 500 characters")
	}

	if d.StartsAt.IsZero() || d.EndsAt.IsZero() {
		return apperr.Invalid("starts_at", "start and end times are required")
	}
	if !d.EndsAt.After(d.StartsAt) {
		return apperr.Invalid("ends_at", "must be after starts_at")
	}
	if creating && d.StartsAt.Before(now.Add(-time.Minute)) {
		return apperr.Invalid("starts_at", "must not be in the past")
	}
	if d.ResultsAt != nil && d.ResultsAt.Before(d.EndsAt) {
		return apperr.Invalid("results_at", "must not be before ends_at")
	}

	if len(d.Options) < minOptions {
		return apperr.Invalid("options", "at least 2 options are required")
	}
	seenText := make(map[string]bool, len(d.Options))
	seenID := make(map[string]bool, len(d.Options))
	for _, opt := range d.Options {
		if opt.Text == "" {
			return apperr.Invalid("options", "option text is required")
		}
		if utf8.RuneCountInString(opt.Text) > maxOptionLen {
			return apperr.Invalid("options", "option text must be at most 100 characters")
		}
		key := strings.ToLower(opt.Text)
		if seenText[key] {
			return apperr.Invalid("options", "duplicate option "+opt.Text)
		}
		seenText[key] = true
		if opt.ID != "" {
			if seenID[opt.ID] {
				return apperr.Invalid("options", "option listed twice")
			}
			seenID[opt.ID] = true
		}
	}

	if s := d.Settings.MaxSelections; s < 1 || s > len(d.Options) {
		return apperr.Invalid("max_selections", "must be between 1 and the number of options")
	}
	return nil
}
