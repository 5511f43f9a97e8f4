// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package editor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/auth"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
	"github.com/danielhkuo/ballotbox/testutil"
	"github.com/danielhkuo/ballotbox/vote"
)

const salt = "test-admin-salt"

func setup(t *testing.T) (*store.Store, *Controller) {
	t.Helper()
	return setupWith(testutil.SetupTestStore(t))
}

func setupWith(s *store.Store) (*store.Store, *Controller) {
	return s, NewController(s, salt, nil)
}

func draft() Draft {
	now := time.Now().UTC()
	return Draft{
		Title:       "Lunch spot",
		Description: "Where should we eat on Friday?",
		StartsAt:    now.Add(-time.Hour),
		EndsAt:      now.Add(time.Hour),
		Settings:    models.Settings{MaxSelections: 1},
		Options: []models.OptionInput{
			{Text: "Tacos"},
			{Text: "Ramen"},
		},
	}
}

// editOf builds an edit that keeps every current option of p.
func editOf(p *models.Poll, expected int64) EditRequest {
	d := draft()
	d.Title = p.Title
	d.StartsAt, d.EndsAt = p.StartsAt, p.EndsAt
	d.Settings = p.Settings
	d.Options = nil
	for _, o := range p.Options {
		d.Options = append(d.Options, models.OptionInput{ID: o.ID, Text: o.Text})
	}
	return EditRequest{
		Draft:            d,
		PollID:           p.ID,
		ExpectedRevision: expected,
		Caller:           Caller{IsAdmin: true},
	}
}

func TestCreate(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()

	d := draft()
	d.StartsAt = time.Now().Add(time.Hour)
	d.EndsAt = time.Now().Add(2 * time.Hour)
	d.Title = "  Lunch spot  "
	d.Settings.MaxSelections = 0

	p, adminKey, err := c.Create(ctx, CreateRequest{Draft: d})
	require.NoError(t, err)
	require.NoError(t, auth.ValidateAdminKey(p.ID, adminKey, salt))
	require.Equal(t, int64(1), p.Revision)
	require.Equal(t, models.StatusUpcoming, p.Status)

	stored, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Lunch spot", stored.Title)
	require.Equal(t, 1, stored.Settings.MaxSelections)
	require.Len(t, stored.Options, 2)
	require.Equal(t, "Tacos", stored.Options[0].Text)
	require.Equal(t, "Ramen", stored.Options[1].Text)
}

func TestCreate_Validation(t *testing.T) {
	_, c := setup(t)
	now := time.Now()

	tests := []struct {
		name   string
		field  string
		mutate func(d *Draft)
	}{
		{"short title", "title", func(d *Draft) { d.Title = "ab" }},
		{"blank title", "title", func(d *Draft) { d.Title = "      " }},
		{"long title", "title", func(d *Draft) { d.Title = strings.Repeat("x", 101) }},
		{"long description", "description", func(d *Draft) { d.Description = strings.Repeat("x", 501) }},
		{"end before start", "ends_at", func(d *Draft) { d.EndsAt = d.StartsAt.Add(-time.Minute) }},
		{"start in past", "starts_at", func(d *Draft) { d.StartsAt = now.Add(-time.Hour) }},
		{"results before end", "results_at", func(d *Draft) { r := d.EndsAt.Add(-time.Minute); d.ResultsAt = &r }},
		{"one option", "options", func(d *Draft) { d.Options = d.Options[:1] }},
		{"empty option", "options", func(d *Draft) { d.Options[1].Text = " " }},
		{"long option", "options", func(d *Draft) { d.Options[1].Text = strings.Repeat("y", 101) }},
		{"duplicate option", "options", func(d *Draft) { d.Options[1].Text = "TACOS" }},
		{"too many selections", "max_selections", func(d *Draft) { d.Settings.MaxSelections = 3 }},
		{"negative selections", "max_selections", func(d *Draft) { d.Settings.MaxSelections = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := draft()
			d.StartsAt = now.Add(time.Hour)
			d.EndsAt = now.Add(2 * time.Hour)
			d.Options = append([]models.OptionInput(nil), d.Options...)
			tt.mutate(&d)

			_, _, err := c.Create(context.Background(), CreateRequest{Draft: d})
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestEdit_AppliesAndIncrementsRevision(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	req := editOf(p, 1)
	req.Title = "Renamed poll"
	req.Options[0].Text = "Option A (renamed)"
	req.Options = append(req.Options, models.OptionInput{Text: "Option D"})
	// Move C to the front
	req.Options[0], req.Options[2] = req.Options[2], req.Options[0]

	rev, err := c.Edit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(2), rev)

	stored, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Renamed poll", stored.Title)
	require.Equal(t, int64(2), stored.Revision)
	require.Len(t, stored.Options, 4)
	require.Equal(t, p.Options[2].ID, stored.Options[0].ID)
	require.Equal(t, "Option A (renamed)", stored.Options[2].Text)
	require.Equal(t, p.Options[0].ID, stored.Options[2].ID)
	require.Equal(t, "Option D", stored.Options[3].Text)
}

func TestEdit_StaleRevision(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	// Bring the poll to revision 3
	for expected := int64(1); expected < 3; expected++ {
		_, err := c.Edit(ctx, editOf(p, expected))
		require.NoError(t, err)
	}

	req := editOf(p, 2)
	req.Title = "Should not land"
	_, err := c.Edit(ctx, req)

	var vc *apperr.VersionConflictError
	require.ErrorAs(t, err, &vc)
	require.Equal(t, int64(3), vc.Current)
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	stored, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Test Poll", stored.Title)
	require.Equal(t, int64(3), stored.Revision)
}

func TestEdit_ConcurrentSameRevision(t *testing.T) {
	s, c := setup(t)
	testConcurrentSameRevision(t, s, c)
}

func TestEdit_ConcurrentSameRevision_Postgres(t *testing.T) {
	s, c := setupWith(testutil.SetupPostgresStore(t))
	testConcurrentSameRevision(t, s, c)
}

func testConcurrentSameRevision(t *testing.T, s *store.Store, c *Controller) {
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	const editors = 10
	errs := make(chan error, editors)
	var wg sync.WaitGroup
	for i := 0; i < editors; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Edit(ctx, editOf(p, 1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		current, ok := apperr.CurrentRevision(err)
		require.True(t, ok, "unexpected error: %v", err)
		require.Equal(t, int64(2), current)
	}
	require.Equal(t, 1, succeeded)

	stored, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.Revision)
}

func TestEdit_ConcurrentWithVotes(t *testing.T) {
	s, c := setup(t)
	testConcurrentWithVotes(t, s, c)
}

func TestEdit_ConcurrentWithVotes_Postgres(t *testing.T) {
	s, c := setupWith(testutil.SetupPostgresStore(t))
	testConcurrentWithVotes(t, s, c)
}

// testConcurrentWithVotes races ballots against option renames on the same
// poll. Neither side may fail with anything but a revision conflict, and
// the counters must match the ballots afterwards.
func testConcurrentWithVotes(t *testing.T, s *store.Store, c *Controller) {
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")
	engine := vote.NewEngine(s, nil, "correlation", nil)

	const voters, editors, editsEach = 20, 4, 5
	errs := make(chan error, voters+editors)
	var wg sync.WaitGroup

	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- engine.Cast(ctx, vote.CastRequest{
				PollID:    p.ID,
				OptionIDs: []string{p.Options[i%len(p.Options)].ID},
				Caller:    vote.Caller{Origin: fmt.Sprintf("198.51.100.%d", i+1)},
			})
		}(i)
	}

	for i := 0; i < editors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < editsEach; {
				current, err := s.GetPoll(ctx, p.ID)
				if err != nil {
					errs <- err
					return
				}
				req := editOf(current, current.Revision)
				for j := range req.Options {
					req.Options[j].Text = fmt.Sprintf("Option %d (editor %d, edit %d)", j, i, n)
				}
				_, err = c.Edit(ctx, req)
				if _, conflict := apperr.CurrentRevision(err); conflict {
					continue
				}
				if err != nil {
					errs <- err
					return
				}
				n++
			}
			errs <- nil
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tally, err := s.Tally(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(voters), tally.Total)

	counts, ballots, err := s.CountChoices(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(voters), ballots)
	for _, oc := range tally.Counts {
		require.Equal(t, counts[oc.OptionID], oc.Votes, "option %s", oc.OptionID)
	}

	stored, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1+editors*editsEach), stored.Revision)
}

func TestEdit_CompareAndSwapIsAuthoritative(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	m := store.Metadata{
		Title:    "x",
		StartsAt: p.StartsAt,
		EndsAt:   p.EndsAt,
		Settings: p.Settings,
		Status:   models.StatusActive,
	}
	err := s.InTx(ctx, func(tx *store.Tx) error {
		rev, err := tx.CompareAndSwapRevision(ctx, p.ID, 1, m)
		require.NoError(t, err)
		require.Equal(t, int64(2), rev)

		_, err = tx.CompareAndSwapRevision(ctx, p.ID, 1, m)
		return err
	})
	current, ok := apperr.CurrentRevision(err)
	require.True(t, ok)
	require.Equal(t, int64(2), current)

	// The failed transaction rolled back the first swap too
	stored, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Revision)
	require.Equal(t, "Test Poll", stored.Title)
}

func TestEdit_OptionRemovalBlocked(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	engine := vote.NewEngine(s, nil, "correlation", nil)
	require.NoError(t, engine.Cast(ctx, vote.CastRequest{
		PollID:    p.ID,
		OptionIDs: []string{p.Options[0].ID},
		Caller:    vote.Caller{Origin: "192.0.2.1"},
	}))

	req := editOf(p, 1)
	req.Title = "Changed with removal"
	req.Options = req.Options[1:]
	_, err := c.Edit(ctx, req)
	require.ErrorIs(t, err, apperr.ErrOptionInUse)

	stored, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Test Poll", stored.Title)
	require.Equal(t, int64(1), stored.Revision)
	require.Len(t, stored.Options, 3)
	require.Equal(t, int64(1), stored.Options[0].Votes)

	// An option nobody chose can still go
	req = editOf(p, 1)
	req.Options = req.Options[:2]
	rev, err := c.Edit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(2), rev)
}

func TestEdit_DeleteReferencedOptionFailsInStore(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	engine := vote.NewEngine(s, nil, "correlation", nil)
	require.NoError(t, engine.Cast(ctx, vote.CastRequest{
		PollID:    p.ID,
		OptionIDs: []string{p.Options[1].ID},
		Caller:    vote.Caller{Origin: "192.0.2.1"},
	}))

	err := s.InTx(ctx, func(tx *store.Tx) error {
		return tx.DeleteOption(ctx, p.Options[1].ID)
	})
	require.ErrorIs(t, err, apperr.ErrOptionInUse)
}

func TestEdit_AnonymityLockedOnceBallotsExist(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	// Free to change while nobody has voted
	req := editOf(p, 1)
	req.Settings.Anonymous = true
	rev, err := c.Edit(ctx, req)
	require.NoError(t, err)

	engine := vote.NewEngine(s, nil, "correlation", nil)
	require.NoError(t, engine.Cast(ctx, vote.CastRequest{
		PollID:    p.ID,
		OptionIDs: []string{p.Options[0].ID},
		Caller:    vote.Caller{Origin: "192.0.2.1"},
	}))

	req = editOf(p, rev)
	req.Settings.Anonymous = false
	_, err = c.Edit(ctx, req)
	require.ErrorIs(t, err, apperr.ErrSettingLocked)

	stored, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, stored.Settings.Anonymous)
	require.Equal(t, rev, stored.Revision)
}

func TestEdit_Authorization(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()
	codec := testutil.NewTestCodec(t)
	author, _ := testutil.CreateTestVoter(t, s, codec, "author@example.com")
	stranger, _ := testutil.CreateTestVoter(t, s, codec, "stranger@example.com")
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, author.ID)

	tests := []struct {
		name   string
		caller Caller
		want   error
	}{
		{"nobody", Caller{}, apperr.ErrForbidden},
		{"stranger", Caller{VoterID: stranger.ID}, apperr.ErrForbidden},
		{"wrong admin key", Caller{AdminKey: auth.GenerateAdminKey("other", salt)}, apperr.ErrForbidden},
		{"author", Caller{VoterID: author.ID}, nil},
		{"admin key", Caller{AdminKey: auth.GenerateAdminKey(p.ID, salt)}, nil},
		{"admin claim", Caller{IsAdmin: true}, nil},
	}

	revision := int64(1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := editOf(p, revision)
			req.Caller = tt.caller
			rev, err := c.Edit(ctx, req)
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			revision = rev
		})
	}
	require.Equal(t, int64(4), revision)
}

func TestEdit_AuthorizationBeforeValidation(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	req := editOf(p, 1)
	req.Title = "x"
	req.Options = nil

	req.Caller = Caller{}
	_, err := c.Edit(ctx, req)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	req.Caller = Caller{IsAdmin: true}
	_, err = c.Edit(ctx, req)
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestEdit_UnknownPollAndOption(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	req := editOf(p, 1)
	req.PollID = "missing"
	_, err := c.Edit(ctx, req)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	req = editOf(p, 1)
	req.Options[0].ID = "not-an-option"
	_, err = c.Edit(ctx, req)
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)

	stored, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Revision)
}

func TestEdit_AllowsPastStart(t *testing.T) {
	s, c := setup(t)
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	// The poll started an hour ago; keeping that start is fine on edit
	_, err := c.Edit(context.Background(), editOf(p, 1))
	require.NoError(t, err)
}
