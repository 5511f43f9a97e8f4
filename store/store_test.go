// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/identity"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
	"github.com/danielhkuo/ballotbox/testutil"
)

func TestVoters(t *testing.T) {
	s := testutil.SetupTestStore(t)
	codec := testutil.NewTestCodec(t)
	ctx := context.Background()

	v, token := testutil.CreateTestVoter(t, s, codec, "Alice@Example.com ")

	byToken, err := s.GetVoterByTokenHash(ctx, identity.Hash(token))
	require.NoError(t, err)
	require.Equal(t, v.ID, byToken.ID)

	byEmail, err := s.GetVoterByEmailHash(ctx, identity.LookupHash("alice@example.com"))
	require.NoError(t, err)
	require.Equal(t, v.ID, byEmail.ID)

	email, err := codec.Reveal(identity.Protected{Hash: byEmail.EmailHash, Ciphertext: byEmail.EmailCipher})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", email)

	// Same address again, different case
	dup := v
	dup.ID = "another-id"
	dup.TokenHash = identity.Hash("another-token")
	require.ErrorIs(t, s.CreateVoter(ctx, dup), apperr.ErrAlreadyRegistered)

	_, err = s.GetVoterByTokenHash(ctx, identity.Hash("nope"))
	require.ErrorIs(t, err, store.ErrVoterNotFound)
}

func TestDeleteVoter_CascadesParticipation(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	s := store.New(conn)
	ctx := context.Background()
	v, _ := testutil.CreateTestVoter(t, s, testutil.NewTestCodec(t), "leaving@example.com")
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, v.ID)

	voterID := v.ID
	err := s.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertParticipation(ctx, models.ParticipationRecord{
			PollID: p.ID, ParticipantKey: "voter:" + v.ID, VoterID: &voterID, VotedAt: time.Now(),
		}); err != nil {
			return err
		}
		if err := tx.CountBallot(ctx, p.ID, false); err != nil {
			return err
		}
		if err := tx.InsertBallot(ctx, models.Ballot{
			ID: "b1", PollID: p.ID, VoterID: &voterID, OptionIDs: []string{p.Options[0].ID}, CastAt: time.Now(),
		}); err != nil {
			return err
		}
		return tx.IncrementOptions(ctx, p.ID, []string{p.Options[0].ID})
	})
	require.NoError(t, err)

	deleted, err := s.DeleteVoter(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	voted, err := s.HasParticipated(ctx, p.ID, "voter:"+v.ID)
	require.NoError(t, err)
	require.False(t, voted)

	// The ballot still counts, without its voter
	var ballots int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM ballot WHERE poll_id = $1 AND voter_id IS NULL`, p.ID).Scan(&ballots))
	require.Equal(t, 1, ballots)

	stored, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	require.Empty(t, stored.AuthorID)

	deleted, err = s.DeleteVoter(ctx, v.ID)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestPolls(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()

	first := testutil.CreateTestPoll(t, s, models.StatusUpcoming, models.Settings{}, "")
	second := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{MaxSelections: 2, Anonymous: true}, "")

	got, err := s.GetPoll(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, second.Title, got.Title)
	require.True(t, got.StartsAt.Equal(second.StartsAt))
	require.Equal(t, time.UTC, got.StartsAt.Location())
	require.Equal(t, 2, got.Settings.MaxSelections)
	require.True(t, got.Settings.Anonymous)
	require.Equal(t, int64(1), got.Revision)
	require.Len(t, got.Options, 3)
	require.Equal(t, "Option A", got.Options[0].Text)

	_, err = s.GetPoll(ctx, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	polls, err := s.ListPolls(ctx)
	require.NoError(t, err)
	require.Len(t, polls, 2)
	ids := []string{polls[0].ID, polls[1].ID}
	require.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestInsertParticipation_Unique(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	rec := models.ParticipationRecord{PollID: p.ID, ParticipantKey: "origin:abc", VotedAt: time.Now()}
	insert := func(tx *store.Tx) error { return tx.InsertParticipation(ctx, rec) }

	require.NoError(t, s.InTx(ctx, insert))
	require.ErrorIs(t, s.InTx(ctx, insert), apperr.ErrDuplicateVote)
}

func TestInsertBallot_RejectsForeignOption(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	err := s.InTx(ctx, func(tx *store.Tx) error {
		return tx.InsertBallot(ctx, models.Ballot{ID: "b1", PollID: p.ID, OptionIDs: []string{"ghost"}, CastAt: time.Now()})
	})
	require.ErrorIs(t, err, apperr.ErrInvalidSelection)

	other := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")
	err = s.InTx(ctx, func(tx *store.Tx) error {
		return tx.IncrementOptions(ctx, p.ID, []string{other.Options[0].ID})
	})
	require.ErrorIs(t, err, apperr.ErrInvalidSelection)
}

func TestInsertBallot_AnonymousCannotCarryVoter(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	v, _ := testutil.CreateTestVoter(t, s, testutil.NewTestCodec(t), "a@example.com")
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{Anonymous: true}, "")

	err := s.InTx(ctx, func(tx *store.Tx) error {
		return tx.InsertBallot(ctx, models.Ballot{
			ID: "b1", PollID: p.ID, VoterID: &v.ID, Anonymous: true,
			OptionIDs: []string{p.Options[0].ID}, CastAt: time.Now(),
		})
	})
	require.Error(t, err)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertParticipation(ctx, models.ParticipationRecord{
			PollID: p.ID, ParticipantKey: "origin:x", VotedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	voted, err := s.HasParticipated(ctx, p.ID, "origin:x")
	require.NoError(t, err)
	require.False(t, voted)
}

func TestRecountVotes(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	s := store.New(conn)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{MaxSelections: 2}, "")

	err := s.InTx(ctx, func(tx *store.Tx) error {
		return tx.InsertBallot(ctx, models.Ballot{
			ID: "b1", PollID: p.ID, OptionIDs: []string{p.Options[0].ID, p.Options[2].ID}, CastAt: time.Now(),
		})
	})
	require.NoError(t, err)

	// Counters never incremented: cached view is wrong until recount
	before, err := s.Tally(ctx, p.ID)
	require.NoError(t, err)
	require.Zero(t, before.Total)

	require.NoError(t, s.RecountVotes(ctx, p.ID))

	after, err := s.Tally(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), after.Total)
	counted, ballots, err := s.CountChoices(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), ballots)
	for _, c := range after.Counts {
		require.Equal(t, counted[c.OptionID], c.Votes)
	}
	require.Equal(t, int64(1), counted[p.Options[0].ID])
	require.Zero(t, counted[p.Options[1].ID])
}

func TestLifecycleQueries(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	require.NoError(t, s.SetStatus(ctx, p.ID, models.StatusCompleted))

	windows, err := s.ListPollWindows(ctx)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.Equal(t, models.StatusCompleted, windows[0].Status)
	require.False(t, windows[0].CompletionNotified)

	claimed, err := s.ClaimCompletion(ctx, p.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)
	claimed, err = s.ClaimCompletion(ctx, p.ID, time.Now())
	require.NoError(t, err)
	require.False(t, claimed)

	windows, err = s.ListPollWindows(ctx)
	require.NoError(t, err)
	require.True(t, windows[0].CompletionNotified)
}

func TestHit_SlidingWindow(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ok, err := s.Hit(ctx, "k", now.Add(time.Duration(i)*time.Second), time.Minute, 3)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := s.Hit(ctx, "k", now.Add(10*time.Second), time.Minute, 3)
	require.NoError(t, err)
	require.False(t, ok)

	// Other buckets are independent
	ok, err = s.Hit(ctx, "other", now.Add(10*time.Second), time.Minute, 3)
	require.NoError(t, err)
	require.True(t, ok)

	// First hit leaves the window
	ok, err = s.Hit(ctx, "k", now.Add(61*time.Second), time.Minute, 3)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHit_PrunesOnlyItsBucket(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	s := store.New(conn)
	ctx := context.Background()
	now := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	_, err := s.Hit(ctx, "quiet", now, time.Minute, 3)
	require.NoError(t, err)
	_, err = s.Hit(ctx, "busy", now, time.Minute, 3)
	require.NoError(t, err)

	// Two minutes later only the busy bucket's old row is cleared
	_, err = s.Hit(ctx, "busy", now.Add(2*time.Minute), time.Minute, 3)
	require.NoError(t, err)

	countRows := func(bucket string) int {
		var n int
		require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM rate_hit WHERE bucket = $1`, bucket).Scan(&n))
		return n
	}
	require.Equal(t, 1, countRows("quiet"))
	require.Equal(t, 1, countRows("busy"))

	pruned, err := s.PruneRateHits(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)
	require.Zero(t, countRows("quiet"))
	require.Equal(t, 1, countRows("busy"))
}

func TestTally(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{MaxSelections: 2}, "")

	err := s.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.CountBallot(ctx, p.ID, false); err != nil {
			return err
		}
		return tx.IncrementOptions(ctx, p.ID, []string{p.Options[1].ID, p.Options[2].ID})
	})
	require.NoError(t, err)

	got, err := s.Tally(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.PollID)
	require.Equal(t, int64(1), got.Total)
	require.Equal(t, []models.OptionCount{
		{OptionID: p.Options[0].ID, Votes: 0},
		{OptionID: p.Options[1].ID, Votes: 1},
		{OptionID: p.Options[2].ID, Votes: 1},
	}, got.Counts)

	_, err = s.Tally(ctx, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCountBallot_AnonymityGuard(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	p := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{Anonymous: true}, "")

	err := s.InTx(ctx, func(tx *store.Tx) error { return tx.CountBallot(ctx, p.ID, false) })
	require.ErrorIs(t, err, store.ErrPollChanged)

	require.NoError(t, s.InTx(ctx, func(tx *store.Tx) error { return tx.CountBallot(ctx, p.ID, true) }))
	got, err := s.Tally(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Total)
}

func TestParticipation(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()
	v, _ := testutil.CreateTestVoter(t, s, testutil.NewTestCodec(t), "a@example.com")
	named := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{MaxSelections: 2}, "")
	secret := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{Anonymous: true}, "")
	untouched := testutil.CreateTestPoll(t, s, models.StatusActive, models.Settings{}, "")

	key := "voter:" + v.ID
	votedAt := time.Date(2026, 2, 2, 9, 30, 0, 0, time.UTC)
	record := func(p *models.Poll, ballot models.Ballot) {
		t.Helper()
		err := s.InTx(ctx, func(tx *store.Tx) error {
			if err := tx.InsertParticipation(ctx, models.ParticipationRecord{
				PollID: p.ID, ParticipantKey: key, VoterID: &v.ID, VotedAt: votedAt,
			}); err != nil {
				return err
			}
			return tx.InsertBallot(ctx, ballot)
		})
		require.NoError(t, err)
	}
	// Choices are stored out of display order
	record(named, models.Ballot{
		ID: "b1", PollID: named.ID, VoterID: &v.ID, CastAt: votedAt,
		OptionIDs: []string{named.Options[2].ID, named.Options[0].ID},
	})
	record(secret, models.Ballot{
		ID: "b2", PollID: secret.ID, Anonymous: true, CastAt: votedAt,
		OptionIDs: []string{secret.Options[1].ID},
	})

	got, err := s.Participation(ctx, []string{named.ID, secret.ID, untouched.ID, "missing"}, key, v.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.True(t, got[named.ID].HasVoted)
	require.True(t, got[named.ID].VotedAt.Equal(votedAt))
	require.Equal(t, []string{named.Options[0].ID, named.Options[2].ID}, got[named.ID].Options)

	require.True(t, got[secret.ID].HasVoted)
	require.Empty(t, got[secret.ID].Options)

	_, ok := got[untouched.ID]
	require.False(t, ok)

	// Without a voter only participation is reported
	got, err = s.Participation(ctx, []string{named.ID}, key, "")
	require.NoError(t, err)
	require.True(t, got[named.ID].HasVoted)
	require.Empty(t, got[named.ID].Options)

	got, err = s.Participation(ctx, nil, key, v.ID)
	require.NoError(t, err)
	require.Empty(t, got)
}
