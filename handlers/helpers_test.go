// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielhkuo/ballotbox/auth"
	"github.com/danielhkuo/ballotbox/cliparse"
	"github.com/danielhkuo/ballotbox/editor"
	"github.com/danielhkuo/ballotbox/guard"
	"github.com/danielhkuo/ballotbox/identity"
	"github.com/danielhkuo/ballotbox/middleware"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
	"github.com/danielhkuo/ballotbox/tally"
	"github.com/danielhkuo/ballotbox/testutil"
	"github.com/danielhkuo/ballotbox/vote"
)

// trustedProxy is a reverse proxy address inside the test env's trusted range
const trustedProxy = "10.0.0.1"

// testEnv wires every handler over one fresh database
type testEnv struct {
	db          *sql.DB
	store       *store.Store
	cfg         cliparse.Config
	codec       *identity.Codec
	broadcaster *tally.Broadcaster

	voters *VoterHandler
	polls  *PollHandler
	voting *VotingHandler
	tally  *TallyHandler
}

// newTestEnv uses admission limits high enough that only the guard's own
// tests ever trip them
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithGuard(t, guard.Config{
		RateLimit:      10000,
		RateWindow:     time.Minute,
		BurstThreshold: 10000,
		BurstWindow:    time.Second,
	})
}

func newTestEnvWithGuard(t *testing.T, gcfg guard.Config) *testEnv {
	t.Helper()

	conn := testutil.SetupTestDB(t)
	s := store.New(conn)
	cfg := testutil.GetTestConfig()
	codec := testutil.NewTestCodec(t)

	hashes := make([]string, 0, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		hashes = append(hashes, identity.LookupHash(email))
	}
	claims := auth.NewClaims(hashes)

	gcfg.Salt = cfg.CorrelationSalt
	g, err := guard.New(guard.NewMemoryCounter(), gcfg, nil)
	if err != nil {
		t.Fatalf("Failed to create guard: %v", err)
	}

	b := tally.NewBroadcaster(tally.DefaultBuffer, nil)
	t.Cleanup(b.Close)

	engine := vote.NewEngine(s, b, cfg.CorrelationSalt, nil)
	ed := editor.NewController(s, cfg.AdminKeySalt, nil)

	ips, err := middleware.NewClientIPs([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("Failed to parse trusted proxies: %v", err)
	}

	return &testEnv{
		db:          conn,
		store:       s,
		cfg:         cfg,
		codec:       codec,
		broadcaster: b,
		voters:      NewVoterHandler(s, codec, claims),
		polls:       NewPollHandler(s, ed, engine, claims, ips),
		voting:      NewVotingHandler(s, g, engine, ips),
		tally:       NewTallyHandler(s, b, engine, ips, nil),
	}
}

// voter registers a voter directly in the store and returns its token
func (e *testEnv) voter(t *testing.T, email string) (models.Voter, string) {
	t.Helper()
	return testutil.CreateTestVoter(t, e.store, e.codec, email)
}

// castVote submits a vote from ip, with token when non-empty
func (e *testEnv) castVote(pollID, token, ip string, optionIDs ...string) *httptest.ResponseRecorder {
	headers := testutil.BrowserHeaders()
	if token != "" {
		headers[voterTokenHeader] = token
	}
	req := testutil.MakeRequest("POST", "/polls/"+pollID+"/votes", models.CastVoteRequest{Options: optionIDs}, headers)
	req.SetPathValue("id", pollID)
	if ip != "" {
		req.RemoteAddr = ip + ":40000"
	}

	w := httptest.NewRecorder()
	e.voting.CastVote(w, req)
	return w
}

// draftRequest is a valid poll body starting shortly from now
func draftRequest(options ...string) models.CreatePollRequest {
	if len(options) == 0 {
		options = []string{"Pizza", "Sushi", "Tacos"}
	}
	inputs := make([]models.OptionInput, 0, len(options))
	for _, text := range options {
		inputs = append(inputs, models.OptionInput{Text: text})
	}

	start := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	return models.CreatePollRequest{
		Title:       "Lunch vote",
		Description: "Where should we eat?",
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Settings:    models.Settings{MaxSelections: 1},
		Options:     inputs,
	}
}

func withToken(token string) map[string]string {
	return map[string]string{voterTokenHeader: token}
}

func pathRequest(method, path, id string, body interface{}, headers map[string]string) *http.Request {
	req := testutil.MakeRequest(method, path, body, headers)
	req.SetPathValue("id", id)
	return req
}
