// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielhkuo/ballotbox/auth"
	"github.com/danielhkuo/ballotbox/cliparse"
	"github.com/danielhkuo/ballotbox/editor"
	"github.com/danielhkuo/ballotbox/guard"
	"github.com/danielhkuo/ballotbox/handlers"
	"github.com/danielhkuo/ballotbox/identity"
	"github.com/danielhkuo/ballotbox/metrics"
	"github.com/danielhkuo/ballotbox/middleware"
	"github.com/danielhkuo/ballotbox/store"
	"github.com/danielhkuo/ballotbox/tally"
	"github.com/danielhkuo/ballotbox/vote"
)

// Deps are the long-lived components the routes are served from
type Deps struct {
	Store       *store.Store
	Codec       *identity.Codec
	Claims      auth.Claims
	Guard       *guard.Guard
	Engine      *vote.Engine
	Editor      *editor.Controller
	Broadcaster *tally.Broadcaster
	Metrics     *metrics.Metrics
	ClientIPs   *middleware.ClientIPs

	// Memory is the in-process rate counter; nil when counters live in SQL
	Memory *guard.MemoryCounter

	// Gatherer backs GET /metrics; nil disables the route
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
}

// NewDeps builds every component from the configuration
func NewDeps(conn *sql.DB, cfg cliparse.Config, m *metrics.Metrics) (Deps, error) {
	s := store.New(conn)

	codec, err := identity.NewCodecFromHex(cfg.EncryptionKey)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to load encryption key: %w", err)
	}

	hashes := make([]string, 0, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		hashes = append(hashes, identity.LookupHash(email))
	}

	ips, err := middleware.NewClientIPs(cfg.TrustedProxies)
	if err != nil {
		return Deps{}, err
	}

	var counters guard.CounterStore = s
	var memory *guard.MemoryCounter
	if cfg.RateStore == cliparse.RateStoreMemory {
		memory = guard.NewMemoryCounter()
		counters = memory
	}

	g, err := guard.New(counters, guard.Config{
		RateLimit:      cfg.RateLimit,
		RateWindow:     cfg.RateWindow,
		BurstThreshold: cfg.BurstThreshold,
		BurstWindow:    cfg.BurstWindow,
		Salt:           cfg.CorrelationSalt,
	}, m)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to create admission guard: %w", err)
	}

	b := tally.NewBroadcaster(tally.DefaultBuffer, m)

	return Deps{
		Store:       s,
		Codec:       codec,
		Claims:      auth.NewClaims(hashes),
		Guard:       g,
		Engine:      vote.NewEngine(s, b, cfg.CorrelationSalt, m),
		Editor:      editor.NewController(s, cfg.AdminKeySalt, m),
		Broadcaster: b,
		Metrics:     m,
		ClientIPs:   ips,
		Memory:      memory,
		CORSOrigins: cfg.CORSOrigins,
	}, nil
}

func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	voterHandler := handlers.NewVoterHandler(d.Store, d.Codec, d.Claims)
	pollHandler := handlers.NewPollHandler(d.Store, d.Editor, d.Engine, d.Claims, d.ClientIPs)
	votingHandler := handlers.NewVotingHandler(d.Store, d.Guard, d.Engine, d.ClientIPs)
	tallyHandler := handlers.NewTallyHandler(d.Store, d.Broadcaster, d.Engine, d.ClientIPs, d.CORSOrigins)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Store.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	// Voters
	mux.HandleFunc("POST /voters", middleware.WithLogging(voterHandler.Register))
	mux.HandleFunc("GET /voters/me", middleware.WithLogging(voterHandler.GetMe))
	mux.HandleFunc("DELETE /voters/me", middleware.WithLogging(voterHandler.DeleteMe))

	// Polls
	mux.HandleFunc("POST /polls", middleware.WithLogging(pollHandler.CreatePoll))
	mux.HandleFunc("GET /polls", middleware.WithLogging(pollHandler.ListPolls))
	mux.HandleFunc("GET /polls/{id}", middleware.WithLogging(pollHandler.GetPoll))
	mux.HandleFunc("PUT /polls/{id}", middleware.WithLogging(pollHandler.EditPoll))

	// Voting
	mux.HandleFunc("POST /polls/{id}/votes", middleware.WithLogging(votingHandler.CastVote))
	mux.HandleFunc("GET /polls/{id}/participation", middleware.WithLogging(votingHandler.GetParticipation))
	mux.HandleFunc("POST /participation", middleware.WithLogging(votingHandler.GetParticipationBatch))

	// Tallies
	mux.HandleFunc("GET /polls/{id}/tally", middleware.WithLogging(tallyHandler.GetTally))
	mux.HandleFunc("GET /polls/{id}/live", middleware.WithLogging(tallyHandler.Live))

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ballotbox API v1"))
	})

	return mux
}
