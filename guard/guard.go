// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package guard

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/danielhkuo/ballotbox/apperr"
	"github.com/danielhkuo/ballotbox/auth"
	"github.com/danielhkuo/ballotbox/metrics"
)

// Rejection reasons, used in logs and metrics.
const (
	ReasonRateLimit = "rate_limit"
	ReasonUserAgent = "user_agent"
	ReasonNoHeaders = "missing_headers"
	ReasonBurst     = "burst"
)

const (
	defaultCacheSize = 10000
	rateBucketPrefix = "vote:"
)

// Signatures of common HTTP clients and browser automation, matched
// case-insensitively against the user agent.
var automationSignatures = []string{
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"aiohttp",
	"httpie",
	"go-http-client",
	"libwww-perl",
	"okhttp",
	"java/",
	"scrapy",
	"headlesschrome",
	"phantomjs",
	"selenium",
	"puppeteer",
	"playwright",
	"facebookexternalhit",
	"slurp",
}

// crawlerPattern matches crawler words as whole words or as product tokens
// with a version ("Googlebot/2.1"), but not inside device names like CUBOT.
var crawlerPattern = regexp.MustCompile(`\b(?:bot|spider|crawler)\b|(?:bot|spider|crawler)/\d`)

// CounterStore counts admitted attempts per key over a sliding window.
// Hit records an attempt only when fewer than limit are already inside the
// window ending at now, and reports whether it did.
type CounterStore interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error)
}

// Request is what the guard knows about a caller.
type Request struct {
	Origin         string
	UserAgent      string
	Accept         string
	AcceptLanguage string
}

// FromHTTP extracts the admission facts from an HTTP request whose client
// address has already been resolved to origin.
func FromHTTP(r *http.Request, origin string) Request {
	return Request{
		Origin:         origin,
		UserAgent:      r.UserAgent(),
		Accept:         r.Header.Get("Accept"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
	}
}

type Config struct {
	RateLimit      int
	RateWindow     time.Duration
	BurstThreshold int
	BurstWindow    time.Duration
	// Salt keys the origin hash; raw addresses never reach logs or counters.
	Salt string
	// CacheSize bounds how many origins have a live burst limiter.
	CacheSize int
}

// Guard decides whether a vote attempt may proceed. It is advisory: it stops
// floods and scripted clients, while the vote engine's uniqueness check is
// what actually prevents double counting.
type Guard struct {
	counters CounterStore
	cfg      Config
	metrics  *metrics.Metrics

	mu       sync.Mutex
	limiters *lru.Cache

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func New(counters CounterStore, cfg Config, m *metrics.Metrics) (*Guard, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.RateLimit <= 0 || cfg.RateWindow <= 0 {
		cfg.RateLimit, cfg.RateWindow = 8, 10*time.Minute
	}
	if cfg.BurstThreshold <= 0 || cfg.BurstWindow <= 0 {
		cfg.BurstThreshold, cfg.BurstWindow = 3, 500*time.Millisecond
	}
	limiters, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Guard{
		counters: counters,
		cfg:      cfg,
		metrics:  m,
		limiters: limiters,
		Now:      time.Now,
	}, nil
}

// Admit returns nil when the attempt may proceed, ErrRejectedAutomation when
// it looks scripted, or ErrTooManyRequests when the origin is over its rate.
// Rejected attempts do not consume rate limit budget.
func (g *Guard) Admit(ctx context.Context, req Request) error {
	now := g.Now()
	origin := auth.HashIP(req.Origin, g.cfg.Salt)

	if reason := automationReason(req); reason != "" {
		return g.reject(apperr.ErrRejectedAutomation, reason, origin)
	}

	if !g.limiter(origin).AllowN(now, 1) {
		return g.reject(apperr.ErrRejectedAutomation, ReasonBurst, origin)
	}

	allowed, err := g.counters.Hit(ctx, rateBucketPrefix+origin, now, g.cfg.RateWindow, g.cfg.RateLimit)
	if err != nil {
		return err
	}
	if !allowed {
		return g.reject(apperr.ErrTooManyRequests, ReasonRateLimit, origin)
	}
	return nil
}

func (g *Guard) reject(err error, reason, origin string) error {
	g.metrics.AdmissionRejected(reason)
	slog.Info("request rejected", "reason", reason, "origin", origin)
	return err
}

// limiter returns the burst token bucket for an origin: BurstThreshold
// tokens, refilled at BurstThreshold per BurstWindow.
func (g *Guard) limiter(origin string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, ok := g.limiters.Get(origin); ok {
		return l.(*rate.Limiter)
	}
	every := g.cfg.BurstWindow / time.Duration(g.cfg.BurstThreshold)
	l := rate.NewLimiter(rate.Every(every), g.cfg.BurstThreshold)
	g.limiters.Add(origin, l)
	return l
}

func automationReason(req Request) string {
	ua := strings.ToLower(strings.TrimSpace(req.UserAgent))
	if ua == "" {
		return ReasonUserAgent
	}
	for _, sig := range automationSignatures {
		if strings.Contains(ua, sig) {
			return ReasonUserAgent
		}
	}
	if crawlerPattern.MatchString(ua) {
		return ReasonUserAgent
	}
	if req.Accept == "" && req.AcceptLanguage == "" {
		return ReasonNoHeaders
	}
	return ""
}
