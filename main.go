package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/ballotbox/cliparse"
	"github.com/danielhkuo/ballotbox/db"
	"github.com/danielhkuo/ballotbox/lifecycle"
	"github.com/danielhkuo/ballotbox/metrics"
	"github.com/danielhkuo/ballotbox/middleware"
	"github.com/danielhkuo/ballotbox/router"
	"github.com/danielhkuo/ballotbox/tally"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		return err
	}

	logCloser, err := middleware.SetupLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	// Connect to the database
	dbConn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		return err
	}
	defer dbConn.Close()

	// Create schema (tables)
	if err := db.CreateSchema(dbConn); err != nil {
		slog.Error("schema creation failed", "error", err)
		return err
	}
	slog.Info("Database schema ready", "type", cfg.DatabaseType)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New("ballotbox", reg)
	if err != nil {
		return err
	}

	deps, err := router.NewDeps(dbConn, cfg, m)
	if err != nil {
		return err
	}
	deps.Gatherer = reg

	sweeper := lifecycle.NewSweeper(deps.Store, lifecycle.Notifiers{
		lifecycle.LogNotifier{},
		tally.CompletionNotifier{Broadcaster: deps.Broadcaster, Reader: deps.Store},
	}, cfg.SweepInterval, m)

	// Create server
	server := &http.Server{
		Handler:           middleware.CORS(cfg.CORSOrigins)(router.NewRouter(deps)),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	g.Go(func() error {
		pruneRateCounters(ctx, deps, cfg.RateWindow, cfg.SweepInterval)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		// Live feeds are hijacked connections that Shutdown does not wait
		// for; closing the broadcaster ends them
		deps.Broadcaster.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("Server closed", "error", err)
	return err
}

// pruneRateCounters drops expired rate entries until ctx ends. Origins that
// stop voting never prune themselves, so this keeps either store bounded.
func pruneRateCounters(ctx context.Context, deps router.Deps, window, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if deps.Memory != nil {
				if n := deps.Memory.Prune(now, window); n > 0 {
					slog.Debug("pruned rate counters", "origins", n)
				}
				continue
			}
			n, err := deps.Store.PruneRateHits(ctx, now.Add(-window))
			if err != nil {
				slog.Warn("failed to prune rate hits", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("pruned rate hits", "rows", n)
			}
		}
	}
}
