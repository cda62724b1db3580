package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/hearth/internal/config"
	"github.com/Tyrowin/hearth/internal/history"
	"github.com/Tyrowin/hearth/internal/identity"
	"github.com/Tyrowin/hearth/internal/logging"
	"github.com/Tyrowin/hearth/internal/playlist"
	"github.com/Tyrowin/hearth/internal/presence"
	"github.com/Tyrowin/hearth/internal/ratelimit"
	"github.com/Tyrowin/hearth/internal/server"
	"github.com/Tyrowin/hearth/internal/session"
	"github.com/Tyrowin/hearth/internal/store"
	"github.com/Tyrowin/hearth/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hearth: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("port", cfg.Server.Port).
		Strs("allowed_origins", cfg.Security.AllowedOrigins).
		Str("backend", cfg.Persistence.Backend).
		Msg("starting Hearth server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closer, err := openBackend(cfg.Persistence)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing snapshot backend")
		}
	}()
	guarded := store.NewBreaker(backend, store.DefaultBreakerConfig())

	messages := history.NewStore(cfg.Persistence.HistorySize)
	initial := history.Restore(ctx, guarded, messages, cfg.Playlist.Default)
	pl := playlist.New(initial, cfg.Security.AdminIDs).WithMarker(cfg.Playlist.EmbedMarker)
	snapshots := history.NewSnapshotter(messages, pl, guarded, cfg.Persistence.Interval)

	limiter := ratelimit.New()
	srv := server.New(server.Deps{
		Config:    cfg,
		Registry:  presence.NewRegistry(),
		Limiter:   limiter,
		History:   messages,
		Playlist:  pl,
		Snapshots: snapshots,
		Sessions: session.NewManager(cfg.Security.SessionSecret, cfg.Security.SessionTTL, cfg.Security.SessionCookie).
			WithSecureCookie(cfg.Security.SecureCookie),
		Resolver: identity.NewResolver(nil),
	})

	httpServer := server.CreateServer(cfg.Server.Port, srv.Routes(), server.Timeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	})

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddStateService(snapshots)
	tree.AddStateService(ratelimit.NewSweeper(limiter, cfg.Limits.SweepInterval, cfg.Limits.SweepGrace))
	tree.AddMessagingService(srv.Hub())
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.Server.Port, cfg.Server.ShutdownTimeout))

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, s := range report {
			logging.Warn().Str("service", s.Name).Msg("service did not stop in time")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	logging.Info().Msg("server stopped")
	return nil
}

// openBackend returns the configured snapshot backend and whatever must be
// closed at exit.
func openBackend(cfg config.PersistenceConfig) (history.Backend, io.Closer, error) {
	switch cfg.Backend {
	case "badger":
		b, err := store.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		logging.Info().Str("dir", cfg.BadgerDir).Msg("snapshots stored in badger")
		return b, b, nil
	default:
		f := store.NewFileBackend(cfg.Path)
		logging.Info().Str("path", f.Path()).Msg("snapshots stored in file")
		return f, io.NopCloser(nil), nil
	}
}
