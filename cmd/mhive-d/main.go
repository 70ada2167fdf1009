package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rmax-ai/mhive/pkg/api"
	"github.com/rmax-ai/mhive/pkg/data"
	"github.com/rmax-ai/mhive/pkg/explore"
	"github.com/rmax-ai/mhive/pkg/logging"
	"github.com/rmax-ai/mhive/pkg/session"
	"github.com/rmax-ai/mhive/pkg/source"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "mhive-d: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Prefix: "mhive-d"})
	if err := run(cfg, logger); err != nil {
		logger.Fatal("daemon failed", "error", err)
	}
}

func run(cfg Config, logger *log.Logger) error {
	logger.Info("system_started", "source", cfg.Source.Kind, "sessions", cfg.SessionBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, err := source.Open(ctx, cfg.Source)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	loader := data.NewLoader(src, logger.With("component", "loader"))
	start := time.Now()
	err = loader.LoadAll(ctx, func(done, total int) {
		logger.Info("loading snapshot", "tiers", fmt.Sprintf("%d/%d", done, total))
	})
	if err != nil {
		// The API answers 503 until an operator triggers /v1/reload.
		logger.Error("initial snapshot load failed", "error", err)
	} else {
		logger.Info("snapshot loaded", "source", src.Name(), "duration", time.Since(start))
	}

	kv, err := openSessionKV(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error("failed to close session store", "error", err)
		} else {
			logger.Info("session store closed")
		}
	}()

	srv := api.NewServer(loader, kv, api.Config{
		Addr: cfg.Addr,
		Explore: explore.Options{
			InitialNodeCount: cfg.InitialNodes,
			ExpandNodeCount:  cfg.ExpandNodes,
			BreadcrumbMax:    cfg.BreadcrumbMax,
		},
		SessionWindow: cfg.SessionWindow,
		AdminToken:    cfg.AdminToken,
	}, logger.With("component", "api"))
	if cfg.TLSCert != "" {
		srv.SetTLS(cfg.TLSCert, cfg.TLSKey)
	}

	// Idle explorers leave memory on the same schedule; their state stays
	// in the session store.
	if cfg.PruneInterval > 0 {
		evictor := session.NewPruneWorker(srv, cfg.SessionWindow, cfg.PruneInterval, logger.With("component", "evict"))
		go evictor.Run(ctx)
	}

	if local, ok := src.(*source.LocalSource); ok && cfg.Watch {
		go func() {
			err := local.Watch(ctx, logger.With("component", "watch"), func(key string) {
				onSnapshotChange(ctx, loader, srv, logger, key)
			})
			if err != nil && ctx.Err() == nil {
				logger.Error("snapshot watch stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				logger.Info("reload_initiated", "signal", sig.String())
				loader.ClearAll()
				if err := srv.Reload(ctx); err != nil {
					logger.Error("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutdown_initiated", "signal", sig.String())
			cancel()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			err := srv.Stop(shutdownCtx)
			stop()
			if err != nil {
				logger.Error("failed to stop server", "error", err)
			}
			logger.Info("shutdown_complete")
			return nil
		}
	}
}

// openSessionKV opens the configured session backend. The sqlite backend also
// gets a prune worker bound to ctx.
func openSessionKV(ctx context.Context, cfg Config, logger *log.Logger) (session.KV, error) {
	switch cfg.SessionBackend {
	case "sqlite":
		kv, err := session.NewSQLiteKV(cfg.SessionPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite sessions: %w", err)
		}
		logger.Info("session store initialized", "backend", "sqlite", "path", cfg.SessionPath)
		if cfg.PruneInterval > 0 {
			worker := session.NewPruneWorker(kv, cfg.SessionWindow, cfg.PruneInterval, logger.With("component", "prune"))
			go worker.Run(ctx)
		}
		return kv, nil
	case "redis":
		kv, err := session.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis sessions: %w", err)
		}
		logger.Info("session store initialized", "backend", "redis")
		return kv, nil
	case "badger":
		kv, err := session.NewBadgerKV(cfg.SessionPath)
		if err != nil {
			return nil, fmt.Errorf("open badger sessions: %w", err)
		}
		logger.Info("session store initialized", "backend", "badger", "path", cfg.SessionPath)
		return kv, nil
	default:
		logger.Info("session store initialized", "backend", "memory")
		return session.NewMemoryKV(), nil
	}
}

// onSnapshotChange drops the cached copy of a changed snapshot file. Bulk
// files are refetched at once so live sessions pick them up; detail files
// are fetched lazily on next selection.
func onSnapshotChange(ctx context.Context, loader *data.Loader, srv *api.Server, logger *log.Logger, key string) {
	tier := loader.Invalidate(key)
	switch tier {
	case "":
		return
	case data.TierDetails:
		logger.Debug("detail invalidated", "key", key)
		return
	}
	logger.Info("snapshot changed", "key", key, "tier", tier)
	if err := srv.Reload(ctx); err != nil {
		logger.Error("reload after change failed", "key", key, "error", err)
	}
}
