// Package main is the edge fixup demo and diagnostic driver. It builds a
// grid of mismatched terrain tiles, reconciles their borders and reports the
// remaining seams.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/edgefixup/internal/config"
	"github.com/Faultbox/edgefixup/internal/fixup"
	"github.com/Faultbox/edgefixup/internal/logger"
	"github.com/Faultbox/edgefixup/internal/snapshotstore"
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("=== Edge Fixup ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger.Log); err != nil {
		logger.Error("edge fixup failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("edge fixup finished")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	coord := fixup.NewCoordinator(
		fixup.WithLogger(log),
		fixup.WithSettings(settingsFrom(cfg.EdgeFixup)),
	)

	d := buildDemo(coord, cfg.Demo, log.Named("demo"))
	d.report(log, "initial", 0)

	store, closeStore, err := openStore(ctx, cfg.EdgeFixup, log)
	if err != nil {
		return err
	}
	defer closeStore()
	if store != nil {
		n, err := coord.LoadSnapshots(store)
		if err != nil {
			log.Warn("some cooked snapshots could not be loaded", zap.Error(err))
		}
		log.Info("cooked snapshots loaded", zap.Int("count", n))
	}

	g, gctx := errgroup.WithContext(ctx)
	reconcileCtx, done := context.WithCancel(gctx)
	defer done()

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-reconcileCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer done()
		if cfg.Demo.Ticks <= 0 {
			if err := coord.Run(reconcileCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("reconciliation: %w", err)
			}
			return nil
		}
		reconcile(reconcileCtx, coord, cfg.Demo.Ticks, log)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	written := d.streamMips()
	log.Info("streamed mips patched", zap.Int("rows", written))
	d.report(log, "reconciled", 0)
	if d.terrain.Len() > 0 && cfg.Demo.Resolution >= 4 {
		d.report(log, "reconciled", 1)
	}

	d.handOver(log)

	if store != nil {
		n, err := coord.SaveSnapshots(store)
		if err != nil {
			return fmt.Errorf("saving snapshots: %w", err)
		}
		log.Info("cooked snapshots saved", zap.Int("count", n))
	}
	return nil
}

// reconcile ticks until the queues drain, ticks runs out or ctx is done.
func reconcile(ctx context.Context, coord *fixup.Coordinator, ticks int, log *zap.Logger) {
	for i := range ticks {
		if ctx.Err() != nil {
			return
		}
		st := coord.Tick(ctx)
		log.Debug("tick",
			zap.Int("tick", i),
			zap.Int("recaptured", st.Recaptured),
			zap.Int("patched", st.Patched),
			zap.Int("deferred", st.Deferred),
			zap.Int("healed", st.Healed))

		idle := true
		for _, g := range coord.Groups() {
			if re, p := g.Pending(); re+p > 0 {
				idle = false
			}
		}
		if idle {
			log.Info("reconciliation converged", zap.Int("ticks", i+1))
			return
		}
	}
	log.Warn("reconciliation did not converge", zap.Int("ticks", ticks))
}

// openStore picks the cooked snapshot backend. It returns a nil store when
// none is configured.
func openStore(ctx context.Context, cfg config.EdgeFixupConfig, log *zap.Logger) (fixup.SnapshotStore, func(), error) {
	switch {
	case cfg.SnapshotDSN != "":
		pg, err := snapshotstore.OpenPG(ctx, cfg.SnapshotDSN, log)
		if err != nil {
			return nil, nil, fmt.Errorf("opening snapshot database: %w", err)
		}
		log.Info("cooked snapshots in postgres")
		return pg, pg.Close, nil
	case cfg.SnapshotDir != "":
		fs, err := snapshotstore.Open(cfg.SnapshotDir, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("cooked snapshots on disk", zap.String("dir", fs.Dir()))
		return fs, func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
