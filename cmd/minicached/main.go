package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pior/minicache/internal/admin"
	"github.com/pior/minicache/internal/config"
	"github.com/pior/minicache/server"
	"github.com/pior/minicache/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "minicached: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := config.Load(args, stderr)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st := store.New(store.WithShards(cfg.Shards))
	defer st.Close()

	metrics := server.NewMetrics(st)

	srv, err := server.New(st,
		server.WithLogger(logger),
		server.WithMaxConns(cfg.MaxConns),
		server.WithIdleTimeout(cfg.IdleTimeout),
		server.WithWriteTimeout(cfg.WriteTimeout),
		server.WithMaxValueLength(cfg.MaxValueLength),
		server.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	var adminSrv *http.Server
	if cfg.AdminAddr != "" {
		adminSrv = admin.NewServer(cfg.AdminAddr, admin.Config{
			Store:   st,
			Conns:   srv,
			Metrics: metrics,
			Logger:  logger.Named("admin"),
		})
		go func() {
			logger.Info("admin server listening", zap.String("addr", cfg.AdminAddr))
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("starting minicached",
		zap.String("addr", cfg.Address()),
		zap.Int("max_conns", cfg.MaxConns),
		zap.Int("shards", cfg.Shards),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(ctx, cfg.Address())
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin shutdown", zap.Error(err))
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped", zap.Uint64("total_connections", srv.Stats().Total))
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}
