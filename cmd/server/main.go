package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/health"

	"sdushare/backend/internal/config"
	devotphandler "sdushare/backend/internal/devotp/handler"
	identityhandler "sdushare/backend/internal/identity/handler"
	"sdushare/backend/internal/logging"
	"sdushare/backend/internal/server"
	sessionhandler "sdushare/backend/internal/session/handler"
	"sdushare/backend/internal/session/sweeper"
	userhandler "sdushare/backend/internal/user/handler"
)

const (
	shutdownTimeout     = 15 * time.Second
	healthWatchInterval = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	handlers := []server.RouteRegistrar{
		identityhandler.New(app.auth, app.codes, logger),
		sessionhandler.New(app.sessions, app.audit, logger),
		userhandler.New(app.users, app.activity, logger),
		app.health,
	}
	var devCodes http.Handler
	if app.devStore != nil {
		devCodes = devotphandler.New(app.devStore)
		logger.Warn("dev codes enabled; one-time codes are served on /dev/codes")
	}
	httpHandler := server.NewHTTPHandler(server.HTTPDeps{
		Guard:    app.guard,
		Logger:   logger,
		Handlers: handlers,
		DevCodes: devCodes,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	hs := health.NewServer()
	grpcSrv := server.NewGRPCServer(server.GRPCDeps{Guard: app.guard, Health: hs, Logger: logger})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	go app.health.WatchGRPC(ctx, hs, healthWatchInterval)
	if cfg.SweepInProcess {
		sw := sweeper.New(app.revocations, cfg.SweepEvery(), logger, app.emitter, app.metrics)
		go sw.Run(ctx)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc server listening", "addr", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hs.Shutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	logger.Info("server stopped")
	return serveErr
}
