// Worker runs the periodic maintenance jobs: sweeping dead blacklist entries and purging expired
// one-time codes. Run one instance per deployment, or set SWEEP_IN_PROCESS on the server instead.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"sdushare/backend/internal/config"
	"sdushare/backend/internal/db"
	"sdushare/backend/internal/logging"
	"sdushare/backend/internal/otp"
	otprepo "sdushare/backend/internal/otp/repository"
	sessionrepo "sdushare/backend/internal/session/repository"
	"sdushare/backend/internal/session/sweeper"
	"sdushare/backend/internal/telemetry"
	otelsetup "sdushare/backend/internal/telemetry/otel"
	"sdushare/backend/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "sdushare-worker",
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("sdushare/worker"))
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}
	emitters := []telemetry.EventEmitter{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SecurityKafkaTopic); kp != nil {
		defer kp.Close()
		emitters = append(emitters, kp)
	}
	emitter := telemetry.Multi(emitters...)

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	var store sweeper.Store
	if cfg.RevocationBackend == config.BackendRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis url: %v", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		store = sessionrepo.NewRedisRevocationRepository(client)
	} else {
		store = sessionrepo.NewPostgresRevocationRepository(database)
	}

	// The code service never sends from here, so it gets no sender.
	codes := otp.NewService(otprepo.NewPostgresRepository(database), nil, otp.Config{TTL: cfg.CodeLifetime()}, logger)

	logger.Info("worker started", "sweep_interval", cfg.SweepEvery().String(), "backend", cfg.RevocationBackend)
	go purgeCodes(ctx, codes, cfg.SweepEvery(), logger)
	sweeper.New(store, cfg.SweepEvery(), logger, emitter, metrics).Run(ctx)
	logger.Info("worker stopped")
}

func purgeCodes(ctx context.Context, codes *otp.Service, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := codes.PurgeExpired(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Error("purge expired codes failed", "error", err)
		case n > 0:
			logger.Info("purged expired codes", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
