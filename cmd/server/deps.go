package main

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"sdushare/backend/internal/audit"
	auditrepo "sdushare/backend/internal/audit/repository"
	"sdushare/backend/internal/config"
	"sdushare/backend/internal/db"
	"sdushare/backend/internal/devotp"
	healthhandler "sdushare/backend/internal/health/handler"
	identityrepo "sdushare/backend/internal/identity/repository"
	identityservice "sdushare/backend/internal/identity/service"
	"sdushare/backend/internal/otp"
	"sdushare/backend/internal/otp/mail"
	otprepo "sdushare/backend/internal/otp/repository"
	"sdushare/backend/internal/policy/engine"
	"sdushare/backend/internal/ratelimit"
	"sdushare/backend/internal/security"
	"sdushare/backend/internal/server/interceptors"
	sessionrepo "sdushare/backend/internal/session/repository"
	sessionservice "sdushare/backend/internal/session/service"
	"sdushare/backend/internal/telemetry"
	otelsetup "sdushare/backend/internal/telemetry/otel"
	"sdushare/backend/internal/telemetry/producer"
	userrepo "sdushare/backend/internal/user/repository"
)

// revocationStore is what both the session service and the sweeper need from the blacklist.
type revocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error)
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

type app struct {
	auth        *identityservice.AuthService
	codes       *otp.Service
	sessions    *sessionservice.SessionService
	audit       *audit.Logger
	users       *userrepo.PostgresRepository
	activity    *auditrepo.PostgresRepository
	health      *healthhandler.Handler
	guard       *interceptors.Guard
	revocations revocationStore
	devStore    *devotp.MemoryStore
	emitter     telemetry.EventEmitter
	metrics     *telemetry.Metrics

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build opens every backing store and wires the services. On error everything opened so far is closed.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "sdushare-server",
	})
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	a.closers = append(a.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	})
	a.metrics, err = telemetry.NewMetrics(providers.MeterProvider.Meter("sdushare/backend"))
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	emitters := []telemetry.EventEmitter{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SecurityKafkaTopic); kp != nil {
		var p producer.Producer = kp
		a.closers = append(a.closers, func() { _ = p.Close() })
		emitters = append(emitters, p)
		logger.Info("security events streaming to kafka", "topic", cfg.SecurityKafkaTopic)
	}
	a.emitter = telemetry.Multi(emitters...)

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a.closers = append(a.closers, func() { _ = database.Close() })

	var redisClient redis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = client.Close() })
		redisClient = client
	}

	codec, err := newCodec(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RevocationBackend == config.BackendRedis {
		a.revocations = sessionrepo.NewRedisRevocationRepository(redisClient)
	} else {
		a.revocations = sessionrepo.NewPostgresRevocationRepository(database)
	}
	pointers := sessionrepo.NewPostgresPointerRepository(database)
	a.sessions = sessionservice.NewSessionService(codec, a.revocations, pointers, sessionservice.Config{
		AccessTTL:       cfg.AccessTTL(),
		RefreshTTL:      cfg.RefreshTTL(),
		RevocationGrace: cfg.Grace(),
		Policy:          cfg.Rotation(),
	}, logger, a.emitter, a.metrics)
	authenticator := sessionservice.NewAuthenticator(codec, a.revocations, pointers, logger, a.emitter, a.metrics)

	limiterCfg := ratelimit.Config{MaxFailures: cfg.LoginMaxFailures, Window: cfg.FailureWindow()}
	var limiter ratelimit.LoginLimiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, limiterCfg)
	} else {
		limiter = ratelimit.NewMemoryLimiter(limiterCfg)
		logger.Warn("REDIS_URL not set; login failure counters are per process")
	}

	var sender otp.Sender
	if cfg.DevCodes {
		a.devStore = devotp.NewMemoryStore()
		sender = a.devStore
	} else {
		sender = mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}
	a.codes = otp.NewService(otprepo.NewPostgresRepository(database), sender, otp.Config{
		TTL:          cfg.CodeLifetime(),
		SendInterval: cfg.CodeInterval(),
		Domains:      cfg.EmailDomainList(),
	}, logger)

	a.activity = auditrepo.NewPostgresRepository(database)
	a.audit = audit.NewLogger(a.activity, interceptors.ClientIP, logger)
	a.users = userrepo.NewPostgresRepository(database)
	a.auth = identityservice.NewAuthService(
		a.users,
		identityrepo.NewPostgresRepository(database),
		a.codes,
		limiter,
		a.sessions,
		security.NewHasher(cfg.BcryptCost),
		a.audit,
		logger,
	)

	policySrc, err := engine.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	policy, err := engine.NewOPAEvaluator(ctx, policySrc, logger)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	a.guard = interceptors.NewGuard(authenticator, policy, logger)

	checks := []healthhandler.Check{
		healthhandler.DatabaseCheck(database),
		healthhandler.PolicyCheck(policy),
	}
	if redisClient != nil {
		checks = append(checks, healthhandler.Check{
			Name: "redis",
			Fn:   func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	a.health = healthhandler.New(logger, checks...)
	return a, nil
}

// newCodec builds the token codec from the configured PEM keys. Extra verification keys keep
// tokens signed before a key rotation valid until they expire.
func newCodec(cfg *config.Config) (*security.TokenCodec, error) {
	signer, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("jwt private key: %w", err)
	}
	if cfg.JWTPublicKey != "" {
		pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwt public key: %w", err)
		}
		if eq, ok := pub.(interface{ Equal(crypto.PublicKey) bool }); !ok || !eq.Equal(signer.Public()) {
			return nil, errors.New("jwt public key does not match JWT_PRIVATE_KEY")
		}
	}
	extra, err := security.ParseVerificationKeys(cfg.JWTVerifyKeys)
	if err != nil {
		return nil, fmt.Errorf("jwt verify keys: %w", err)
	}
	return security.NewTokenCodec(signer, cfg.JWTKeyID, cfg.JWTIssuer, cfg.JWTAudience,
		security.WithVerificationKeys(extra...),
		security.WithLeeway(cfg.Leeway()),
	)
}
