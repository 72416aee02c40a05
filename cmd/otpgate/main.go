package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/otpgate/adapters/events"
	"github.com/layer-3/otpgate/adapters/identity"
	"github.com/layer-3/otpgate/adapters/store"
	"github.com/layer-3/otpgate/adapters/tokenizer"
	"github.com/layer-3/otpgate/internal/config"
	"github.com/layer-3/otpgate/internal/metrics"
	"github.com/layer-3/otpgate/ports"
	"github.com/layer-3/otpgate/service"
	transport "github.com/layer-3/otpgate/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Parse Redis URL and create client
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to parse Redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}

	// Events and OTP mails go out over Redis streams
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		events.NewZapLoggerAdapter(logger),
	)
	if err != nil {
		logger.Fatal("failed to create Redis publisher", zap.Error(err))
	}
	defer publisher.Close()

	var identities ports.IdentityStore
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to Postgres", zap.Error(err))
		}
		defer pool.Close()

		pg := identity.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate accounts", zap.Error(err))
		}
		identities = pg
	} else {
		logger.Warn("DATABASE_URL not set, accounts are kept in memory")
		identities = identity.NewMemoryStore()
	}

	tok, err := tokenizer.NewJWTTokenizer([]byte(cfg.AccessTokenSecret), []byte(cfg.RefreshTokenSecret), time.Now)
	if err != nil {
		logger.Fatal("failed to create tokenizer", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := service.Options{Logger: logger, Metrics: metrics.New(registry)}

	policy := service.Policy{
		CodeLength:        cfg.OTP.CodeLength,
		CodeTTL:           cfg.OTP.CodeTTL,
		Cooldown:          cfg.OTP.Cooldown,
		RequestWindow:     cfg.OTP.RequestWindow,
		MaxRequests:       cfg.OTP.MaxRequests,
		SpamLockTTL:       cfg.OTP.SpamLockTTL,
		MaxFailedAttempts: cfg.OTP.MaxFailedAttempts,
		FailedAttemptsTTL: cfg.OTP.FailedAttemptsTTL,
		LockTTL:           cfg.OTP.LockTTL,
		ResetGrantTTL:     cfg.OTP.ResetGrantTTL,
	}

	challengeStore := store.NewRedisStore(redisClient, cfg.RedisPrefix)
	limiter := service.NewRateLimiter(challengeStore, policy, opts)
	challenges := service.NewChallengeService(
		challengeStore,
		limiter,
		events.NewWatermillNotifier(publisher, cfg.NotificationsTopic),
		policy,
		opts,
	)
	tokens := service.NewTokenService(tok, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, opts)

	authService := service.NewAuthService(
		challenges,
		tokens,
		identities,
		identity.NewBcryptHasher(0),
		challengeStore,
		events.NewWatermillPublisher(publisher, cfg.EventsTopic),
		policy,
		cfg.CompanyName,
		opts,
	)

	router := transport.SetupRouter(authService, transport.RouterConfig{
		Logger: logger,
		Cookies: transport.CookieConfig{
			Domain:     cfg.CookieDomain,
			Secure:     cfg.CookieSecure,
			AccessTTL:  cfg.AccessTokenTTL,
			RefreshTTL: cfg.RefreshTokenTTL,
		},
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
