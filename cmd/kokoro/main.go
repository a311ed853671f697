package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/kokoro/internal/auth"
	"github.com/ashita-ai/kokoro/internal/config"
	"github.com/ashita-ai/kokoro/internal/ratelimit"
	"github.com/ashita-ai/kokoro/internal/server"
	"github.com/ashita-ai/kokoro/internal/service/sessions"
	"github.com/ashita-ai/kokoro/internal/storage"
	"github.com/ashita-ai/kokoro/internal/tavus"
	"github.com/ashita-ai/kokoro/internal/telemetry"
	"github.com/ashita-ai/kokoro/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0(os.Args[1:]))
}

func run0(args []string) int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("KOKORO_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case len(args) == 0 || args[0] == "serve":
		err = run(ctx, logger)
	case args[0] == "token":
		err = issueToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "usage: kokoro [serve | token <user-id>]\n")
		return 2
	}
	if err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kokoro starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.ServiceKey, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	provider := tavus.NewClient(cfg.TavusBaseURL, cfg.TavusAPIKey, cfg.TavusTimeout)
	svc := sessions.New(db, provider, sessions.Config{
		ReplicaID:                cfg.TavusReplicaID,
		PersonaID:                cfg.TavusPersonaID,
		PersonaName:              cfg.TavusPersonaName,
		CallbackURL:              cfg.CallbackURL(),
		MaxCallDuration:          cfg.MaxCallDuration,
		ParticipantLeftTimeout:   cfg.ParticipantLeftTimeout,
		ParticipantAbsentTimeout: cfg.ParticipantAbsentTimeout,
		OrphanMaxAttempts:        cfg.OrphanMaxAttempts,
	}, logger)

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Sessions:            svc,
		Logger:              logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		WebhookToken:        cfg.WebhookToken,
	})

	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	loopsDone := make(chan struct{}, 2)
	go func() {
		defer func() { loopsDone <- struct{}{} }()
		orphanReconcileLoop(loopCtx, svc, logger, cfg.OrphanReconcileInterval)
	}()
	go func() {
		defer func() { loopsDone <- struct{}{} }()
		idempotencyCleanupLoop(loopCtx, db, logger, cfg)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	slog.Info("kokoro shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// In-flight handlers are drained; stop the loops before the pool closes.
	stopLoops()
	<-loopsDone
	<-loopsDone

	slog.Info("kokoro stopped")
	return serveErr
}

// newLimiter builds the session-start limiter. Redis is used when configured
// so replicas share one budget per user.
func newLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	if !cfg.RateLimitEnabled {
		logger.Info("rate limiting: disabled")
		return ratelimit.NoopLimiter{}, func() {}, nil
	}
	if cfg.RedisURL != "" {
		rdb, err := ratelimit.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}
		logger.Info("rate limiting: redis token bucket", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
		l := ratelimit.NewRedisLimiter(rdb, "kokoro:rl:", cfg.RateLimitRPS, cfg.RateLimitBurst)
		return l, func() { _ = l.Close(); _ = rdb.Close() }, nil
	}
	logger.Info("rate limiting: memory (in-process token bucket)", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	l := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	return l, func() { _ = l.Close() }, nil
}

func orphanReconcileLoop(ctx context.Context, svc *sessions.Service, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ReconcileOrphans(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("orphan reconcile failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("orphan reconcile complete", "resolved", n)
			}
		}
	}
}

func idempotencyCleanupLoop(ctx context.Context, db *storage.DB, logger *slog.Logger, cfg config.Config) {
	ticker := time.NewTicker(cfg.IdempotencyCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanupIdempotencyKeys(ctx, cfg.IdempotencyCompletedTTL, cfg.IdempotencyAbandonedTTL)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("idempotency cleanup failed", "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Info("idempotency keys cleaned up", "deleted", n)
			}
		}
	}
}

// issueToken prints a bearer token for a user. Intended for local testing
// against a running server; it needs only KOKORO_SERVICE_KEY.
func issueToken(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kokoro token <user-id>")
	}
	userID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("token: invalid user id: %w", err)
	}
	ttl := time.Hour
	if v := os.Getenv("KOKORO_TOKEN_TTL"); v != "" {
		if ttl, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("token: KOKORO_TOKEN_TTL=%q is not a valid duration", v)
		}
	}
	mgr, err := auth.NewJWTManager(os.Getenv("KOKORO_SERVICE_KEY"), ttl)
	if err != nil {
		return err
	}
	tok, exp, err := mgr.IssueToken(userID)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
