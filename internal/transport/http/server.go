package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"qepo_backend/internal/cache"
	"qepo_backend/internal/config"
	"qepo_backend/internal/database"
	"qepo_backend/internal/handler"
	"qepo_backend/internal/identity"
	"qepo_backend/internal/logger"
	"qepo_backend/internal/metrics"
	"qepo_backend/internal/queue"
	"qepo_backend/internal/redis"
	"qepo_backend/internal/repository"
	"qepo_backend/internal/service"
	"qepo_backend/internal/storage"
	authmw "qepo_backend/internal/transport/http/middleware"
	"qepo_backend/internal/worker"
)

const (
	redisDialTimeout = 5 * time.Second
	shutdownTimeout  = 30 * time.Second
)

var ErrReaperNeedsRedis = errors.New("orphan reaper needs REDIS_URL")

// App holds the process-wide clients. They are built once and shared by
// every request.
type App struct {
	cfg      *config.Config
	db       *sqlx.DB
	redis    *redis.Client
	identity *identity.GoTrueClient
	profiles repository.ProfileRepository

	publisher queue.Publisher
	reaper    *worker.Manager

	handler stdhttp.Handler
}

// NewApp connects to every backing service. Redis is optional: without it
// the profile cache is disabled and orphaned identity users are only logged.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, db: db, profiles: repository.NewProfileRepository(db)}

	app.identity, err = newIdentity(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Endpoint:        cfg.StorageEndpoint,
		Region:          cfg.StorageRegion,
		AccessKeyID:     cfg.StorageAccessKeyID,
		SecretAccessKey: cfg.StorageSecretAccessKey,
		PublicURL:       cfg.StoragePublicURL,
		MaxAttempts:     cfg.StorageMaxAttempts,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	var profileCache cache.ProfileCache = cache.NopProfileCache{}
	if cfg.RedisURL != "" {
		app.redis, err = redis.NewClient(ctx, cfg.RedisURL, redisDialTimeout)
		if err != nil {
			app.Close()
			return nil, err
		}
		profileCache = cache.NewProfileCache(app.redis.Client, cfg.ProfileCacheTTL)
		app.publisher = queue.NewPublisher(app.redis.Client)
		app.reaper = newReaper(app.redis, app.profiles, app.identity, app.publisher, cfg)
	} else {
		logger.L().Warn().Msg("REDIS_URL not set: profile cache and orphan reaper disabled")
	}

	profileSvc := service.NewProfileService(app.profiles, profileCache, store, service.ProfileConfig{
		Bucket:         cfg.StorageBucket,
		StorageTimeout: cfg.StorageTimeout,
	})
	provisionSvc := service.NewProvisionService(app.identity, app.profiles, app.publisher, service.ProvisionConfig{
		IdentityTimeout: cfg.IdentityTimeout,
	})
	authSvc := service.NewAuthService(app.identity, profileSvc, cfg.IdentityTimeout)

	if cfg.SupabaseJWTSecret == "" {
		logger.L().Warn().Msg("SUPABASE_JWT_SECRET not set: every session is checked with the identity provider")
	}

	app.handler = NewRouter(RouterConfig{
		AuthHandler:    handler.NewAuthHandler(provisionSvc, authSvc, profileSvc),
		ProfileHandler: handler.NewProfileHandler(profileSvc),
		Sessions:       authmw.NewSessionResolver(cfg.SupabaseJWTSecret, authSvc),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         *logger.L(),
	})
	return app, nil
}

// Serve runs the HTTP server, and the orphan reaper when withReaper is set
// and Redis is configured, until ctx is cancelled.
func (a *App) Serve(ctx context.Context, withReaper bool) error {
	if withReaper && a.reaper != nil {
		if err := a.reaper.Start(ctx); err != nil {
			return fmt.Errorf("start orphan reaper: %w", err)
		}
		defer a.reaper.Stop()
	}

	srv := &stdhttp.Server{
		Addr:              ":" + a.cfg.ServerPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info().Str("addr", srv.Addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, stdhttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.L().Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// ReapOrphans processes the queued orphaned identity users once and returns
// how many events were handled. It connects only to Redis, the database and
// the identity provider.
func ReapOrphans(ctx context.Context, cfg *config.Config) (int, error) {
	if cfg.RedisURL == "" {
		return 0, ErrReaperNeedsRedis
	}

	rc, err := redis.NewClient(ctx, cfg.RedisURL, redisDialTimeout)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	db, err := database.Connect(cfg)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	idp, err := newIdentity(cfg)
	if err != nil {
		return 0, err
	}

	reaper := newReaper(rc, repository.NewProfileRepository(db), idp, queue.NewPublisher(rc.Client), cfg)
	return reaper.Drain(ctx)
}

func newIdentity(cfg *config.Config) (*identity.GoTrueClient, error) {
	return identity.NewGoTrueClient(identity.GoTrueConfig{
		ProjectURL:     cfg.SupabaseURL,
		AnonKey:        cfg.SupabaseAnonKey,
		ServiceRoleKey: cfg.SupabaseServiceRoleKey,
		AutoConfirm:    cfg.SupabaseAutoConfirm,
		Timeout:        cfg.IdentityTimeout,
	})
}

func newReaper(rc *redis.Client, profiles repository.ProfileRepository, idp *identity.GoTrueClient, publisher queue.Publisher, cfg *config.Config) *worker.Manager {
	return worker.NewManager(
		queue.NewConsumer(rc.Client),
		worker.NewHandler(profiles, idp, publisher, worker.HandlerConfig{
			MaxAttempts: cfg.ReaperMaxAttempts,
			Timeout:     cfg.IdentityTimeout,
			RetryDelay:  cfg.ReaperRetryDelay,
		}),
		worker.ManagerConfig{WorkerCount: cfg.ReaperWorkers},
	)
}

// Run builds the app and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, withReaper bool) error {
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Serve(ctx, withReaper)
}
