package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/domain/directory"
	"github.com/medledger/medledger/internal/domain/registry"
	"github.com/medledger/medledger/internal/platform/auth"
	"github.com/medledger/medledger/internal/platform/db"
	"github.com/medledger/medledger/internal/platform/ledger"
	"github.com/medledger/medledger/internal/platform/middleware"
)

const version = "0.1.0"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the registry API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// backends holds the stores the server runs on and how to release them.
type backends struct {
	log       ledger.Log
	pool      *pgxpool.Pool
	directory directory.Repository
	recorders []middleware.AuditRecorder
	redis     *redis.Client
	closers   []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.LedgerBackend {
	case config.LedgerLevelDB:
		lvl, err := ledger.OpenLevelDB(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		b.log = lvl
		b.closers = append(b.closers, func() { _ = lvl.Close() })
		logger.Info().Str("path", cfg.LevelDBPath).Msg("opened leveldb ledger")
	case config.LedgerPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		b.log = ledger.NewPostgresLog(pool)
		b.closers = append(b.closers, pool.Close)
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	default:
		b.log = ledger.NewMemoryLog()
		logger.Warn().Msg("using in-memory ledger; state is lost on restart")
	}

	switch cfg.DirectoryBackend {
	case config.DirectoryMongo:
		mdb, err := db.NewMongoDatabase(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() { disconnectMongo(mdb.Client()) })

		repo, err := directory.NewMongoRepository(ctx, mdb)
		if err != nil {
			b.close()
			return nil, err
		}
		b.directory = repo

		recorder, err := middleware.NewMongoAuditRecorder(ctx, mdb)
		if err != nil {
			b.close()
			return nil, err
		}
		b.recorders = append(b.recorders, recorder)
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to mongodb")
	default:
		b.directory = directory.NewMemoryRepository()
	}

	if cfg.RedisURL != "" {
		client, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, falling back to in-memory rate limits")
		} else {
			b.redis = client
			b.closers = append(b.closers, func() { _ = client.Close() })
		}
	}

	return b, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func disconnectMongo(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Disconnect(ctx)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			Release:     "medledger@" + version,
		}); err != nil {
			logger.Error().Err(err).Msg("failed to initialise sentry")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open backends")
	}
	defer b.close()

	e := newServer(cfg, logger, b)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("ledger", cfg.LedgerBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, b *backends) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.HeaderCallerAddress, auth.HeaderCallerRoles},
		ExposeHeaders: []string{middleware.RequestIDHeader, registry.AccessScopeHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.Audit(logger, b.recorders...))

	if cfg.IsDev() {
		logger.Warn().Msg("development mode: trusting " + auth.HeaderCallerAddress + " header")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg, b.redis)))
	if b.pool != nil {
		apiV1.Use(db.ConnMiddleware(b.pool, cfg.DBSchema))
	}

	policy := registry.Policy{DoctorsVerifiedByDefault: cfg.DoctorDefaultVerified}
	registrySvc := registry.NewService(registry.NewLogRepository(b.log), logger, policy)
	registry.NewHandler(registrySvc).RegisterRoutes(apiV1)

	directorySvc := directory.NewService(b.directory, logger)
	directory.NewHandler(directorySvc).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"ledger":  cfg.LedgerBackend,
		})
	})
	if b.pool != nil {
		e.GET("/health/db", db.HealthHandler(b.pool))
	}

	return e
}

// rateLimitConfig sizes the shared Redis window to the sustained rate of the
// local buckets; bursts above it are only absorbed by a single replica.
func rateLimitConfig(cfg *config.Config, rdb *redis.Client) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	if rdb != nil {
		rl.Shared = middleware.NewRedisLimiter(rdb, int(math.Ceil(rl.RequestsPerSecond)), time.Second)
	}
	return rl
}
