package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hivegate/hivegate/internal/api"
	"github.com/hivegate/hivegate/internal/auth"
	"github.com/hivegate/hivegate/internal/cache"
	"github.com/hivegate/hivegate/internal/circuitbreaker"
	"github.com/hivegate/hivegate/internal/config"
	"github.com/hivegate/hivegate/internal/crypto"
	"github.com/hivegate/hivegate/internal/events"
	"github.com/hivegate/hivegate/internal/gateway"
	"github.com/hivegate/hivegate/internal/httputil"
	"github.com/hivegate/hivegate/internal/ledger"
	"github.com/hivegate/hivegate/internal/pipeline"
	"github.com/hivegate/hivegate/internal/ratelimit"
	"github.com/hivegate/hivegate/internal/registry"
	"github.com/hivegate/hivegate/internal/repository"
	"github.com/hivegate/hivegate/internal/secrets"
	"github.com/hivegate/hivegate/internal/telemetry"
	"github.com/hivegate/hivegate/internal/upstream"
	"github.com/hivegate/hivegate/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting hivegate", "addr", cfg.Addr, "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint)
		if err != nil {
			slog.Error("failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				slog.Warn("trace exporter shutdown failed", "error", err)
			}
		}()
		slog.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	tierDefs := ledger.DefaultTiers()
	if cfg.TiersPath != "" {
		tierDefs, err = ledger.LoadTiers(cfg.TiersPath)
		if err != nil {
			slog.Error("failed to load tier table", "error", err, "path", cfg.TiersPath)
			os.Exit(1)
		}
	}
	tiers, err := ledger.NewTierSet(tierDefs)
	if err != nil {
		slog.Error("invalid tier table", "error", err)
		os.Exit(1)
	}

	catalog := registry.DefaultCatalog()
	if cfg.CatalogPath != "" {
		var encryptor *crypto.Encryptor
		if cfg.EncryptionKey != "" {
			encryptor, err = crypto.NewEncryptor(cfg.EncryptionKey)
			if err != nil {
				slog.Error("invalid encryption key", "error", err)
				os.Exit(1)
			}
		}
		catalog, err = registry.LoadOverlay(cfg.CatalogPath, catalog, encryptor)
		if err != nil {
			slog.Error("failed to load catalog overlay", "error", err, "path", cfg.CatalogPath)
			os.Exit(1)
		}
		slog.Info("catalog overlay applied", "path", cfg.CatalogPath)
	}
	reg, err := registry.New(catalog)
	if err != nil {
		slog.Error("invalid model catalog", "error", err)
		os.Exit(1)
	}

	var accounts repository.AccountStore
	var tracker usage.Tracker
	if db != nil {
		accounts = repository.NewPostgresAccountStore(db)
		pgTracker := usage.NewPostgresTrackerWithDB(db)
		if err := pgTracker.Migrate(ctx); err != nil {
			slog.Error("usage tracker migration failed", "error", err)
			os.Exit(1)
		}
		tracker = pgTracker
		slog.Info("using postgres account store")
	} else {
		accounts = repository.NewInMemoryAccountStore()
		tracker = usage.NewInMemoryTracker()
		slog.Warn("no DATABASE_URL set, accounts and usage are in-memory")
	}

	var marker ledger.MarkerStore
	var limiter ratelimit.Limiter
	var mediaCache cache.MediaCache
	var healthCheckers []api.HealthChecker
	if redisClient != nil {
		marker = ledger.NewRedisMarkerWithClient(redisClient)
		limiter = ratelimit.NewRedisLimiterWithClient(redisClient)
		mediaCache = cache.NewRedisCacheWithClient(redisClient)
		healthCheckers = append(healthCheckers, api.NewRedisHealthChecker(redisClient))
		slog.Info("using redis rate limiter and media cache")
	} else {
		marker = ledger.NewInMemoryMarker()
		limiter = ratelimit.NewInMemoryLimiter()
		mediaCache = cache.NewInMemoryCache()
		slog.Info("using in-memory rate limiter and media cache")
	}
	if db != nil {
		healthCheckers = append(healthCheckers, api.NewPostgresHealthChecker(db))
	}

	var secretStore secrets.SecretStore = secrets.StaticStore{}
	var bedrockClient *bedrockruntime.Client
	if cfg.AWSRegion != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			slog.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		secretStore = secrets.NewAWSSecretsManagerWithConfig(awsCfg)
		bedrockClient = bedrockruntime.NewFromConfig(awsCfg)
		slog.Info("aws integrations enabled", "region", cfg.AWSRegion)
	}

	var publisher events.Publisher = events.NopPublisher{}
	var fanout events.Fanout
	if cfg.EventsEndpoint != "" {
		fanout = append(fanout, events.NewHTTPPublisher(cfg.EventsEndpoint, cfg.EventsToken, cfg.Environment, nil))
	}
	if cfg.SNSTopicARN != "" && cfg.AWSRegion != "" {
		snsPublisher, err := events.NewSNSPublisher(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Error("failed to create SNS publisher", "error", err)
			os.Exit(1)
		}
		fanout = append(fanout, snsPublisher)
	}
	if len(fanout) > 0 {
		publisher = fanout
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	gw := gateway.New(gateway.Config{
		Registry:    reg,
		Pipeline:    pipeline.Default(secretStore, httputil.MediaClient(), mediaCache),
		Upstream:    upstream.New(httputil.UpstreamClient(cfg.UpstreamTimeout), bedrockClient),
		Biller:      usage.NewBiller(accounts, usage.NewPricer(), tracker),
		Breakers:    breakers,
		Limiter:     limiter,
		Limits:      ratelimit.DefaultTierLimits(),
		Events:      publisher,
		Environment: cfg.Environment,
	})

	handler := api.NewHandler(gw, auth.NewAuthenticator(accounts))
	adminHandler := api.NewAdminHandler(api.AdminConfig{
		Refiller:    ledger.NewRefiller(accounts, marker, tiers, publisher),
		Accounts:    accounts,
		Tiers:       tiers,
		RefillAuth:  auth.NewSecretVerifier(cfg.RefillSecretHash),
		AdminAuth:   auth.NewSecretVerifier(cfg.AdminSecretHash),
		Events:      publisher,
		Environment: cfg.Environment,
	})

	mux := http.NewServeMux()
	mux.Handle("/v1/", handler)
	mux.Handle("/admin/", adminHandler)
	mux.HandleFunc("GET /healthz", api.HandleLive)
	mux.Handle("GET /readyz", api.HandleReady(healthCheckers, breakers, 5*time.Second))
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// Streaming responses can run for the full upstream window, so the
		// write timeout must exceed it.
		WriteTimeout: cfg.UpstreamTimeout + cfg.DrainTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}
