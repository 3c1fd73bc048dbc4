package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-pricing/internal/domain/cart"
	"github.com/xenking/oolio-kart-pricing/internal/handler"
	"github.com/xenking/oolio-kart-pricing/internal/repository"
	"github.com/xenking/oolio-kart-pricing/pkg/health"
	"github.com/xenking/oolio-kart-pricing/pkg/httpmiddleware"
)

const serviceName = "pricing-api"

// Deps are the external connections the HTTP stack is built on. Redis is
// optional.
type Deps struct {
	Pool           *pgxpool.Pool
	Redis          *redis.Client
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// NewHTTPHandler builds the routed and instrumented HTTP handler together
// with its health probes. Probes are registered but not started.
func NewHTTPHandler(ctx context.Context, lg *zap.Logger, cfg *Config, deps Deps) (http.Handler, *health.Health, error) {
	cartCfg, err := cfg.Pricing.Cart()
	if err != nil {
		return nil, nil, errors.Wrap(err, "pricing config")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(deps.Pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	var products repository.ProductStore = repository.NewProductRepository(deps.Pool)
	limit := httpmiddleware.RateLimitConfig{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window}
	var rateLimit httpmiddleware.Middleware
	if deps.Redis != nil {
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.CommandCheck(deps.Redis.Ping))
		products = repository.NewCachedProducts(products, deps.Redis, cfg.Redis.TTL)

		// Replicas share rate limit windows through Redis.
		limit.Store = &httpmiddleware.RedisStore{
			Client: deps.Redis,
			Prefix: "pricing:ratelimit:",
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}
		rateLimit = httpmiddleware.RateLimit(limit)
	} else {
		rateLimit = httpmiddleware.RateLimitWithCleanup(ctx, limit)
	}
	apikeys := repository.NewAPIKeyRepository(deps.Pool)

	// Domain services.
	cartService := cart.NewService(products, cart.NewComposer(cartCfg))

	// HTTP handlers.
	h, err := handler.NewHandler(cartService, deps.MeterProvider.Meter(serviceName))
	if err != nil {
		return nil, nil, errors.Wrap(err, "create handler")
	}
	authn := handler.NewAuthenticator(apikeys, []byte(cfg.APIKeyPepper))

	api := http.NewServeMux()
	h.Register(api)

	// Mux: health endpoints unauthenticated, API routes behind the key check.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", httpmiddleware.Wrap(api, authn.Middleware()))

	routeFinder := httpmiddleware.MakeRouteFinder(api)
	return httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		rateLimit,
		httpmiddleware.Instrument(serviceName, routeFinder, deps.TracerProvider, deps.MeterProvider),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	), healthSvc, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	deps := Deps{
		Pool:           pool,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()

		if err := redisotel.InstrumentTracing(client, redisotel.WithTracerProvider(m.TracerProvider())); err != nil {
			return errors.Wrap(err, "instrument redis tracing")
		}
		if err := redisotel.InstrumentMetrics(client, redisotel.WithMeterProvider(m.MeterProvider())); err != nil {
			return errors.Wrap(err, "instrument redis metrics")
		}
		deps.Redis = client
	} else {
		lg.Info("Redis disabled, serving products without cache")
	}

	httpHandler, healthSvc, err := NewHTTPHandler(ctx, zctx.From(ctx), cfg, deps)
	if err != nil {
		return err
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           httpHandler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
