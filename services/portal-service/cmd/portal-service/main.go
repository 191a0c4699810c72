package main

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/joaopvieira/agendly/libs/config"
	"github.com/joaopvieira/agendly/libs/httpx"
	otelx "github.com/joaopvieira/agendly/libs/otel"
	"github.com/joaopvieira/agendly/libs/plan"
	"github.com/joaopvieira/agendly/libs/runtime"
	"github.com/joaopvieira/agendly/libs/sse"
	"github.com/joaopvieira/agendly/services/portal-service/internal/appointments"
	"github.com/joaopvieira/agendly/services/portal-service/internal/handlers"
	"github.com/joaopvieira/agendly/services/portal-service/internal/liveupdate"
	"github.com/joaopvieira/agendly/services/portal-service/internal/planaccess"
	"github.com/joaopvieira/agendly/services/portal-service/internal/relay"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "portal-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	planURL, err := config.RequiredString("PLAN_SERVICE_URL")
	if err != nil {
		panic(err)
	}
	bookingURL, err := config.RequiredString("BOOKING_SERVICE_URL")
	if err != nil {
		panic(err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.String("REDIS_ADDR", "redis:6379"),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	defer func() { _ = rdb.Close() }()

	registry := planaccess.NewRegistry(planaccess.Config{
		URL: planURL,
		TTL: config.Duration("PLAN_CACHE_TTL", planaccess.DefaultTTL),
	}, logger)

	cache := appointments.NewCache(
		appointments.NewRedisStore(rdb),
		appointments.NewHTTPFetcher(bookingURL, nil),
		config.Duration("APPOINTMENTS_CACHE_TTL", 10*time.Minute),
		logger,
	)

	// The upstream stream client must not carry a total-request timeout.
	hub := sse.NewHub(logger, config.Int("SSE_BUFFER", 16))
	relayMgr := relay.NewManager(liveupdate.Config{
		URL:        planURL,
		HTTPClient: &http.Client{},
		MinBackoff: config.Duration("SSE_RECONNECT_MIN", time.Second),
		MaxBackoff: config.Duration("SSE_RECONNECT_MAX", 30*time.Second),
	}, cache, hub, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "redis", Check: appointments.ReadyCheck(rdb)},
	)

	h := handlers.NewPortalHandler(registry, cache, logger)
	mux.Handle("/api/v1/appointments", httpx.Chain(
		http.HandlerFunc(h.Appointments),
		planaccess.RequireFeature(registry, plan.FeatureAppointments),
	))
	mux.HandleFunc("/api/v1/plan/summary", h.PlanSummary)
	mux.HandleFunc("/api/v1/plan/refresh", h.RefreshPlan)
	mux.Handle("/api/v1/events", handlers.Events(hub, relayMgr))

	professionalsProxy := httputil.NewSingleHostReverseProxy(mustParseURL(bookingURL))
	professionalsProxy.Transport = otelhttp.NewTransport(http.DefaultTransport)
	professionals := httpx.Chain(professionalsProxy,
		planaccess.RequireFeature(registry, plan.FeatureProfessionals),
		planaccess.RequireProfessionalCapacity(registry),
	)
	mux.Handle("/api/v1/professionals", professionals)
	mux.Handle("/api/v1/professionals/", professionals)

	var rateLimitMW httpx.Middleware
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if config.Bool("RATE_LIMIT_REDIS", true) {
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,X-Business-Id")),
			MaxAge:         config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "portal")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	relayMgr.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
