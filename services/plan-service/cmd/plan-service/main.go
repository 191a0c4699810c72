package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joaopvieira/agendly/libs/config"
	"github.com/joaopvieira/agendly/libs/db"
	"github.com/joaopvieira/agendly/libs/httpx"
	"github.com/joaopvieira/agendly/libs/kafkax"
	otelx "github.com/joaopvieira/agendly/libs/otel"
	"github.com/joaopvieira/agendly/libs/runtime"
	"github.com/joaopvieira/agendly/libs/sse"
	"github.com/joaopvieira/agendly/services/plan-service/internal/events"
	"github.com/joaopvieira/agendly/services/plan-service/internal/handlers"
	"github.com/joaopvieira/agendly/services/plan-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "plan-service")
	port, err := config.Port("PORT", "8085")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool)
	hub := sse.NewHub(logger, config.Int("SSE_BUFFER", 16))

	brokers := config.String("KAFKA_BROKERS", "")
	consumer := events.New(logger, hub, events.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "plan-service"),
		Topic:   config.String("KAFKA_APPOINTMENTS_TOPIC", "appointments.v1"),
	})
	go consumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)

	h := handlers.New(repo, logger, handlers.Config{
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
	})
	requestTimeout := config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	mux.Handle("/api/v1/plan/info", httpx.Chain(
		http.HandlerFunc(h.PlanInfo),
		httpx.WithTimeout(requestTimeout),
	))
	mux.Handle("/api/v1/billing/webhooks/stripe", httpx.Chain(
		http.HandlerFunc(h.StripeWebhook),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(requestTimeout),
	))
	// The event stream is long-lived; it must stay outside WithTimeout.
	mux.Handle("/api/v1/events", hub.Handler(businessIDFromRequest))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "plan")
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func businessIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Business-Id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("business_id"))
}
