package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/theaterops/theaterops/libs/config"
	"github.com/theaterops/theaterops/libs/db"
	"github.com/theaterops/theaterops/libs/httpx"
	"github.com/theaterops/theaterops/libs/kafkax"
	otelx "github.com/theaterops/theaterops/libs/otel"
	"github.com/theaterops/theaterops/libs/runtime"
	"github.com/theaterops/theaterops/services/theater-service/internal/handlers"
	"github.com/theaterops/theaterops/services/theater-service/internal/ledger"
	"github.com/theaterops/theaterops/services/theater-service/internal/memstore"
	"github.com/theaterops/theaterops/services/theater-service/internal/occupancy"
	"github.com/theaterops/theaterops/services/theater-service/internal/outbox"
	"github.com/theaterops/theaterops/services/theater-service/internal/registry"
	"github.com/theaterops/theaterops/services/theater-service/internal/storage"
	"github.com/theaterops/theaterops/services/theater-service/internal/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	service := config.String("SERVICE_NAME", "theater-service")
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

	var readyChecks []runtime.ReadyCheck
	var st store.Store

	// DATABASE_URL unset runs the service on the in-memory store. Useful for
	// local development; bookings do not survive a restart.
	dbURL := config.String("DATABASE_URL", "")
	if dbURL != "" {
		pool, err := db.Open(ctx, dbURL)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		outboxRepo := outbox.NewRepository(pool)
		st = storage.New(pool, outboxRepo)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		brokers := config.String("KAFKA_BROKERS", "")
		if brokers != "" {
			outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
				Brokers:   brokers,
				PollEvery: 2 * time.Second,
				BatchSize: 50,
			})
			go outboxPublisher.Run(ctx)
			readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		}
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		st = memstore.New()
	}

	var rdb *redis.Client
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}

	reg := registry.New(st, logger)

	var ledgerOpts []ledger.Option
	if config.Bool("CANCEL_RELEASES_SLOTS", false) {
		ledgerOpts = append(ledgerOpts, ledger.WithCancelRelease(true))
	}
	led := ledger.New(st, logger, ledgerOpts...)
	resolver := occupancy.NewResolver(reg, led)

	allocHandler := handlers.NewAllocationHandler(led, reg, resolver, logger)
	slotHandler := handlers.NewSlotHandler(reg, logger)

	mux := runtime.NewBaseMux(readyChecks...)
	mux.HandleFunc("/api/v1/allocations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			allocHandler.List(w, r)
			return
		}
		allocHandler.Create(w, r)
	})
	mux.HandleFunc("/api/v1/allocations/", allocHandler.Span)
	mux.HandleFunc("/api/v1/allocations/status", allocHandler.Status)
	mux.HandleFunc("/api/v1/allocations/cancel", allocHandler.Cancel)
	mux.HandleFunc("/api/v1/allocations/deactivate", allocHandler.Deactivate)
	mux.HandleFunc("/api/v1/occupancy", allocHandler.Occupancy)
	mux.HandleFunc("/api/v1/slots", slotHandler.Slots)
	mux.HandleFunc("/api/v1/slots/relabel", slotHandler.Relabel)
	mux.HandleFunc("/api/v1/slots/range", slotHandler.UpdateRange)
	mux.HandleFunc("/api/v1/slots/deactivate", slotHandler.Deactivate)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			MaxAge:         10 * time.Minute,
		}),
	}
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT_PER_MINUTE", 120),
			time.Minute,
			service,
		)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "theater")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
