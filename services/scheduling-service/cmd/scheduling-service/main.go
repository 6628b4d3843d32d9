package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/webschedulr/webschedulr/libs/config"
	"github.com/webschedulr/webschedulr/libs/db"
	"github.com/webschedulr/webschedulr/libs/httpx"
	"github.com/webschedulr/webschedulr/libs/kafkax"
	otelx "github.com/webschedulr/webschedulr/libs/otel"
	"github.com/webschedulr/webschedulr/libs/runtime"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/availability"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/booking"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/handlers"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/outbox"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/schedule"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8081")
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

	appointmentRepo := storage.NewAppointmentRepository(pool)
	customerRepo := storage.NewCustomerRepository(pool)
	conflictRepo := storage.NewConflictRepository(pool)
	scheduleRepo := storage.NewScheduleRepository(pool)
	catalogRepo := storage.NewCatalogRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	catalog := schedule.NewCatalog(scheduleRepo)
	engine := availability.NewEngine(catalog, conflictRepo, catalogRepo)
	emitter := outbox.NewEmitter(outboxRepo, logger)
	orchestrator := booking.NewOrchestrator(
		appointmentRepo, customerRepo, catalogRepo, catalog,
		engine, emitter, scheduleRepo, logger,
	)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	var rdb *redis.Client
	var calendarCache *availability.CalendarCache
	var rateLimitMW httpx.Middleware
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		calendarCache = availability.NewCalendarCache(engine, rdb)
		rl := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, true)
		logger.Info("redis enabled", "addr", addr)
	} else {
		calendarCache = availability.NewCalendarCache(engine, nil)
		rl := httpx.NewRateLimiter(limit, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Warn("redis not configured, using in-memory rate limiting")
	}

	bookingHandler := handlers.NewBookingHandler(orchestrator, engine, calendarCache, scheduleRepo, logger)
	publicHandler := handlers.NewPublicHandler(orchestrator, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.Create)
	mux.HandleFunc("/api/v1/appointments/update", bookingHandler.Update)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/reschedule", bookingHandler.Reschedule)
	mux.HandleFunc("/api/v1/appointments/status", bookingHandler.Status)
	mux.HandleFunc("/api/v1/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/calendar", bookingHandler.Calendar)

	public := http.NewServeMux()
	public.HandleFunc("/api/v1/public/appointments", publicHandler.Lookup)
	public.HandleFunc("/api/v1/public/appointments/reschedule", publicHandler.Reschedule)
	public.HandleFunc("/api/v1/public/appointments/cancel", publicHandler.Cancel)
	mux.Handle("/api/v1/public/", httpx.Chain(public, rateLimitMW))

	cors := httpx.WithCORS(httpx.CORSPolicy{
		AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		MaxAge:         10 * time.Minute,
	})
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		cors,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
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
