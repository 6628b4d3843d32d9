package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/webschedulr/webschedulr/libs/config"
	"github.com/webschedulr/webschedulr/libs/db"
	"github.com/webschedulr/webschedulr/libs/httpx"
	"github.com/webschedulr/webschedulr/libs/kafkax"
	otelx "github.com/webschedulr/webschedulr/libs/otel"
	"github.com/webschedulr/webschedulr/libs/runtime"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/channel"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/consumer"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/deliverylog"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/dispatch"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/handlers"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/inbox"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/queue"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/rules"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8082")
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

	queueRepo := queue.NewRepository(pool)
	rulesRepo := rules.NewRepository(pool)
	logRepo := deliverylog.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	senders := map[string]channel.Sender{
		channel.Email: channel.NewSMTPSender(
			config.String("SMTP_HOST", "localhost"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", ""),
		),
		channel.SMS: channel.NewSMSWebhookSender(
			config.String("SMS_WEBHOOK_URL", ""),
			config.String("SMS_WEBHOOK_TOKEN", ""),
		),
		channel.WhatsApp: channel.NewWhatsAppCloudSender(
			config.String("WHATSAPP_ACCESS_TOKEN", ""),
			config.String("WHATSAPP_PHONE_NUMBER_ID", ""),
			rulesRepo,
		),
	}

	enqueuer := queue.NewEnqueuer(queueRepo, rulesRepo, logger)
	dispatcher := dispatch.NewDispatcher(queueRepo, rulesRepo, logRepo, senders, logger)

	worker := dispatch.NewWorker(dispatcher, enqueuer, rulesRepo, logger, dispatch.WorkerConfig{
		DispatchInterval: time.Duration(config.Int("DISPATCH_INTERVAL_SECONDS", 5)) * time.Second,
		ReminderInterval: config.Minutes("REMINDER_SCAN_MINUTES", time.Minute),
		BatchSize:        config.Int("DISPATCH_BATCH_SIZE", 50),
	})
	go worker.Run(ctx)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	handler := consumer.LifecycleHandler(enqueuer, logger)
	for _, topic := range consumer.LifecycleTopics() {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	adminHandler := handlers.NewAdminHandler(rulesRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/opt-outs", adminHandler.OptOut)
	mux.HandleFunc("/api/v1/templates/preview", adminHandler.PreviewTemplate)

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
	httpHandler = otelhttp.NewHandler(httpHandler, "notification")
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
