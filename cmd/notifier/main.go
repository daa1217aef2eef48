package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/api"
	"github.com/lalithlochan/seatwatch/internal/circuitbreaker"
	"github.com/lalithlochan/seatwatch/internal/config"
	"github.com/lalithlochan/seatwatch/internal/db"
	"github.com/lalithlochan/seatwatch/internal/enroll"
	"github.com/lalithlochan/seatwatch/internal/events"
	"github.com/lalithlochan/seatwatch/internal/mail"
	"github.com/lalithlochan/seatwatch/internal/metrics"
	"github.com/lalithlochan/seatwatch/internal/notifier"
	"github.com/lalithlochan/seatwatch/internal/observ"
	"github.com/lalithlochan/seatwatch/internal/redis"
	"github.com/lalithlochan/seatwatch/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.EventQueueURL == "" {
		return errors.New("EVENT_QUEUE_URL is required")
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = observ.Component(logger, "notifier")

	logger.Info("starting seatwatch notifier",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("queue_url", cfg.EventQueueURL),
		zap.String("transport", cfg.MailTransport),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		AppName:  "seatwatch-notifier",
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Unlike the poller, the notifier cannot run without its dedupe store.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	dedupe := redis.NewDedupeStore(redisClient, redis.DedupeTTL, logger)

	client := enroll.NewClient(enroll.Config{
		BaseURL:   cfg.EnrollBaseURL,
		UserAgent: cfg.EnrollUserAgent,
		Timeout:   cfg.EnrollTimeout,
	}, logger)
	subjects := enroll.NewSubjectDirectory(client, logger)

	transport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:                "ses",
		MaxFailures:         cfg.BreakerMaxFailures,
		RecoveryTimeout:     cfg.BreakerRecovery,
		HalfOpenMaxRequests: 1,
	}, logger)
	protected := circuitbreaker.NewProtectedTransport(transport, breaker, logger)

	rec := metrics.NewPromRecorder(prometheus.DefaultRegisterer, "seatwatch")
	n := notifier.New(repo, dedupe, subjects, protected, rec, notifier.Config{
		From:             cfg.SESFromEmail,
		ConfigurationSet: cfg.SESConfigurationSet,
		APIBase:          cfg.APIBase,
	}, logger)

	sqsClient, err := sqs.NewClient(ctx, sqs.Config{
		Region:   cfg.SQSRegion,
		QueueURL: cfg.EventQueueURL,
		Endpoint: cfg.AWSEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to create sqs client: %w", err)
	}
	consumer := sqs.NewConsumer(sqsClient, cfg.EventQueueURL, sqs.ConsumerConfig{}, logger)

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(ctx, func(ctx context.Context, e events.StatusChangeEvent) error {
			_, err := n.Handle(ctx, e)
			return err
		})
	}()
	logger.Info("consumer started")

	handler := api.NewHandler(logger).
		WithBreakers(protected.Breaker()).
		WithCheck("postgres", database.Health).
		WithCheck("redis", redisClient.Ping)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, nil, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	consumerStopped := false
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case err := <-consumerDone:
		if err != nil {
			return fmt.Errorf("consumer stopped: %w", err)
		}
		consumerStopped = true
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	// let an in-flight message finish before the pools close
	if !consumerStopped {
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			logger.Warn("consumer did not stop before shutdown deadline")
		}
	}

	logger.Info("notifier stopped gracefully")
	return nil
}

func newTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (mail.Transport, error) {
	if cfg.MailTransport == "log" {
		logger.Warn("using log mail transport, no email will be delivered")
		return mail.NewLogTransport(logger), nil
	}

	t, err := mail.NewSESTransport(ctx, mail.SESConfig{
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSEndpoint,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SES transport: %w", err)
	}
	return t, nil
}
