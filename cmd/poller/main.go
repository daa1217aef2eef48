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
	"github.com/lalithlochan/seatwatch/internal/config"
	"github.com/lalithlochan/seatwatch/internal/db"
	"github.com/lalithlochan/seatwatch/internal/enroll"
	"github.com/lalithlochan/seatwatch/internal/metrics"
	"github.com/lalithlochan/seatwatch/internal/observ"
	"github.com/lalithlochan/seatwatch/internal/poller"
	"github.com/lalithlochan/seatwatch/internal/redis"
	"github.com/lalithlochan/seatwatch/internal/sns"
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

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = observ.Component(logger, "poller")

	logger.Info("starting seatwatch poller",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Duration("interval", cfg.PollInterval),
		zap.Duration("run_budget", cfg.RunBudget),
		zap.String("term", cfg.PollTerm),
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
		AppName:  "seatwatch-poller",
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis only backs the manual run rate limit here.
	var limiter api.Limiter
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, manual runs are not rate limited",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		defer redisClient.Close()
		limiter = redis.NewRateLimiter(redisClient, redis.RateLimitConfig{Limit: 6, Window: time.Minute}, logger)
	}

	client := enroll.NewClient(enroll.Config{
		BaseURL:   cfg.EnrollBaseURL,
		UserAgent: cfg.EnrollUserAgent,
		Timeout:   cfg.EnrollTimeout,
	}, logger)
	subjects := enroll.NewSubjectDirectory(client, logger)
	fetcher := enroll.NewFetcher(client, subjects, logger)
	terms := enroll.NewTermCatalog(client, time.Hour, logger)

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	rec := metrics.NewPromRecorder(prometheus.DefaultRegisterer, "seatwatch")
	p := poller.New(repo, fetcher, terms, publisher, rec, poller.Config{PageSize: cfg.ScanPageSize}, logger)

	scheduler := poller.NewScheduler(p, repo, poller.SchedulerConfig{
		Interval:  cfg.PollInterval,
		RunBudget: cfg.RunBudget,
		Term:      cfg.PollTerm,
	}, logger)

	go scheduler.Start(ctx)
	logger.Info("scheduler started")

	handler := api.NewHandler(logger).
		WithRunner(scheduler).
		WithCheck("postgres", database.Health)
	if redisClient != nil {
		handler.WithCheck("redis", redisClient.Ping)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RunBudget + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serve(ctx, srv, logger)
}

// newPublisher prefers the SNS topic when configured so other subscribers can
// fan out from it; otherwise events go straight to the queue.
func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (poller.Publisher, error) {
	switch {
	case cfg.EventTopicARN != "" && cfg.AWSEndpoint != "":
		p, err := sns.NewPublisherWithEndpoint(ctx, cfg.EventTopicARN, cfg.AWSEndpoint, cfg.SNSRegion, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sns publisher: %w", err)
		}
		return p, nil

	case cfg.EventTopicARN != "":
		p, err := sns.NewPublisher(ctx, cfg.SNSRegion, cfg.EventTopicARN, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sns publisher: %w", err)
		}
		return p, nil

	case cfg.EventQueueURL != "":
		client, err := sqs.NewClient(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.EventQueueURL,
			Endpoint: cfg.AWSEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqs client: %w", err)
		}
		return sqs.NewPublisher(client, cfg.EventQueueURL, logger), nil
	}

	return nil, errors.New("EVENT_TOPIC_ARN or EVENT_QUEUE_URL is required")
}

func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
