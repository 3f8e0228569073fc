package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"rent591-notifier/config"
	"rent591-notifier/pipeline"
	"rent591-notifier/scraper/rent591"
	"rent591-notifier/services"
	"rent591-notifier/storage"
	"rent591-notifier/utils"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()
	logger.SetDebug(cfg.LogDebug)

	logger.Info("=== rent591 notifier starting ===")
	logger.Info("Config — concurrency: %d | rate: %dms | retries: %d | day: %dmin | night: %dmin (%02d:00-%02d:00)",
		cfg.MaxConcurrency, cfg.RateLimitMs, cfg.MaxRetries,
		cfg.DayIntervalMin, cfg.NightIntervalMin, cfg.NightStartHour, cfg.NightEndHour)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgresStore(cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	connectRetry := &utils.RetryConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second, Logger: logger}
	if err := connectRetry.Do(ctx, "redis connect", func() error {
		return redisClient.Ping(ctx).Err()
	}); err != nil {
		logger.Error("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	dedup := storage.NewRedisDedup(redisClient, time.Duration(cfg.DedupTTLDays)*24*time.Hour)

	var rawSink pipeline.RawSink
	if cfg.RawDumpPath != "" {
		csvWriter, err := storage.NewCSVWriter(cfg.RawDumpPath)
		if err != nil {
			logger.Error("Failed to create raw dump writer: %v", err)
			os.Exit(1)
		}
		defer csvWriter.Close()
		rawSink = csvWriter
		logger.Info("Raw list cards will be dumped to %s", cfg.RawDumpPath)
	}

	fetcher := rent591.New(rent591.Options{
		ChromeBin:      cfg.ChromeBin,
		FetchTimeout:   time.Duration(cfg.FetchTimeoutSec) * time.Second,
		BrowserTimeout: time.Duration(cfg.BrowserTimeout) * time.Second,
		MaxAttempts:    cfg.MaxRetries,
		RetryDelay:     2 * time.Second,
	}, logger)

	coordinator := pipeline.NewCoordinator(
		fetcher,
		services.NewTransformer(services.DefaultMappings()),
		services.NewMatcher(logger),
		dedup,
		store,
		store,
		storage.NewLogNotifier(logger),
		storage.NewLogAlertSink(logger),
		rawSink,
		pipeline.Options{
			MaxConcurrency:    cfg.MaxConcurrency,
			RateLimitMs:       cfg.RateLimitMs,
			ListMaxItems:      cfg.ListMaxItems,
			InstantFetchCount: cfg.InstantFetchCount,
			InstantMatchAll:   cfg.InstantMatchAll,
		},
		logger,
	)

	scheduler := pipeline.NewScheduler(coordinator, store, pipeline.ScheduleConfig{
		DayInterval:    time.Duration(cfg.DayIntervalMin) * time.Minute,
		NightInterval:  time.Duration(cfg.NightIntervalMin) * time.Minute,
		NightStartHour: cfg.NightStartHour,
		NightEndHour:   cfg.NightEndHour,
	}, logger)

	if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Scheduler stopped: %v", err)
		os.Exit(1)
	}

	logger.Info("=== rent591 notifier stopped ===")
}
