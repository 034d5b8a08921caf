package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/cache"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/config"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/consumer"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/grader"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/handlers"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/retry"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/store"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/validation"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides CONFIG_FILE)")
	flag.Parse()

	fmt.Println("=== Fortuna Prediction Engine v0 ===")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.Log.Level, cfg.Log.Format)
	mainLog := logger.WithComponent("main")

	registry, err := cfg.NewRegistry()
	if err != nil {
		mainLog.WithError(err).Fatal("Invalid sport configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Holocron
	db, err := store.Open(cfg.Database.HolocronDSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		mainLog.WithError(err).Fatal("Failed to open Holocron")
	}
	defer db.Close()

	connect := retry.NewPolicy(5, time.Second)

	holocron := store.NewHolocronStore(db)
	if err := connect.Do(ctx, holocron.Ping); err != nil {
		mainLog.WithError(err).Fatal("Failed to connect to Holocron")
	}
	fmt.Println("✓ Connected to Holocron DB")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := connect.Do(ctx, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }); err != nil {
		mainLog.WithError(err).Fatal("Failed to connect to Redis")
	}
	fmt.Println("✓ Connected to Redis")

	redisCache := cache.NewRedisCache(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.WeightTTL, cfg.Redis.DedupTTL)
	m := metrics.New()

	g := grader.New(grader.Config{
		Sports:         cfg.Sports,
		PollInterval:   cfg.Grader.PollInterval,
		RecomputeEvery: cfg.Grader.RecomputeEvery,
		CalibrateBatch: cfg.Grader.CalibrateBatch,
		ContextGames:   cfg.Grader.ContextGames,
		Calibration:    cfg.Calibration,
		Weights:        cfg.Weights,
	}, grader.Deps{
		Store:       holocron,
		Performance: holocron,
		Teams:       holocron,
		Weights:     redisCache,
		Dedup:       redisCache,
	}, registry, m, logger.WithComponent("grader"), nil)

	if err := g.LoadState(ctx); err != nil {
		mainLog.WithError(err).Fatal("Failed to restore engine state")
	}
	fmt.Printf("✓ Restored %d model records\n", len(g.Snapshot()))

	scheduler := validation.NewScheduler(cfg.Validation.Thresholds, nil)
	runner, err := validation.NewRunner(cfg.Validation.Schedule, scheduler, g.Snapshot,
		logger.WithComponent("validation"), holocron, redisCache)
	if err != nil {
		mainLog.WithError(err).Fatal("Failed to create validation runner")
	}
	runner.OnFlagged(m.SetFlagged)

	handler := handlers.NewHandler(registry, cfg.Calibration, cfg.Ensemble, cfg.Validation.Thresholds, g, m)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handlers.NewRouter(handler, cfg.Server.CORSOrigins, m.Registry(), logger.WithComponent("http")),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		fmt.Printf("✓ Grading %v every %v\n", cfg.Sports, cfg.Grader.PollInterval)
		return g.Start(gctx)
	})

	if cfg.Stream.Enabled {
		sc := consumer.NewStreamConsumer(redisClient, g, cfg.Stream, m, logger.WithComponent("consumer"))
		group.Go(func() error {
			return sc.Start(gctx)
		})
	}

	group.Go(func() error {
		fmt.Printf("✓ Validation scheduled (%s)\n", cfg.Validation.Schedule)
		return runner.Start(gctx)
	})

	group.Go(func() error {
		fmt.Printf("✓ Prediction engine listening on %s\n", cfg.Server.Addr)
		fmt.Println("  Endpoints:")
		fmt.Println("    GET  /health")
		fmt.Println("    GET  /metrics")
		fmt.Println("    POST /api/v1/parse")
		fmt.Println("    POST /api/v1/resolve")
		fmt.Println("    POST /api/v1/calibrate")
		fmt.Println("    POST /api/v1/ensemble")
		fmt.Println("    GET  /api/v1/models")
		fmt.Println("    GET  /api/v1/models/{modelID}/evaluation")
		fmt.Println("    GET  /api/v1/weights")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		fmt.Println("\n⚠️  Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.WithError(err).Error("Prediction engine stopped with error")
		os.Exit(1)
	}

	fmt.Println("✓ Shutdown complete")
}
