package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/campaignkit/outreach/internal/config"
	"github.com/campaignkit/outreach/internal/handler"
	campaignHandler "github.com/campaignkit/outreach/internal/handler/campaign"
	"github.com/campaignkit/outreach/internal/handler/queuestats"
	"github.com/campaignkit/outreach/internal/repository/postgres"
	"github.com/campaignkit/outreach/internal/router"
	campaignService "github.com/campaignkit/outreach/internal/service/campaign"
	"github.com/campaignkit/outreach/internal/sheets"
	"github.com/campaignkit/outreach/pkg/logger"
	"github.com/campaignkit/outreach/pkg/metrics"
	"github.com/campaignkit/outreach/pkg/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Logging.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	if err := postgres.Migrate(cfg.Database); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse Redis URL")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisClient.Close()

	base := postgres.NewBaseRepository(db)
	campaignRepo := postgres.NewCampaignRepository(base)
	recipientRepo := postgres.NewRecipientRepository(base)

	sendQueue := queue.New(redisClient, cfg.Queue.Name, metrics.New("outreach"))

	campaignSvc := campaignService.NewService(
		campaignRepo,
		recipientRepo,
		sendQueue,
		sheets.NewClient(),
		campaignService.RetryPolicy{
			MaxAttempts: cfg.Queue.MaxAttempts,
			Backoff:     cfg.Queue.Backoff,
		},
		rand.New(rand.NewSource(time.Now().UnixNano())),
		appLogger,
	)

	r := router.NewRouter(
		handler.NewHandler(),
		campaignHandler.NewHandler(campaignSvc),
		queuestats.NewHandler(sendQueue),
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		appLogger.Info("starting API server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error(err, "server shutdown failed")
		os.Exit(1)
	}
}
