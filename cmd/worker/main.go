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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/campaignkit/outreach/internal/config"
	"github.com/campaignkit/outreach/internal/email"
	"github.com/campaignkit/outreach/internal/googleauth"
	"github.com/campaignkit/outreach/internal/repository/postgres"
	"github.com/campaignkit/outreach/internal/service/delivery"
	"github.com/campaignkit/outreach/internal/service/template"
	"github.com/campaignkit/outreach/internal/sheets"
	"github.com/campaignkit/outreach/internal/webhook"
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
	appMetrics := metrics.New("outreach")

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
	userRepo := postgres.NewUserRepository(base)

	sender, err := email.NewSender(cfg.Email)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure email transport")
	}

	renderer := template.NewRenderer(rand.New(rand.NewSource(time.Now().UnixNano())))
	propagator := delivery.NewPropagator(
		sheets.NewClient(),
		googleauth.NewProvider(cfg.Google),
		webhook.NewNotifier(),
		appLogger,
		appMetrics,
	)
	deliverySvc := delivery.NewService(
		recipientRepo, campaignRepo, userRepo,
		sender, renderer, propagator,
		appLogger, appMetrics,
	)

	sendQueue := queue.New(redisClient, cfg.Queue.Name, appMetrics)
	worker := queue.NewWorker(sendQueue, deliverySvc.HandleJob, queue.WorkerConfig{
		Concurrency:   cfg.Queue.Concurrency,
		PollInterval:  cfg.Queue.PollInterval,
		RatePerMinute: cfg.Queue.RatePerMinute,
	}, appLogger)

	reaper := delivery.NewReaper(
		recipientRepo, campaignRepo, sendQueue,
		cfg.Worker.ReaperInterval, cfg.Worker.ReaperMinAge,
		appLogger,
	)

	setupSideServer(cfg.Worker.MetricsPort, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reaper.Start(ctx)

	appLogger.Info("worker ready", "queue", cfg.Queue.Name)
	worker.Start(ctx)

	appLogger.Info("worker shut down cleanly")
}

// setupSideServer exposes health and metrics on a side listener.
func setupSideServer(port int, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			appLogger.Error(err, "side server failed")
			os.Exit(1)
		}
	}()
}
