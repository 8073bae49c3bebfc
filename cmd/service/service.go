package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	configs "evaluation_service/config"
	"evaluation_service/internal/digest"
	"evaluation_service/internal/events"
	"evaluation_service/internal/notification"
	"evaluation_service/internal/repository"
	"evaluation_service/internal/scheduler"
	httpserver "evaluation_service/internal/server/http"
	"evaluation_service/internal/service"
	"evaluation_service/internal/settings"
	"evaluation_service/pkg/db"
	"evaluation_service/pkg/kafka"
	"evaluation_service/pkg/logger"
)

func main() {
	log := logger.New()
	defer func() { _ = log.Sync() }()

	cfg, err := configs.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pg, err := db.NewPostgres(db.Config{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.DBName,
		SSLMode:  cfg.DB.SSLMode,

		MigrationsPath: cfg.DB.MigrationsPath,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	evalRepo := repository.NewEvaluationRepository(pg.DB())
	audienceRepo := repository.NewAudienceRepository(pg.DB())

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		log.Fatalf("Failed to create Kafka producer: %v", err)
	}
	defer producer.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	settingsStore := settings.NewRedisStore(rdb)

	gateway := notification.NewKafkaGateway(
		producer, audienceRepo, settingsStore, cfg.Kafka.NotificationsTopic, log,
	)
	registrar := events.NewRegistrar(producer, cfg.Kafka.EventsTopic, log)

	actionStore := scheduler.NewPostgresStore(pg.DB(), log, cfg.Scheduler.PollInterval)
	lifecycle := scheduler.NewLifecycleScheduler(actionStore, settingsStore, log)
	dispatcher := scheduler.NewActionDispatcher(
		evalRepo, lifecycle, gateway, registrar, settingsStore, log,
	)
	actionStore.Subscribe(dispatcher.HandleFired)

	evalService := service.NewEvaluationService(evalRepo, lifecycle, gateway, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go actionStore.Start(ctx)

	digestJob := digest.NewJob(evalRepo, gateway, settingsStore, log)
	c := cron.New()
	if _, err := c.AddFunc(cfg.Scheduler.DigestSpec, func() {
		if err := digestJob.Run(ctx); err != nil {
			log.Errorf("Digest run failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule digest job: %v", err)
	}
	c.Start()
	defer c.Stop()

	handler := httpserver.NewEvaluationHandler(evalService, log)
	router := chi.NewRouter()
	router.Use(httpserver.NewLoggingMiddleware(log))
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting HTTP server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Shutdown failed: %v", err)
	}
	log.Info("Server stopped")
}
