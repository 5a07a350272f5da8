package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sermonflow/internal/usertoken"
	"sermonflow/internal/util"
	"sermonflow/pkg/notify"
	"sermonflow/pkg/queue"
	"sermonflow/pkg/storage"
	"sermonflow/pkg/store"
	"sermonflow/services/api/internal/app"
	"sermonflow/services/api/internal/config"
	"sermonflow/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger("api", cfg.LogLevel)

	jwtLeeway, _ := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	presignExpiry, _ := config.ParseDuration("presignExpiry", cfg.PresignExpiry)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:     cfg.JWTSecret,
		JWKSURL:    cfg.JWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}
	defer dataStore.Close()

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueStream,
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}
	defer jobs.Close()

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init amqp notifier: %v", err)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	}

	appCore, err := app.New(app.Config{
		Store:         dataStore,
		Objects:       objects,
		Dispatcher:    jobs,
		Notifier:      notifier,
		PresignExpiry: presignExpiry,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                          appCore,
		TokenVerifier:                tokenVerifier,
		Redis:                        jobs.Client(),
		GenerateRateLimitPerMinute:   cfg.GenerateRateLimitPerMinute,
		OnboardingRateLimitPerMinute: cfg.OnboardingRateLimitPerMinute,
		MaxUploadBytes:               cfg.MaxUploadBytes,
		AllowedOrigins:               cfg.AllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
