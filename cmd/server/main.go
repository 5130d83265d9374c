package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/massmindmaker/fotoset-sub002/internal/api"
	"github.com/massmindmaker/fotoset-sub002/internal/billing"
	"github.com/massmindmaker/fotoset-sub002/internal/catalog"
	"github.com/massmindmaker/fotoset-sub002/internal/config"
	"github.com/massmindmaker/fotoset-sub002/internal/database"
	"github.com/massmindmaker/fotoset-sub002/internal/imagecheck"
	"github.com/massmindmaker/fotoset-sub002/internal/queue"
	"github.com/massmindmaker/fotoset-sub002/internal/repository"
	"github.com/massmindmaker/fotoset-sub002/internal/service"
	"github.com/massmindmaker/fotoset-sub002/internal/storage"
	"github.com/massmindmaker/fotoset-sub002/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	// The queue is optional: without Redis the dispatcher answers
	// SERVICE_UNAVAILABLE instead of accepting work it cannot enqueue.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis connect: %v", err)
		}
		defer rdb.Close()
	} else {
		logr.Warn("REDIS_ADDR not set, generation dispatch is disabled")
	}

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	avatarRepo := repository.NewAvatarRepository(db)
	jobRepo := repository.NewJobRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	gateway := billing.NewGateway(billing.GatewayConfig{
		BaseURL:      cfg.PaymentGatewayURL,
		MerchantID:   cfg.PaymentMerchantID,
		SharedSecret: cfg.PaymentSecretKey,
		Timeout:      cfg.RequestTimeout,
	}, logr)

	publisher := queue.NewPublisher(rdb, queue.Config{
		StreamKey:           cfg.QueueStreamKey,
		ChunkSize:           cfg.QueueChunkSize,
		MaxConcurrentChunks: cfg.QueueMaxConcurrent,
		InterChunkDelay:     cfg.QueueInterChunkWait,
		TaskCreationDelay:   cfg.QueueTaskWait,
	}, logr)

	cat := catalog.Default()
	filter := imagecheck.NewFilter(cfg.ImageMinBytes, cfg.ImageMaxBytes)

	paymentService := service.NewPaymentService(paymentRepo, gateway, cfg.PaymentSecretKey, logr)
	compensationService := service.NewCompensationService(paymentRepo, paymentService, jobRepo, logr)
	avatarService := service.NewAvatarService(avatarRepo, filter, uploader, logr)
	promptService := service.NewPromptService(cat, jobRepo)
	generationService := service.NewGenerationService(
		logr, cat,
		userRepo, avatarRepo, jobRepo, paymentRepo, settingsRepo,
		avatarService, promptService, paymentService, publisher, compensationService,
	)
	statusService := service.NewStatusService(userRepo, avatarRepo, jobRepo, logr)

	server := api.NewServer(cfg.APIListenAddr, cfg.APIAuthToken, cfg.WorkerToken, logr, generationService, statusService, paymentService)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}
