package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"desaPortal/internal/config"
	"desaPortal/internal/database"
	"desaPortal/internal/metrics"
	"desaPortal/internal/storage"
	"desaPortal/internal/tasks"
	"desaPortal/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
	})

	assetHandler := worker.NewAssetMaintenanceHandler(db, storageClient, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.HandleFunc(tasks.TypeAssetCleanup, assetHandler.HandleCleanup)
	mux.HandleFunc(tasks.TypeAssetSweep, assetHandler.HandleSweep)

	// 每天巡检一次资产库，回收档案不再引用的结构图。
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register("@every 24h", tasks.NewAssetSweepTask()); err != nil {
		log.Fatalf("register asset sweep: %v", err)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler stopped", slog.Any("error", err))
		}
	}()

	logger.Info("worker service started", slog.String("redis_addr", cfg.Redis.Addr()))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
