// Package main runs the watch-together HTTP server with WebSocket sync and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eclipsera/backend/config"
	"github.com/eclipsera/backend/internal/middleware"
	"github.com/eclipsera/backend/internal/realtime"
	"github.com/eclipsera/backend/internal/rooms"
	"github.com/eclipsera/backend/internal/transcode"
	"github.com/eclipsera/backend/internal/uploads"
	"github.com/eclipsera/backend/internal/video"
	"github.com/eclipsera/backend/internal/worker"
	"github.com/eclipsera/backend/pkg/database"
	"github.com/eclipsera/backend/pkg/queue"
	"github.com/eclipsera/backend/pkg/redis"
	"github.com/eclipsera/backend/pkg/response"
	"github.com/eclipsera/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		VideosBucket:         cfg.AWS.VideosBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	// Realtime hub: join replay reads the video records directly.
	videoRepo := video.NewRepository(pool)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, videoRepo, redisPubSub, redisPubSub)

	// Transcode pipeline: failed uploads enqueue cleanup of partial output.
	jobQueue := queue.NewQueue(rdb.Client, logger)
	engine := transcode.NewEngine(s3Client, jobQueue, transcode.Config{
		FFmpegPath:       cfg.Transcode.FFmpegPath,
		FFprobePath:      cfg.Transcode.FFprobePath,
		SegmentSeconds:   cfg.Transcode.SegmentSeconds,
		KeyframeInterval: cfg.Transcode.KeyframeInterval,
	}, logger)
	coordinator := video.NewCoordinator(videoRepo, engine, s3Client, hub, logger)
	videoHandler := video.NewHandler(coordinator, logger)

	// Rooms
	roomRepo := rooms.NewRepository(pool)
	roomHandler := rooms.NewHandler(roomRepo, logger)
	reaper := rooms.NewReaper(roomRepo,
		time.Duration(cfg.Rooms.InactiveTTLHours)*time.Hour,
		time.Duration(cfg.Rooms.ReapIntervalMinutes)*time.Minute,
		logger,
	)

	// Uploads
	uploadHandler := uploads.NewHandler(s3Client, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	api := router.Group("/api")
	{
		api.POST("/createroom", roomHandler.Create)
		api.GET("/verifyroom/:roomId", roomHandler.Verify)
		api.PUT("/joinroom/:roomId", roomHandler.Join)
		api.GET("/upload-url", uploadHandler.GetUploadURL)

		movie := api.Group("/movieupload")
		{
			movie.POST("/process", videoHandler.Process)
			movie.POST("/delete", videoHandler.Delete)
			movie.GET("/:roomId", videoHandler.Get)
		}
	}

	router.GET("/ws", realtime.ServeWs(hub, logger))

	// WriteTimeout defaults to 0: the process endpoint answers only after the
	// transcode finishes, which can take minutes for a full movie.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background loops: blob cleanup worker and room reaper.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	cleanup := worker.NewCleanupProcessor(s3Client, jobQueue, logger)
	go cleanup.Run(workerCtx)
	go reaper.Run(workerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
