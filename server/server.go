package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"ChunkFM/cache"
	"ChunkFM/config"
	"ChunkFM/core/assets"
	"ChunkFM/core/media"
	"ChunkFM/core/playback"
	"ChunkFM/db"
	"ChunkFM/logger"
	"ChunkFM/repository"
	"ChunkFM/storage"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.InitLogger(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	})
	defer logger.Sync()

	// 设置服务器超时
	// 采集接口会阻塞到外部工具跑完，写超时放宽到10分钟
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 初始化 MinIO 客户端
	if err := storage.InitMinio(cfg); err != nil {
		log.Fatalf("Failed to initialize MinIO: %v", err)
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.DB.Close()

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// GORM 与现有的 DB 并存，用户歌单走 GORM
	if err := db.ConnectGormDB(cfg); err != nil {
		log.Fatalf("Failed to connect GORM: %v", err)
	}

	// Connect to Redis
	if err := cache.ConnectRedis(cfg); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer cache.CloseRedis()
	log.Println("Successfully connected to Redis")

	// Create necessary directories if they don't exist
	ensureDirExists(cfg.WorkDir)

	// 采集与播放组件按依赖顺序组装，全部显式传引用
	store := assets.NewMinioStore(storage.GetMinioClient(), cfg.MinioBucket)
	registry := assets.NewRegistry(cfg, store)
	catalog := assets.NewEventCatalog(registry)

	libraryRepo := repository.NewMySQLLibraryRepository()
	userLibRepo := repository.NewGormUserLibraryRepository()

	runner := media.NewExecToolRunner()
	acquirer := media.NewAcquirer(cfg, runner, registry, catalog, libraryRepo).
		WithThumbnailConverter(media.NewFFmpegThumbnailConverter(cfg.FFmpegPath, runner))

	bridge := NewBridgeHub()
	go bridge.Run()

	executor := playback.NewWorldExecutor()
	scheduler := playback.NewScheduler(cfg, catalog, bridge, bridge, executor)
	bridge.BindNotifier(scheduler)

	// 初始化处理器
	apiHandler := NewAPIHandler(acquirer, scheduler, libraryRepo, userLibRepo, cfg)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 采集相关的API端点
	router.HandleFunc("/api/acquire", apiHandler.AcquireHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/acquire/status", apiHandler.AcquireStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/library", apiHandler.LibraryHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/library/{trackId}", apiHandler.RemoveLibraryEntryHandler).Methods(http.MethodDelete)

	// 播放控制相关的API端点
	router.HandleFunc("/api/playback/play", apiHandler.PlayHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/pause", apiHandler.PauseHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/resume", apiHandler.ResumeHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/stop", apiHandler.StopHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/seek", apiHandler.SeekHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/loop", apiHandler.LoopHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/volume", apiHandler.VolumeHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/status", apiHandler.StatusHandler).Methods(http.MethodGet)

	// 用户歌单相关的API端点
	router.HandleFunc("/api/user/{userId}/library", apiHandler.GetUserLibraryHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/user/{userId}/library", apiHandler.AddUserSongHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/user/{userId}/library/{trackId}", apiHandler.RemoveUserSongHandler).Methods(http.MethodDelete)

	// 平台桥接 websocket
	router.HandleFunc("/ws/bridge", bridge.ServeBridgeWS).Methods(http.MethodGet)

	server.Handler = router

	// 优雅关闭
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("收到退出信号，开始关闭服务")
		scheduler.StopAll()
		executor.Stop()
		bridge.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("服务关闭出错", logger.ErrorField(err))
		}
	}()

	logger.Info("服务启动", logger.String("addr", cfg.ListenAddr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	logger.Info("服务已退出")
}

func ensureDirExists(dir string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("Failed to create directory %s: %v", dir, err)
	}
}
