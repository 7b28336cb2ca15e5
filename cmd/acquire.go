package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ChunkFM/cache"
	"ChunkFM/config"
	"ChunkFM/core/assets"
	"ChunkFM/core/media"
	"ChunkFM/db"
	"ChunkFM/logger"
	"ChunkFM/repository"
	"ChunkFM/storage"
)

var acquireTimeout time.Duration

var acquireCmd = &cobra.Command{
	Use:   "acquire <url>",
	Short: "从终端跑一次采集管线",
	Long:  `对指定URL执行完整的采集管线（元数据、下载、切分、资产注册），完成后输出 MediaInfo 的JSON。`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
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

		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		if err := db.ConnectDB(cfg); err != nil {
			log.Fatalf("无法连接到数据库: %v", err)
		}
		defer db.DB.Close()
		if err := db.InitDB(); err != nil {
			log.Fatalf("初始化数据库失败: %v", err)
		}

		// Redis 不可用时退化为直读 MinIO，不阻塞采集
		if err := cache.ConnectRedis(cfg); err != nil {
			log.Printf("Redis不可用，跳过分片缓存: %v", err)
		} else {
			defer cache.CloseRedis()
		}

		store := assets.NewMinioStore(storage.GetMinioClient(), cfg.MinioBucket)
		registry := assets.NewRegistry(cfg, store)
		catalog := assets.NewEventCatalog(registry)
		libraryRepo := repository.NewMySQLLibraryRepository()

		runner := media.NewExecToolRunner()
		acquirer := media.NewAcquirer(cfg, runner, registry, catalog, libraryRepo).
			WithThumbnailConverter(media.NewFFmpegThumbnailConverter(cfg.FFmpegPath, runner))

		ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
		defer cancel()

		info, err := acquirer.Acquire(ctx, args[0])
		if err != nil {
			log.Fatalf("采集失败: %v", err)
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(info); err != nil {
			log.Fatalf("输出结果失败: %v", err)
		}
		fmt.Printf("采集完成: %d 个分片\n", info.ChunkCount)
	},
}

func init() {
	acquireCmd.Flags().DurationVar(&acquireTimeout, "timeout", 15*time.Minute, "采集超时时间")
	rootCmd.AddCommand(acquireCmd)
}
