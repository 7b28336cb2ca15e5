package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/cobra"

	"ChunkFM/config"
	"ChunkFM/storage"
)

var (
	minioPrefix string
	minioStats  bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶检查",
	Long:  `检查MinIO连接并列出存储桶中已注册的资产，支持按前缀过滤和统计信息。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		// 加载配置
		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		// 初始化MinIO客户端
		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		client := storage.GetMinioClient()
		ctx := context.Background()

		objectCh := client.ListObjects(ctx, cfg.MinioBucket, minio.ListObjectsOptions{
			Prefix:    minioPrefix,
			Recursive: true,
		})

		var count int
		var totalSize int64
		for object := range objectCh {
			if object.Err != nil {
				log.Fatalf("列出对象失败: %v", object.Err)
			}
			count++
			totalSize += object.Size
			if !minioStats {
				fmt.Printf("  %s (%d bytes)\n", object.Key, object.Size)
			}
		}

		fmt.Printf("\n共 %d 个对象, 总大小 %d bytes\n", count, totalSize)
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "对象前缀过滤（如 chunks/ 或 events/）")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示统计信息，不逐个列出对象")
	rootCmd.AddCommand(minioCmd)
}
