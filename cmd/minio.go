package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"SpotWire/config"
	"SpotWire/logger"
	"SpotWire/storage"
)

var minioPrefix string

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO归档查看",
	Long:  `连接MinIO并列出已归档的音频对象。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: cfg.LogLevel})

		if !cfg.MinioConfigured() {
			log.Fatal("MinIO is not configured")
		}

		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)
		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}

		names, err := storage.ListArchive(context.Background(), cfg, minioPrefix)
		if err != nil {
			log.Fatalf("列出对象失败: %v", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		fmt.Printf("共 %d 个对象\n", len(names))
	},
}

func init() {
	minioCmd.Flags().StringVar(&minioPrefix, "prefix", "", "仅列出指定前缀的对象")
	rootCmd.AddCommand(minioCmd)
}
