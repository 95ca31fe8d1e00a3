package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"SpotWire/config"
	"SpotWire/core/audio"
	"SpotWire/logger"
	"SpotWire/storage"
)

var (
	fetchKeyHex  string
	fetchOutput  string
	fetchToMinio bool
	fetchSize    int64
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <cdn-url>",
	Short: "下载并解密一条加密音频流",
	Long: `按协议分块下载CDN上的加密音频并解密，写入本地文件或上传到MinIO归档。
音频密钥(audio key)需通过外部途径获取并以hex传入。`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: cfg.LogLevel})

		key, err := hex.DecodeString(fetchKeyHex)
		if err != nil || len(key) != 16 {
			log.Fatal("--key must be 16 bytes of hex")
		}

		ctx := context.Background()
		reader := audio.NewStreamer().Stream(args[0], key, fetchSize)

		if fetchToMinio {
			if !cfg.MinioConfigured() {
				log.Fatal("MinIO is not configured")
			}
			if err := storage.InitMinio(cfg); err != nil {
				log.Fatalf("无法连接到MinIO: %v", err)
			}
			pr, pw := io.Pipe()
			go func() {
				_, err := reader.WriteTo(ctx, pw)
				pw.CloseWithError(err)
			}()
			if err := storage.ArchiveTrack(ctx, cfg, fetchOutput, pr, -1); err != nil {
				log.Fatalf("归档失败: %v", err)
			}
			fmt.Printf("archived to minio: %s\n", fetchOutput)
			return
		}

		out, err := os.Create(fetchOutput)
		if err != nil {
			log.Fatalf("无法创建输出文件: %v", err)
		}
		defer out.Close()

		written, err := reader.WriteTo(ctx, out)
		if err != nil {
			log.Fatalf("下载解密失败: %v", err)
		}
		fmt.Printf("wrote %d bytes to %s\n", written, fetchOutput)
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchKeyHex, "key", "", "16-byte audio key in hex (required)")
	fetchCmd.Flags().StringVarP(&fetchOutput, "out", "o", "track.ogg", "output file or MinIO object name")
	fetchCmd.Flags().BoolVar(&fetchToMinio, "minio", false, "upload to MinIO instead of writing a file")
	fetchCmd.Flags().Int64Var(&fetchSize, "size", -1, "total file size; discovered from Content-Range when omitted")
	fetchCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(fetchCmd)
}
