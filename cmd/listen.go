package cmd

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SpotWire/cache"
	"SpotWire/config"
	"SpotWire/core/auth"
	"SpotWire/core/cluster"
	"SpotWire/core/connect"
	"SpotWire/core/playback"
	"SpotWire/db"
	"SpotWire/logger"
	"SpotWire/model"
	"SpotWire/repository"
	"SpotWire/server"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "连接dealer并持续接收播放状态事件",
	Long:  `建立到dealer的长连接，注册设备并持续接收cluster快照与replace_state事件，变更写入日志。`,
	Run:   runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func runListen(_ *cobra.Command, _ []string) {
	cfg := config.Load()
	logger.InitLogger(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     cfg.LogMaxAge,
	})

	if cfg.Cookie() == "" {
		log.Fatal("SP_DC_COOKIE (or SP_DC_COOKIE_FILE) is required")
	}

	// Redis缓存可选：连不上只降级，不阻止运行
	var store auth.Store
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis unavailable, credential caching disabled", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		store = cache.NewCredentialStore()
	}

	client := connect.NewClient(connect.Options{
		SpotifyHostname:   cfg.SpotifyHostname,
		DealerHost:        cfg.DealerHost,
		SpClientHost:      cfg.SpClientHost,
		DeviceID:          cfg.DeviceID,
		DeviceName:        cfg.DeviceName,
		VisibleMode:       cfg.VisibleMode,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PongWarnThreshold: cfg.PongWarnThreshold,
		Cookie:            cfg.Cookie,
		CredentialStore:   store,
	})

	// 完整播放计数：连续播放满30秒后上报 player_threshold_reached
	tracker := playback.NewThresholdTracker(client.Simulator())
	client.Reconciler().OnReceive(tracker.Observe)

	// 播放流水（可选）
	var streams repository.StreamRepository
	if cfg.DBConfigured() {
		if err := db.ConnectGormDB(cfg); err != nil {
			logger.Warn("stream history database unavailable", logger.ErrorField(err))
		} else {
			defer db.CloseGormDB()
			streams = repository.NewStreamRepository()
			client.Simulator().SetStreamRecorder(func(_ context.Context, c *cluster.Cluster) {
				record := &model.StreamRecord{DeviceID: client.DeviceID()}
				if c != nil && c.PlayerState != nil {
					record.ContextURI = c.PlayerState.ContextURI
					record.DurationMs = c.PlayerState.DurationMs
					record.PositionMs = c.PlayerState.Position.Value()
					if c.PlayerState.Track != nil {
						record.TrackURI = c.PlayerState.Track.URI
					}
				}
				if err := streams.CreateStream(record); err != nil {
					logger.Warn("failed to record stream", logger.ErrorField(err))
				}
			})
		}
	}

	registerLogging(client)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// cookie轮换监听
	if cfg.CookieFile != "" {
		stopWatch, err := config.WatchCookieFile(cfg.CookieFile, client.Tokens().Invalidate)
		if err != nil {
			logger.Warn("cookie file watch failed", logger.ErrorField(err))
		} else {
			defer stopWatch()
		}
	}

	// 本地状态服务（可选）
	if cfg.StatusAddr != "" {
		status := server.NewStatusServer(cfg.StatusAddr, client.Reconciler(), client)
		status.SetClusterCache(cache.LoadCluster)
		if streams != nil {
			status.SetStreamHistory(streams)
		}
		go func() {
			if err := status.Start(ctx); err != nil {
				logger.Error("status server failed", logger.ErrorField(err))
			}
		}()
	}

	logger.Info("starting dealer run", logger.String("device_id", client.DeviceID()))
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("dealer run failed", logger.ErrorField(err))
	}
	logger.Info("dealer run ended")
}

// registerLogging hooks the common watch expressions so state changes are
// visible in the log, and mirrors every snapshot into the Redis cache.
func registerLogging(client *connect.Client) {
	rec := client.Reconciler()

	rec.OnReady(func(c *cluster.Cluster) {
		logger.Info("first cluster received",
			logger.String("active_device", c.ActiveDeviceID),
			logger.Int("devices", len(c.Devices)))
	})

	rec.OnReceive(func(c *cluster.Cluster) {
		raw, err := json.Marshal(c)
		if err != nil {
			return
		}
		cache.SaveCluster(context.Background(), raw)
	})

	rec.OnChange(cluster.ByPath("player_state.is_playing"), func(_ *cluster.Cluster, oldV, newV any) {
		logger.Info("playback state changed",
			logger.Any("was_playing", oldV),
			logger.Any("is_playing", newV))
	})
	rec.OnChange(cluster.ByPath("player_state.track.uri"), func(c *cluster.Cluster, _, newV any) {
		logger.Info("track changed", logger.Any("uri", newV))
	})
	rec.OnChange(cluster.ByPath("active_device_id"), func(_ *cluster.Cluster, oldV, newV any) {
		logger.Info("active device changed",
			logger.Any("from", oldV),
			logger.Any("to", newV))
	})

	client.OnReplaceState(func(content map[string]any) {
		logger.Debug("replace_state event", logger.Int("fields", len(content)))
	})
}
