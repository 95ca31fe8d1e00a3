package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Everything comes from the environment (via .env) with defaults;
// only the sp_dc cookie is mandatory.
type Config struct {
	// Spotify接入配置
	SpDcCookie      string // sp_dc cookie value; empty when CookieFile is used
	CookieFile      string // optional file holding the sp_dc cookie (watched for rotation)
	SpotifyHostname string // base hostname, normally spotify.com
	DealerHost      string // dealer websocket host
	SpClientHost    string // gae-spclient host for connect-state/track-playback calls

	// 设备配置
	DeviceID    string // pinned device id; generated per process when empty
	DeviceName  string
	VisibleMode bool // announce the device so it shows up in Connect pickers

	// Dealer连接配置
	HeartbeatInterval time.Duration
	PongWarnThreshold time.Duration // latency above this logs a warning, in milliseconds

	// 本地状态服务
	StatusAddr string // empty disables the status HTTP server

	// 日志配置
	LogLevel  string
	LogPath   string
	LogMaxAge int

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MySQL配置（播放流水记录，可选）
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// MinIO配置（解密音频归档，可选）
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	hostname := getEnv("SPOTIFY_HOSTNAME", "spotify.com")

	return &Config{
		SpDcCookie:      os.Getenv("SP_DC_COOKIE"),
		CookieFile:      os.Getenv("SP_DC_COOKIE_FILE"),
		SpotifyHostname: hostname,
		DealerHost:      getEnv("DEALER_HOST", "dealer."+hostname),
		SpClientHost:    getEnv("SPCLIENT_HOST", "gae-spclient."+hostname),

		DeviceID:    os.Getenv("DEVICE_ID"),
		DeviceName:  getEnv("DEVICE_NAME", "SpotWire"),
		VisibleMode: getEnvBool("VISIBLE_MODE", false),

		HeartbeatInterval: time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SEC", 30)) * time.Second,
		PongWarnThreshold: time.Duration(getEnvInt("PONG_WARN_THRESHOLD_MS", 1000)) * time.Millisecond,

		StatusAddr: getEnv("STATUS_ADDR", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPath:   getEnv("LOG_PATH", ""),
		LogMaxAge: getEnvInt("LOG_MAX_AGE", 7),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "spotwire"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "spotwire"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
	}
}

// Cookie resolves the sp_dc cookie, preferring the cookie file when set.
func (c *Config) Cookie() string {
	if c.CookieFile != "" {
		data, err := os.ReadFile(c.CookieFile)
		if err != nil {
			log.Printf("Failed to read cookie file %s: %v", c.CookieFile, err)
			return c.SpDcCookie
		}
		return strings.TrimSpace(string(data))
	}
	return c.SpDcCookie
}

// DBConfigured reports whether the stream-history database should be used.
func (c *Config) DBConfigured() bool {
	return c.DBHost != ""
}

// MinioConfigured reports whether the MinIO archive should be used.
func (c *Config) MinioConfigured() bool {
	return c.MinioEndpoint != ""
}
