package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from the environment (optionally via a .env file) with
// simple defaults suitable for local development.
type Config struct {
	// External tools
	FFmpegPath string
	YtDlpPath  string

	// Media workspace
	WorkDir      string // Base directory for downloaded audio and chunk files
	ChunkSeconds int    // Segment duration handed to the splitter AND the scheduler tick
	ChunkFormat  string // Container for chunk files, split without re-encoding

	// Playback scheduling
	AssetRetryMax     int // Attempts to resolve a not-yet-registered chunk event
	AssetRetryDelayMs int
	SoundCategory     string // Category stamped on every chunk sound event
	SoundMaxDistance  float64
	SoundAttenuation  float64

	// HTTP
	ListenAddr string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Logging
	LogLevel string
	LogPath  string
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

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	workBase := getEnv("WORK_DIR", "media")

	return &Config{
		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
		YtDlpPath:  getEnv("YTDLP_PATH", "yt-dlp"),

		WorkDir:      workBase,
		ChunkSeconds: getEnvInt("CHUNK_SECONDS", 1),
		ChunkFormat:  getEnv("CHUNK_FORMAT", "m4a"),

		AssetRetryMax:     getEnvInt("ASSET_RETRY_MAX", 10),
		AssetRetryDelayMs: getEnvInt("ASSET_RETRY_DELAY_MS", 500),
		SoundCategory:     getEnv("SOUND_CATEGORY", "records"),
		SoundMaxDistance:  getEnvFloat("SOUND_MAX_DISTANCE", 64),
		SoundAttenuation:  getEnvFloat("SOUND_ATTENUATION", 48),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "chunkfm"),

		// Redis配置，使用默认值
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),     // 默认使用0号数据库

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "chunkfm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", filepath.Join("logs", "chunkfm.log")),
	}
}

// ChunkDurationMs returns the scheduler tick derived from ChunkSeconds.
// The splitter and the scheduler must agree on the chunk length; both read
// this single value, so they cannot drift apart.
func (c *Config) ChunkDurationMs() int64 {
	return int64(c.ChunkSeconds) * 1000
}

// Validate checks configuration invariants that would otherwise only
// surface as confusing runtime behavior.
func (c *Config) Validate() error {
	if c.ChunkSeconds <= 0 {
		return fmt.Errorf("CHUNK_SECONDS must be positive, got %d", c.ChunkSeconds)
	}
	if c.AssetRetryMax <= 0 {
		return fmt.Errorf("ASSET_RETRY_MAX must be positive, got %d", c.AssetRetryMax)
	}
	if c.AssetRetryDelayMs <= 0 {
		return fmt.Errorf("ASSET_RETRY_DELAY_MS must be positive, got %d", c.AssetRetryDelayMs)
	}
	if c.ChunkFormat == "" {
		return fmt.Errorf("CHUNK_FORMAT must not be empty")
	}
	return nil
}

// TrackDir returns the working directory for one track's files.
func (c *Config) TrackDir(trackID string) string {
	return filepath.Join(c.WorkDir, trackID)
}
