package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Atlas    AtlasConfig
	AWS      AWSConfig
	Game     GameConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	JoinRatePerMinute  int    // per client IP, applied to lobby creation and joins
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Driver   string // "postgres" or "memory"
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds signing settings for identity, session and owner tokens.
type JWTConfig struct {
	Secret          string
	ExpireHours     int
	SessionTokenTTL time.Duration
}

// AtlasConfig describes where atlas assets come from.
type AtlasConfig struct {
	IDs      []string
	Source   string // "dir" or "s3"
	Dir      string
	CacheDir string // optional local fallback copy of remote assets
}

// AWSConfig holds AWS credentials and the atlas bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	AtlasBucket     string
}

// GameConfig holds game timing and lobby policy.
type GameConfig struct {
	TimeAttackDuration    time.Duration
	LoadAtlasDuration     time.Duration
	DefaultRegionDuration time.Duration
	DefaultRegionsNumber  int
	AllowAnonymous        bool
	ReaperInterval        time.Duration
	InactivityTimeout     time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			JoinRatePerMinute:  getEnvInt("JOIN_RATE_PER_MIN", 30),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("STORE_DRIVER", "postgres"),
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "brainquiz"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours:     getEnvInt("JWT_EXPIRE_HOURS", 24),
			SessionTokenTTL: time.Duration(getEnvInt("SESSION_TOKEN_TTL_MIN", 120)) * time.Minute,
		},
		Atlas: AtlasConfig{
			IDs:      splitTrim(getEnv("ATLAS_IDS", "aal,brainnetome"), ","),
			Source:   getEnv("ATLAS_SOURCE", "dir"),
			Dir:      getEnv("ATLAS_DIR", "./atlases"),
			CacheDir: getEnv("ATLAS_CACHE_DIR", ""),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			AtlasBucket:     getEnv("AWS_S3_ATLAS_BUCKET", ""),
		},
		Game: GameConfig{
			TimeAttackDuration:    seconds("TIME_ATTACK_SECONDS", 100),
			LoadAtlasDuration:     seconds("LOAD_ATLAS_SECONDS", 10),
			DefaultRegionDuration: seconds("DEFAULT_REGION_SECONDS", 15),
			DefaultRegionsNumber:  getEnvInt("DEFAULT_REGIONS_NUMBER", 10),
			AllowAnonymous:        getEnvBool("ALLOW_ANONYMOUS", true),
			ReaperInterval:        seconds("REAPER_INTERVAL_SEC", 60),
			InactivityTimeout:     seconds("INACTIVITY_TIMEOUT_SEC", 600),
		},
	}
	if cfg.Atlas.Source == "s3" && cfg.AWS.AtlasBucket == "" {
		return nil, fmt.Errorf("ATLAS_SOURCE=s3 requires AWS_S3_ATLAS_BUCKET")
	}
	if len(cfg.Atlas.IDs) == 0 {
		return nil, fmt.Errorf("ATLAS_IDS must list at least one atlas")
	}
	return cfg, nil
}

func seconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
