package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"listing_dedup/services"
	"listing_dedup/storage"
)

const defaultTuningPath = "config/dedup.yaml"

type Config struct {
	DatabaseURL string
	DBPath      string
	LogPath     string
	LogLevel    string
	HTTPAddr    string
	Scheduler   SchedulerConfig
	Redis       RedisConfig
	S3          storage.S3Config
	// ScanRateLimit throttles sweeps in records per second, 0 is unlimited
	ScanRateLimit float64
	Dedup         services.Options
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type RedisConfig struct {
	Addr     string
	Password string
	LockTTL  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "dedup.db"),
		LogPath:     getEnv("LOG_PATH", "dedup.log"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCAN_CRON"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			LockTTL:  getEnvDuration("SWEEP_LOCK_TTL", 2*time.Hour),
		},
		S3: storage.S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "eu-central-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		ScanRateLimit: getEnvFloat("SCAN_RATE_LIMIT", 0),
		Dedup:         services.DefaultOptions(),
	}
	cfg.Scheduler.Interval = getEnvDuration("SCAN_INTERVAL", 0)

	if err := cfg.loadTuning(getEnv("DEDUP_CONFIG", defaultTuningPath)); err != nil {
		return nil, err
	}
	cfg.applyTuningEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTuning overlays engine options from a yaml file. A missing file keeps
// the defaults.
func (c *Config) loadTuning(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Dedup); err != nil {
		return fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyTuningEnv() {
	c.Dedup.TitleThreshold = getEnvFloat("DEDUP_TITLE_THRESHOLD", c.Dedup.TitleThreshold)
	c.Dedup.PriceTolerance = getEnvFloat("DEDUP_PRICE_TOLERANCE", c.Dedup.PriceTolerance)
	c.Dedup.MaxCandidates = getEnvInt("DEDUP_MAX_CANDIDATES", c.Dedup.MaxCandidates)
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if err := c.Dedup.Validate(); err != nil {
		return fmt.Errorf("dedup options: %w", err)
	}
	if c.ScanRateLimit < 0 {
		return fmt.Errorf("SCAN_RATE_LIMIT cannot be negative (got %.2f)", c.ScanRateLimit)
	}
	if c.LogLevel != "debug" && c.LogLevel != "info" {
		return fmt.Errorf("LOG_LEVEL must be debug or info (got %q)", c.LogLevel)
	}
	if c.Redis.LockTTL <= 0 {
		return fmt.Errorf("SWEEP_LOCK_TTL must be positive (got %s)", c.Redis.LockTTL)
	}
	return nil
}

// Debug reports whether LOG_LEVEL asks for debug output
func (c *Config) Debug() bool {
	return c.LogLevel == "debug"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
