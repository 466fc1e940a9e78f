package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string
	OpsDBPath   string
	LogLevel    string
	Proxy       ProxyConfig
	Scheduler   SchedulerConfig
	Scraper     ScraperConfig
	S3          S3Config
	Sources     map[int64]*SourceConfig
}

type ProxyConfig struct {
	URL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	Concurrency int
	DelayMS     int
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// SourceConfig carries the scraping parameters for one source. The catalog
// database decides whether a source runs at all; these files decide how.
type SourceConfig struct {
	ID            int64             `yaml:"id"`
	Name          string            `yaml:"name"`
	Adapter       string            `yaml:"adapter"`
	Currency      string            `yaml:"currency"`
	BaseURL       string            `yaml:"base_url"`
	PageSize      int               `yaml:"page_size"`
	MaxPages      int               `yaml:"max_pages"`
	RateLimitMS   int               `yaml:"rate_limit_ms"`
	MaxRetries    int               `yaml:"max_retries"`
	RetryDelayMS  int               `yaml:"retry_delay_ms"`
	BackoffFactor float64           `yaml:"backoff_factor"`
	ProxyURL      string            `yaml:"proxy_url"`
	Categories    []string          `yaml:"categories"`
	Endpoints     map[string]string `yaml:"endpoints"`
	Selectors     map[string]string `yaml:"selectors"`
	Headers       map[string]string `yaml:"headers"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		OpsDBPath:   getEnv("OPS_DB_PATH", "pricebasket.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			Concurrency: getEnvInt("SCRAPE_CONCURRENCY", 3),
			DelayMS:     getEnvInt("SCRAPE_DELAY_MS", 500),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Sources: make(map[int64]*SourceConfig),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSourceConfigs() error {
	configDir := getEnv("SOURCES_DIR", "config/sources")
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		src.applyDefaults()
		if src.ProxyURL == "" {
			src.ProxyURL = c.Proxy.URL
		}

		c.Sources[src.ID] = &src
	}

	return nil
}

func (s *SourceConfig) applyDefaults() {
	if s.PageSize == 0 {
		s.PageSize = 50
	}
	if s.MaxPages == 0 {
		s.MaxPages = 200
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 3
	}
	if s.RetryDelayMS == 0 {
		s.RetryDelayMS = 1000
	}
	if s.BackoffFactor == 0 {
		s.BackoffFactor = 2.0
	}
	if s.RateLimitMS == 0 {
		s.RateLimitMS = 500
	}
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
