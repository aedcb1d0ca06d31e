package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full process configuration. A YAML file provides the
// base values; environment variables (optionally loaded from .env) override
// credentials and endpoints.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Textract TextractConfig `yaml:"textract"`
	Queue    QueueConfig    `yaml:"queue"`
	Quota    QuotaConfig    `yaml:"quota"`
	OCR      OCRConfig      `yaml:"ocr"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslMode"`
}

// DSN builds the postgres connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type StorageConfig struct {
	Backend string      `yaml:"backend"` // "minio" or "s3"
	Minio   MinioConfig `yaml:"minio"`
	S3      S3Config    `yaml:"s3"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
	UseSSL     bool   `yaml:"useSSL"`
	Region     string `yaml:"region"`
	BucketName string `yaml:"bucketName"`
}

type S3Config struct {
	Region     string `yaml:"region"`
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
	BucketName string `yaml:"bucketName"`
}

type TextractConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`
	MaxRetry    int `yaml:"maxRetry"`
	// RetryDelaySeconds is the fixed delay between worker retries.
	RetryDelaySeconds int `yaml:"retryDelaySeconds"`
	JobTimeoutSeconds int `yaml:"jobTimeoutSeconds"`
	RetentionHours    int `yaml:"retentionHours"`
	// MaxPending caps the number of jobs waiting per queue; 0 disables the cap.
	MaxPending int `yaml:"maxPending"`
	// SurgeWindows lists "HH:MM-HH:MM" ranges during which jobs are enqueued
	// with high priority regardless of subscription tier.
	SurgeWindows []string `yaml:"surgeWindows"`
}

type QuotaConfig struct {
	WindowSeconds int `yaml:"windowSeconds"`
	// RateLimits maps subscription tier to allowed OCR requests per window.
	RateLimits       map[string]int `yaml:"rateLimits"`
	MonthlyDocuments int            `yaml:"monthlyDocuments"`
	MonthlyReports   int            `yaml:"monthlyReports"`
}

type OCRConfig struct {
	MaxFileSizeMB     int      `yaml:"maxFileSizeMB"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
	StaleAfterMinutes int      `yaml:"staleAfterMinutes"`
	SweepInterval     string   `yaml:"sweepInterval"`
}

func (c OCRConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"outputPaths"`
}

var (
	once sync.Once
	cfg  *Config
)

// Get loads the configuration once per process. The file path comes from
// CONFIG_PATH (default config.yaml); a missing file falls back to defaults.
func Get() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Printf("config: .env not found, using environment as-is")
		}

		cfg = defaults()

		path := envOr("CONFIG_PATH", "config.yaml")
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				log.Printf("config: can't parse %s: %v", path, err)
			}
		}

		applyEnvOverrides(cfg)
	})
	return cfg
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Database: "esglite",
			SSLMode:  "disable",
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Storage: StorageConfig{Backend: "minio"},
		Queue: QueueConfig{
			Concurrency:       10,
			MaxRetry:          3,
			RetryDelaySeconds: 60,
			JobTimeoutSeconds: 3600,
			RetentionHours:    24,
		},
		Quota: QuotaConfig{
			WindowSeconds: 60,
			RateLimits: map[string]int{
				"FREE":       3,
				"PRO":        10,
				"ENTERPRISE": 30,
			},
			MonthlyDocuments: 100,
			MonthlyReports:   20,
		},
		OCR: OCRConfig{
			MaxFileSizeMB:     50,
			AllowedExtensions: []string{".pdf", ".jpg", ".jpeg", ".png", ".tiff"},
			StaleAfterMinutes: 30,
			SweepInterval:     "@every 5m",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/app.log"},
		},
	}
}

func applyEnvOverrides(c *Config) {
	c.Postgres.Host = envOr("POSTGRES_HOST", c.Postgres.Host)
	c.Postgres.Port = envOr("POSTGRES_PORT", c.Postgres.Port)
	c.Postgres.User = envOr("POSTGRES_USER", c.Postgres.User)
	c.Postgres.Password = envOr("POSTGRES_PASSWORD", c.Postgres.Password)
	c.Postgres.Database = envOr("POSTGRES_DB", c.Postgres.Database)

	c.Redis.Addr = envOr("REDIS_ADDR", c.Redis.Addr)
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		c.Redis.DB = db
	}

	c.Storage.Backend = strings.ToLower(envOr("STORAGE_BACKEND", c.Storage.Backend))
	c.Storage.Minio.Endpoint = envOr("MINIO_ENDPOINT", c.Storage.Minio.Endpoint)
	c.Storage.Minio.AccessKey = envOr("MINIO_ACCESS_KEY", c.Storage.Minio.AccessKey)
	c.Storage.Minio.SecretKey = envOr("MINIO_SECRET_KEY", c.Storage.Minio.SecretKey)
	c.Storage.Minio.Region = envOr("MINIO_REGION", c.Storage.Minio.Region)
	c.Storage.Minio.BucketName = envOr("MINIO_BUCKET_NAME", c.Storage.Minio.BucketName)

	c.Storage.S3.Region = envOr("AWS_REGION", c.Storage.S3.Region)
	c.Storage.S3.AccessKey = envOr("AWS_ACCESS_KEY_ID", c.Storage.S3.AccessKey)
	c.Storage.S3.SecretKey = envOr("AWS_SECRET_ACCESS_KEY", c.Storage.S3.SecretKey)
	c.Storage.S3.BucketName = envOr("S3_BUCKET_NAME", c.Storage.S3.BucketName)

	c.Textract.Region = envOr("TEXTRACT_REGION", c.Textract.Region)
	c.Textract.AccessKey = envOr("TEXTRACT_ACCESS_KEY", c.Textract.AccessKey)
	c.Textract.SecretKey = envOr("TEXTRACT_SECRET_KEY", c.Textract.SecretKey)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
