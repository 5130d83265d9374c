package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	MySQLDSN string

	APIListenAddr string
	APIAuthToken  string
	WorkerToken   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QueueStreamKey      string
	QueueChunkSize      int
	QueueMaxConcurrent  int
	QueueInterChunkWait time.Duration
	QueueTaskWait       time.Duration

	PaymentGatewayURL string
	PaymentMerchantID string
	PaymentSecretKey  string
	PaymentCurrency   string

	RequestTimeout time.Duration

	ImageMinBytes int
	ImageMaxBytes int

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	loadEnvFile()

	cfg := Config{
		APIListenAddr:       getEnv("API_LISTEN_ADDR", ":8080"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getInt("REDIS_DB", 0),
		QueueStreamKey:      getEnv("QUEUE_STREAM_KEY", "generation:jobs"),
		QueueChunkSize:      getInt("QUEUE_CHUNK_SIZE", 3),
		QueueMaxConcurrent:  getInt("QUEUE_MAX_CONCURRENT_CHUNKS", 2),
		QueueInterChunkWait: time.Millisecond * time.Duration(getInt("QUEUE_INTER_CHUNK_DELAY_MS", 250)),
		QueueTaskWait:       time.Millisecond * time.Duration(getInt("QUEUE_TASK_CREATION_DELAY_MS", 500)),
		PaymentGatewayURL:   getEnv("PAYMENT_GATEWAY_URL", "https://gateway.fotopay.example"),
		PaymentCurrency:     getEnv("PAYMENT_CURRENCY", "RUB"),
		RequestTimeout:      time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)),
		ImageMinBytes:       getInt("IMAGE_MIN_BYTES", 10*1024),
		ImageMaxBytes:       getInt("IMAGE_MAX_BYTES", 15*1024*1024),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", "references"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.APIAuthToken = os.Getenv("API_AUTH_TOKEN")
	cfg.WorkerToken = os.Getenv("WORKER_AUTH_TOKEN")
	cfg.PaymentMerchantID = os.Getenv("PAYMENT_MERCHANT_ID")
	cfg.PaymentSecretKey = os.Getenv("PAYMENT_SECRET_KEY")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.APIAuthToken == "" {
		missing = append(missing, "API_AUTH_TOKEN")
	}
	if cfg.WorkerToken == "" {
		missing = append(missing, "WORKER_AUTH_TOKEN")
	}
	if cfg.PaymentMerchantID == "" {
		missing = append(missing, "PAYMENT_MERCHANT_ID")
	}
	if cfg.PaymentSecretKey == "" {
		missing = append(missing, "PAYMENT_SECRET_KEY")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile picks up the first .env file it finds; absence is not an error
// since production supplies plain environment variables.
func loadEnvFile() {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			continue
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err == nil {
			return
		}
	}
}
