package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sermonflow/pkg/ai"
)

// ConfigPath is the default config location, overridable with WORKER_CONFIG.
var ConfigPath = envOr("WORKER_CONFIG", "config.yaml")

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port             string            `yaml:"port"`
	LogLevel         string            `yaml:"logLevel"`
	DatabaseURL      string            `yaml:"databaseURL"`
	RedisAddr        string            `yaml:"redisAddr"`
	RedisPassword    string            `yaml:"redisPassword"`
	QueueStream      string            `yaml:"queueStream"`
	QueueGroup       string            `yaml:"queueGroup"`
	QueueConcurrency int               `yaml:"queueConcurrency"`
	QueueMaxRetries  int               `yaml:"queueMaxRetries"`
	QueueRetryDelay  string            `yaml:"queueRetryDelay"`
	GenerateTimeout  string            `yaml:"generateTimeout"`
	MinioEndpoint    string            `yaml:"minioEndpoint"`
	MinioAccessKey   string            `yaml:"minioAccessKey"`
	MinioSecretKey   string            `yaml:"minioSecretKey"`
	MinioBucket      string            `yaml:"minioBucket"`
	MinioUseSSL      bool              `yaml:"minioUseSSL"`
	LLM              ai.ProviderConfig `yaml:"llm"`
}

// Load reads config from path (defaults to ConfigPath).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("WORKER_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("WORKER_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = "sermonflow:generations"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "generators"
	}
	if cfg.QueueConcurrency == 0 {
		cfg.QueueConcurrency = 2
	}
	if cfg.QueueMaxRetries == 0 {
		cfg.QueueMaxRetries = 3
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for the job queue")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required")
	}
	if cfg.QueueConcurrency < 0 || cfg.QueueMaxRetries < 0 {
		return errors.New("config: queueConcurrency and queueMaxRetries must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)) {
	case "", ai.ProviderGemini, ai.ProviderOpenAICompat:
		if strings.TrimSpace(cfg.LLM.APIKey) == "" {
			return errors.New("config: llm.apiKey is required for this provider")
		}
	case ai.ProviderOllama, ai.ProviderStatic:
	default:
		return fmt.Errorf("config: unknown llm.provider %q", cfg.LLM.Provider)
	}
	if _, err := ParseDuration("queueRetryDelay", cfg.QueueRetryDelay); err != nil {
		return err
	}
	if _, err := ParseDuration("generateTimeout", cfg.GenerateTimeout); err != nil {
		return err
	}
	return nil
}

// ParseDuration parses an optional duration setting; empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", name)
	}
	return dur, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
