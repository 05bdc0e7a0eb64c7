package config

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ServerAddr     string          `yaml:"serverAddr"`
	Environment    string          `yaml:"environment"` // production | development
	DatabaseConfig DatabaseConfig  `yaml:"databaseConfig"`
	RedisConfig    RedisConfig     `yaml:"redisConfig"`
	Storage        StorageConfig   `yaml:"storage"`
	JWT            JWTConfig       `yaml:"jwt"`
	Worker         WorkerConfig    `yaml:"worker"`
	Antivirus      AntivirusConfig `yaml:"antivirus"`
	TTL            TTL             `yaml:"TTL"`
	// InternalServiceToken пускает внутренние вызовы (воркеры, админка) мимо JWT
	InternalServiceToken string `yaml:"internal_service_token"`
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

func LoadConfig(path string) (*AppConfig, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	if err := validateConfig(&cfg); err != nil {
		if cfg.IsProduction() {
			return nil, err
		}
		log.Printf("конфигурация неполная (режим development, продолжаем): %v", err)
	}

	return &cfg, nil
}

// applyEnvOverrides — переменные окружения имеют приоритет над config.yaml
func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("AWS_STORAGE_BUCKET_NAME"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("AWS_S3_ENDPOINT_URL"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisConfig.Addr = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.DatabaseConfig.DSN = v
	}
	if v := os.Getenv("INTERNAL_SERVICE_TOKEN"); v != "" {
		cfg.InternalServiceToken = v
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.Count = n
		}
	}
}

func validateConfig(cfg *AppConfig) error {
	switch cfg.Storage.Backend {
	case "local":
		if cfg.Storage.LocalRoot == "" {
			return fmt.Errorf("storage.local_root обязателен для backend=local")
		}
	case "s3", "r2":
		if cfg.Storage.AccessKey == "" || cfg.Storage.SecretKey == "" || cfg.Storage.Bucket == "" {
			return fmt.Errorf("AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY и AWS_STORAGE_BUCKET_NAME обязательны для backend=%s", cfg.Storage.Backend)
		}
		if cfg.Storage.Backend == "r2" && cfg.Storage.Endpoint == "" {
			return fmt.Errorf("AWS_S3_ENDPOINT_URL обязателен для backend=r2")
		}
	default:
		return fmt.Errorf("неизвестный STORAGE_BACKEND: %q (допустимо local, s3, r2)", cfg.Storage.Backend)
	}

	if cfg.InternalServiceToken == "" {
		return fmt.Errorf("INTERNAL_SERVICE_TOKEN не задан")
	}
	if cfg.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key не задан")
	}

	return nil
}

func SetupServer(serverAddress string) (*http.Server, *chi.Mux) {
	router := chi.NewRouter()
	server := &http.Server{
		Addr:    serverAddress,
		Handler: router,
	}

	return server, router
}

func SetupDatabase(dsn string) (*Database, error) {
	return NewDatabaseConnection("postgres", dsn)
}

func SetupRedis(cfg *RedisConfig) (*RedisClient, error) {
	return NewRedisClient(cfg)
}
