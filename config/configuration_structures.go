package config

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig — конфигурация Storage Gateway.
// Backend выбирается один раз на процесс: local | s3 | r2.
type StorageConfig struct {
	Backend   string `yaml:"backend"`
	LocalRoot string `yaml:"local_root"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// ChunkSizeBytes — размер части multipart-загрузки (минимум 5 MiB для S3)
	ChunkSizeBytes int64 `yaml:"chunk_size_bytes"`
}

type JWTConfig struct {
	SecretKey      string `yaml:"secret_key"`
	AccessTokenTTL string `yaml:"access_token_ttl"`
}

// WorkerConfig — настройки пула воркеров.
type WorkerConfig struct {
	Count           int `yaml:"count"`
	DefaultTimeoutS int `yaml:"default_timeout_seconds"`
	AITimeoutS      int `yaml:"ai_timeout_seconds"`
	PollTimeoutS    int `yaml:"poll_timeout_seconds"`
	MaxRetries      int `yaml:"max_retries"`
}

// AntivirusConfig — подключение к ClamAV (clamd, протокол INSTREAM).
type AntivirusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	TimeoutS int    `yaml:"timeout_seconds"`
}

type TTL struct {
	SignedURLSeconds   int `yaml:"signed_url_seconds"`
	ReservationSeconds int `yaml:"reservation_seconds"`
	GuestFileSeconds   int `yaml:"guest_file_seconds"`
	JobRetentionDays   int `yaml:"job_retention_days"`
}
