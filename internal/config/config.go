// Package config は環境変数からサーバーの設定を読み込む
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// ストレージの種類
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config はサーバーの設定
type Config struct {
	Port        string `env:"PORT,default=8000"`
	StorageType string `env:"STORAGE_TYPE,default=memory"`

	// DATABASE_URLが無ければDB_*から組み立てる（ECS + Secrets Manager対応）
	DatabaseURL string `env:"DATABASE_URL"`
	DBHost      string `env:"DB_HOST"`
	DBPort      string `env:"DB_PORT,default=5432"`
	DBUsername  string `env:"DB_USERNAME"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBName      string `env:"DB_NAME"`

	// 空ならオブジェクトストレージはインメモリ
	BlobPath      string `env:"BLOB_PATH"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	// 空ならキャッシュはプロセス内
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	CacheTTL      time.Duration `env:"CACHE_TTL,default=5m"`

	JWTSecret       string        `env:"JWT_SECRET,required=true"`
	IDTokenTTL      time.Duration `env:"ID_TOKEN_TTL,default=1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL,default=720h"`

	AdminKey       string        `env:"ADMIN_KEY"`
	LogLevel       string        `env:"LOG_LEVEL,default=INFO"`
	CORSOrigins    string        `env:"CORS_ORIGINS,default=*"`
	SeedCatalog    string        `env:"SEED_CATALOG"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES,default=10485760"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE,default=10s"`
}

// Load は.envがあれば読み込んでから環境変数を解釈する
func Load() (Config, error) {
	_ = godotenv.Load()
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return Parse(es)
}

// Parse は環境変数の集合から設定を作る
func Parse(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	cfg.StorageType = strings.ToLower(strings.TrimSpace(cfg.StorageType))
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageType {
	case StorageMemory:
	case StoragePostgres:
		if _, err := c.DatabaseDSN(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.StorageType)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if c.IDTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	return nil
}

// DatabaseDSN はPostgreSQLの接続文字列を返す
func (c Config) DatabaseDSN() (string, error) {
	if c.DatabaseURL != "" {
		return c.DatabaseURL, nil
	}
	if c.DBHost == "" || c.DBUsername == "" || c.DBPassword == "" || c.DBName == "" {
		return "", errors.New("DATABASE_URL or DB_HOST/DB_USERNAME/DB_PASSWORD/DB_NAME is required when STORAGE_TYPE=postgres")
	}
	port := c.DBPort
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + port,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=require",
	}
	return u.String(), nil
}

// Addr は待ち受けアドレス
func (c Config) Addr() string {
	return ":" + c.Port
}

// BaseURL はファイルのダウンロードURLに使う公開URL
func (c Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return strings.TrimRight(c.PublicBaseURL, "/")
	}
	return "http://localhost:" + c.Port
}
