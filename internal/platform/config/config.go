package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// MongoDB設定
	Mongo MongoConfig

	// 分割アップロードの再構成設定
	Upload UploadConfig

	// 監査ログ設定
	Audit AuditConfig

	// ログ出力設定
	Log LogConfig
}

// MongoConfig はドキュメントストアへの接続設定
type MongoConfig struct {
	URI                 string
	Database            string
	DocumentsCollection string
	TopicsCollection    string
	LogsCollection      string
	ConnectTimeout      time.Duration
}

// UploadConfig は分割アップロード再構成の設定
type UploadConfig struct {
	InactivityWindow time.Duration // この期間フラグメントが届かない転送は破棄される
	SweepInterval    time.Duration
	Shards           int
}

// AuditConfig は監査ログ書き込みの設定
type AuditConfig struct {
	// 1件の書き込みの上限時間。書き込みは同期的に行われるため、ストア停止中は
	// 監査対象の操作（upload ではフラグメントごと）がそれぞれ最大この時間待つ。
	WriteTimeout time.Duration
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// DefaultMongoURI は MONGO_URI 未設定時の接続先
const DefaultMongoURI = "mongodb://localhost:27017/"

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Mongo: MongoConfig{
			URI:                 MongoURI(),
			Database:            getEnv("MONGO_DB", "Verba"),
			DocumentsCollection: getEnv("MONGO_DOCUMENTS_COLLECTION", "chunked_documents"),
			TopicsCollection:    getEnv("MONGO_TOPICS_COLLECTION", "gpttopics"),
			LogsCollection:      getEnv("MONGO_LOGS_COLLECTION", "logs"),
			ConnectTimeout:      getEnvAsDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second),
		},
		Upload: UploadConfig{
			InactivityWindow: getEnvAsDuration("UPLOAD_INACTIVITY_WINDOW", 5*time.Minute),
			SweepInterval:    getEnvAsDuration("UPLOAD_SWEEP_INTERVAL", 30*time.Second),
			Shards:           getEnvAsInt("UPLOAD_SHARDS", 32),
		},
		Audit: AuditConfig{
			WriteTimeout: getEnvAsDuration("AUDIT_WRITE_TIMEOUT", 5*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MongoURI は MONGO_URI から接続文字列を解決します。
// 文字列の妥当性はここでは検証せず、ドライバに委ねます。
func MongoURI() string {
	return getEnv("MONGO_URI", DefaultMongoURI)
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	if c.Mongo.Database == "" {
		return fmt.Errorf("MONGO_DB must not be empty")
	}
	if c.Mongo.DocumentsCollection == "" || c.Mongo.TopicsCollection == "" || c.Mongo.LogsCollection == "" {
		return fmt.Errorf("collection names must not be empty")
	}
	if c.Upload.InactivityWindow <= 0 {
		return fmt.Errorf("UPLOAD_INACTIVITY_WINDOW must be positive: %s", c.Upload.InactivityWindow)
	}
	if c.Upload.SweepInterval <= 0 {
		return fmt.Errorf("UPLOAD_SWEEP_INTERVAL must be positive: %s", c.Upload.SweepInterval)
	}
	if c.Upload.Shards <= 0 {
		return fmt.Errorf("UPLOAD_SHARDS must be positive: %d", c.Upload.Shards)
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "30s", "5m"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
