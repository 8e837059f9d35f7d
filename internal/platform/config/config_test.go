package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"MONGO_URI", "MONGO_DB", "UPLOAD_INACTIVITY_WINDOW", "LOG_FORMAT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultMongoURI, cfg.Mongo.URI)
	assert.Equal(t, "Verba", cfg.Mongo.Database)
	assert.Equal(t, "chunked_documents", cfg.Mongo.DocumentsCollection)
	assert.Equal(t, "gpttopics", cfg.Mongo.TopicsCollection)
	assert.Equal(t, "logs", cfg.Mongo.LogsCollection)
	assert.Equal(t, 5*time.Minute, cfg.Upload.InactivityWindow)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://db.internal:27017/?retryWrites=true")
	t.Setenv("MONGO_DB", "kh")
	t.Setenv("UPLOAD_INACTIVITY_WINDOW", "45s")
	t.Setenv("UPLOAD_SHARDS", "8")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db.internal:27017/?retryWrites=true", cfg.Mongo.URI)
	assert.Equal(t, "kh", cfg.Mongo.Database)
	assert.Equal(t, 45*time.Second, cfg.Upload.InactivityWindow)
	assert.Equal(t, 8, cfg.Upload.Shards)
}

func TestLoad_EnvFile(t *testing.T) {
	// godotenv.Load は既存の環境変数を上書きしないため、一度未設定にする
	t.Setenv("MONGO_DB", "")
	require.NoError(t, os.Unsetenv("MONGO_DB"))
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MONGO_DB=from_file\n"), 0o600))

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from_file", cfg.Mongo.Database)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("UPLOAD_INACTIVITY_WINDOW", "soon")
	t.Setenv("UPLOAD_SHARDS", "many")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Upload.InactivityWindow)
	assert.Equal(t, 32, cfg.Upload.Shards)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("UPLOAD_SHARDS", "0")

	cfg, err := Load("")
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "UPLOAD_SHARDS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty database", func(c *Config) { c.Mongo.Database = "" }, "MONGO_DB"},
		{"empty collection", func(c *Config) { c.Mongo.LogsCollection = "" }, "collection names"},
		{"zero window", func(c *Config) { c.Upload.InactivityWindow = 0 }, "UPLOAD_INACTIVITY_WINDOW"},
		{"negative shards", func(c *Config) { c.Upload.Shards = -1 }, "UPLOAD_SHARDS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Mongo: MongoConfig{
					Database:            "Verba",
					DocumentsCollection: "chunked_documents",
					TopicsCollection:    "gpttopics",
					LogsCollection:      "logs",
				},
				Upload: UploadConfig{InactivityWindow: time.Minute, SweepInterval: time.Second, Shards: 4},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
