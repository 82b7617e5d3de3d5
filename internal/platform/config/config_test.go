package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PRODUCER_SECRET", "producer-secret-0123456789")
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORAGE_BACKEND", "local")
	t.Setenv("RATE_LIMIT_MODE", "enforce")
}

func TestLoad_AllRequiredVarsSet(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "producer-secret-0123456789", cfg.ProducerSecret)
	assert.Equal(t, "local", cfg.StorageBackend)
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.RateLimitMax)
	assert.Equal(t, time.Hour, cfg.RateLimitWindow)
	assert.False(t, cfg.RateLimitCountBlocked)
	assert.True(t, cfg.RateLimitRecordBlocked)
	assert.False(t, cfg.WarnOnRateLimit())
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 100, cfg.ReplayLimit)
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
}

func TestLoad_MissingProducerSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRODUCER_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, "PRODUCER_SECRET is required", err.Error())
}

func TestLoad_ShortProducerSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRODUCER_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 16 characters")
}

func TestLoad_WarnMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_MODE", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.WarnOnRateLimit())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"unknown rate limit mode", "RATE_LIMIT_MODE", "ignore", "RATE_LIMIT_MODE must be enforce or warn"},
		{"zero rate limit", "RATE_LIMIT_MAX", "0", "RATE_LIMIT_MAX must be at least 1"},
		{"sub-second window", "RATE_LIMIT_WINDOW", "10ms", "RATE_LIMIT_WINDOW must be at least 1s"},
		{"window over a year", "RATE_LIMIT_WINDOW", "9000h", "RATE_LIMIT_WINDOW must be at most 8760h"},
		{"unknown storage backend", "STORAGE_BACKEND", "ftp", "STORAGE_BACKEND must be local or s3"},
		{"s3 without endpoint", "STORAGE_BACKEND", "s3", "is required for the s3 storage backend"},
		{"zero replay limit", "REPLAY_LIMIT", "0", "REPLAY_LIMIT must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ProductionRequiresAdminPassword(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("ADMIN_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_PASSWORD is required in production")

	t.Setenv("ADMIN_PASSWORD", "correct horse battery staple")
	_, err = Load()
	require.NoError(t, err)
}

func TestLoad_S3Backend(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_ENDPOINT", "localhost:9000")
	t.Setenv("S3_BUCKET", "stickers")
	t.Setenv("S3_ACCESS_KEY", "minio")
	t.Setenv("S3_SECRET_KEY", "minio-secret")
	t.Setenv("S3_USE_SSL", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "stickers", cfg.S3Bucket)
	assert.False(t, cfg.S3UseSSL)
}
