package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/reelstream")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("CLOUDINARY_CLOUD_NAME", "demo")
	t.Setenv("CLOUDINARY_API_KEY", "key")
	t.Setenv("CLOUDINARY_API_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Server.Env)
	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, int64(3<<30), cfg.Upload.MaxBytes)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.JWTExpiry)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
	assert.Equal(t, 20, cfg.Database.MaxConns)
	assert.Equal(t, 5, cfg.Database.ConnectAttempts)
	assert.Equal(t, "text", cfg.LogFormat())
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("UPLOAD_MAX_BYTES", "1048576")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("JWT_EXPIRY", "15m")
	t.Setenv("DB_MAX_CONNS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, int64(1048576), cfg.Upload.MaxBytes)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 15*time.Minute, cfg.Auth.JWTExpiry)
	assert.Equal(t, 8, cfg.Database.MaxConns)
	assert.Equal(t, "json", cfg.LogFormat())
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		value string
		want  string
	}{
		{"database", "DATABASE_URL", "", "DATABASE_URL is required"},
		{"jwt", "JWT_SECRET", "", "JWT_SECRET is required"},
		{"short jwt", "JWT_SECRET", "short", "at least 32 characters"},
		{"cloudinary", "CLOUDINARY_API_SECRET", "", "CLOUDINARY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.unset, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
