package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/liamwears/reelstream/internal/logging"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: "postgres://localhost/reelstream"}.withDefaults()

	assert.Equal(t, int32(20), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, cfg.MaxConnIdleTime)
	assert.Equal(t, 5, cfg.ConnectAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay)

	custom := Config{MaxConns: 4, ConnectAttempts: 1, RetryDelay: time.Millisecond}.withDefaults()
	assert.Equal(t, int32(4), custom.MaxConns)
	assert.Equal(t, 1, custom.ConnectAttempts)
	assert.Equal(t, time.Millisecond, custom.RetryDelay)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{URL: "://not a url"}, logging.Discard())
	assert.ErrorContains(t, err, "unable to parse database URL")
}
