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
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverRabbitMQ, cfg.StreamDriver)
	assert.Equal(t, "auction.events", cfg.Exchange)
	assert.Equal(t, 1024, cfg.DedupWindow)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, cfg.APIURL, cfg.Inventory())
}

func TestLoad_EnvironmentAndDotenv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("MARKETPLACE_USER_ID=7\nMARKETPLACE_STREAM_DRIVER=nats\n"), 0o600))

	t.Setenv("MARKETPLACE_STREAM_DRIVER", "redis")
	t.Setenv("MARKETPLACE_INVENTORY_URL", "http://inventory:9000")
	t.Setenv("MARKETPLACE_CALL_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	// godotenv sets variables it loaded; clear them for other tests
	t.Cleanup(func() { _ = os.Unsetenv("MARKETPLACE_USER_ID") })

	assert.Equal(t, int64(7), cfg.UserID, "read from .env")
	assert.Equal(t, DriverRedis, cfg.StreamDriver, "process env wins over .env")
	assert.Equal(t, "http://inventory:9000", cfg.Inventory())
	assert.Equal(t, 3*time.Second, cfg.CallTimeout)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "user id", mutate: func(c *Config) { c.UserID = 1 }},
		{name: "token only", mutate: func(c *Config) { c.Token = "t" }},
		{name: "no identity", mutate: func(c *Config) {}, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.UserID = 1; c.StreamDriver = "kafka" }, wantErr: true},
		{name: "no api url", mutate: func(c *Config) { c.UserID = 1; c.APIURL = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{StreamDriver: DriverRabbitMQ, APIURL: "http://localhost:8080"}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
