package database

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/config"
	"marketpulse/internal/logger"
)

func TestDSN(t *testing.T) {
	cfg := FromConfig(config.DatabaseConfig{
		User:     "market",
		Password: "p@ss word",
		DBName:   "marketpulse",
	})
	cfg.applyDefaults()

	u, err := url.Parse(cfg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "localhost:5432", u.Host)
	assert.Equal(t, "/marketpulse", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "5", u.Query().Get("connect_timeout"))
	assert.Equal(t, 10, cfg.MaxOpen)
}

func TestNewConnectionFailsFast(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 1, DBName: "none", Timeout: time.Second, MaxRetries: 1}
	_, err := NewConnection(context.Background(), cfg, logger.Discard())
	assert.Error(t, err)
}

// TestMigrations runs against a real database when one is configured.
func TestMigrations(t *testing.T) {
	if os.Getenv("MARKETPULSE_TEST_DB_HOST") == "" {
		t.Skip("MARKETPULSE_TEST_DB_HOST not set")
	}
	cfg := &Config{
		Host:     os.Getenv("MARKETPULSE_TEST_DB_HOST"),
		User:     os.Getenv("MARKETPULSE_TEST_DB_USER"),
		Password: os.Getenv("MARKETPULSE_TEST_DB_PASSWORD"),
		DBName:   os.Getenv("MARKETPULSE_TEST_DB_NAME"),
	}

	db, err := NewConnection(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer db.Close()

	m, err := NewMigrator(db, "../../migrations")
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Up())
	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.NoError(t, db.HealthCheck(context.Background()))
}
