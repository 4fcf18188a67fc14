// Package database opens the optional Postgres that holds symbol reference
// data and applies its schema migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"

	"marketpulse/internal/config"
	"marketpulse/internal/logger"
)

// DB represents the database connection
type DB struct {
	*sql.DB
	config *Config
	log    logger.Logger
}

// Config represents database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpen         int
	MaxIdle         int
	Timeout         time.Duration
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MaxRetries      int
}

// FromConfig maps the database config section.
func FromConfig(cfg config.DatabaseConfig) *Config {
	return &Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
		MaxOpen:  cfg.MaxOpen,
		MaxIdle:  cfg.MaxIdle,
		Timeout:  cfg.Timeout,
	}
}

// PoolStats represents connection pool statistics
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

func (cfg *Config) applyDefaults() {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 10 // default max open connections
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 2 // default idle connections
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second // default connect timeout
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = time.Hour
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 15 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
}

// DSN returns the lib/pq connection string for cfg.
func (cfg *Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.DBName,
	}
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	q.Set("connect_timeout", fmt.Sprintf("%d", int(cfg.Timeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

// NewConnection opens the pool and pings it, retrying with a growing delay.
func NewConnection(ctx context.Context, cfg *Config, log logger.Logger) (*DB, error) {
	cfg.applyDefaults()
	log = logger.Component(log, "database")

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	var pingErr error
	for i := 0; i < cfg.MaxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		pingErr = db.PingContext(pingCtx)
		cancel()
		if pingErr == nil {
			break
		}

		log.Warn("Database ping failed", "attempt", i+1, "max_attempts", cfg.MaxRetries, "error", pingErr)
		if i < cfg.MaxRetries-1 {
			select {
			case <-ctx.Done():
				db.Close()
				return nil, ctx.Err()
			case <-time.After(time.Second * time.Duration(i+1)): // linear backoff
			}
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %q at %s:%d after %d attempts: %w",
			cfg.DBName, cfg.Host, cfg.Port, cfg.MaxRetries, pingErr)
	}

	log.Info("Database connection established", "host", cfg.Host, "dbname", cfg.DBName, "max_open", cfg.MaxOpen)
	return &DB{DB: db, config: cfg, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// GetPoolStats returns current connection pool statistics
func (db *DB) GetPoolStats() PoolStats {
	stats := db.DB.Stats()
	return PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}
