package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator checks a loaded Config.
type Validator struct {
	config *Config
}

// NewValidator returns a Validator.
func NewValidator(config *Config) *Validator {
	return &Validator{config: config}
}

// Validate returns the first problem found in cfg.
func (v *Validator) Validate() error {
	var errors []string

	if err := v.validateServer(); err != nil {
		errors = append(errors, fmt.Sprintf("server: %v", err))
	}
	if err := v.validateRedis(); err != nil {
		errors = append(errors, fmt.Sprintf("redis: %v", err))
	}
	if err := v.validateEngine(); err != nil {
		errors = append(errors, fmt.Sprintf("engine: %v", err))
	}
	if err := v.validateProvider(); err != nil {
		errors = append(errors, fmt.Sprintf("provider: %v", err))
	}
	if err := v.validateSymbols(); err != nil {
		errors = append(errors, fmt.Sprintf("symbols: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("config validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

func (v *Validator) validateServer() error {
	if v.config.Server.Port <= 0 || v.config.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", v.config.Server.Port)
	}
	return nil
}

func (v *Validator) validateRedis() error {
	redis := v.config.Redis
	if redis.Memory {
		return nil
	}

	// host:port
	if !strings.Contains(redis.Addr, ":") {
		return fmt.Errorf("invalid redis address: %s", redis.Addr)
	}
	if redis.DB < 0 || redis.DB > 15 {
		return fmt.Errorf("invalid redis db: %d", redis.DB)
	}
	return nil
}

func (v *Validator) validateEngine() error {
	e := v.config.Engine

	if e.DueWindow >= e.CacheTTL {
		return fmt.Errorf("due_window (%s) must be shorter than cache_ttl (%s)", e.DueWindow, e.CacheTTL)
	}
	if e.StaleThreshold < e.SweepInterval {
		return fmt.Errorf("stale_threshold (%s) must not be shorter than sweep_interval (%s)", e.StaleThreshold, e.SweepInterval)
	}
	return nil
}

func (v *Validator) validateProvider() error {
	p := v.config.Provider

	switch p.Kind {
	case "realtime-equity":
		if p.Tiingo.APIKey == "" {
			return fmt.Errorf("tiingo api key is required for provider %q", p.Kind)
		}
	case "index-scrape", "disabled":
	default:
		return fmt.Errorf("unknown provider kind %q, valid: realtime-equity, index-scrape, disabled", p.Kind)
	}

	if p.Stream.Enabled && p.Stream.URL == "" {
		return fmt.Errorf("stream url is required when the stream is enabled")
	}
	if v.config.News.Enabled && p.Tiingo.APIKey == "" {
		return fmt.Errorf("tiingo api key is required when news is enabled")
	}
	return nil
}

func (v *Validator) validateSymbols() error {
	s := v.config.Symbols

	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(s.ReloadSchedule); err != nil {
		return fmt.Errorf("invalid reload_schedule %q: %w", s.ReloadSchedule, err)
	}

	switch s.Source {
	case "static":
	case "postgres":
		if !v.config.Database.Enabled {
			return fmt.Errorf("postgres symbol source requires database.enabled")
		}
	default:
		return fmt.Errorf("unknown symbol source %q", s.Source)
	}
	return nil
}
