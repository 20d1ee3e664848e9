package httpsession

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config configures a Manager
type Config struct {
	CookieName    string
	CookiePath    string
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Secure        bool
}

type fileConfig struct {
	CookieName    string `toml:"cookie_name"`
	CookiePath    string `toml:"cookie_path"`
	IdleTimeout   string `toml:"idle_timeout"`
	SweepInterval string `toml:"sweep_interval"`
	Secure        bool   `toml:"secure"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() Config {
	return Config{
		CookieName:    "GIOCSESSIONID",
		CookiePath:    "/",
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// LoadConfig reads a TOML file and overlays the keys it defines onto DefaultConfig
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load session config: %w", err)
	}

	if meta.IsDefined("cookie_name") {
		cfg.CookieName = strings.TrimSpace(raw.CookieName)
	}
	if meta.IsDefined("cookie_path") {
		cfg.CookiePath = strings.TrimSpace(raw.CookiePath)
	}
	if meta.IsDefined("idle_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IdleTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse idle_timeout: %w", err)
		}
		cfg.IdleTimeout = d
	}
	if meta.IsDefined("sweep_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SweepInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse sweep_interval: %w", err)
		}
		cfg.SweepInterval = d
	}
	if meta.IsDefined("secure") {
		cfg.Secure = raw.Secure
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("session config: unknown key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c Config) Validate() error {
	if c.CookieName == "" {
		return fmt.Errorf("session config missing cookie_name")
	}
	if !strings.HasPrefix(c.CookiePath, "/") {
		return fmt.Errorf("session config cookie_path must start with /: %q", c.CookiePath)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("session config idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("session config sweep_interval must be positive, got %s", c.SweepInterval)
	}
	return nil
}
