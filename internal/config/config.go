// Package config loads runtime settings from defaults, an optional YAML file
// and DOSEKEEPER_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. A double underscore separates
// nesting levels: DOSEKEEPER_ENGINE__TICK_INTERVAL sets engine.tick_interval.
const EnvPrefix = "DOSEKEEPER_"

type Config struct {
	LogLevel  string        `koanf:"log_level"`
	Port      string        `koanf:"port"`
	DBPath    string        `koanf:"db_path"`
	WSOrigins []string      `koanf:"ws_origins"`
	API       APIConfig     `koanf:"api"`
	Engine    EngineConfig  `koanf:"engine"`
	Session   SessionConfig `koanf:"session"`
	Vault     VaultConfig   `koanf:"vault"`
	Push      PushConfig    `koanf:"push"`
}

type APIConfig struct {
	BaseURL string `koanf:"base_url"`
	// Standalone routes standalone reminders through the backend too. When
	// false, or when no base URL is set, they live only in the local store.
	Standalone bool          `koanf:"standalone"`
	Timeout    time.Duration `koanf:"timeout"`
}

type EngineConfig struct {
	TickInterval  time.Duration `koanf:"tick_interval"`
	DueTolerance  time.Duration `koanf:"due_tolerance"`
	OverdueWindow time.Duration `koanf:"overdue_window"`
}

type SessionConfig struct {
	RefreshTimeout  time.Duration `koanf:"refresh_timeout"`
	RefreshCooldown time.Duration `koanf:"refresh_cooldown"`
	VerifyKey       string        `koanf:"verify_key"`
	Issuer          string        `koanf:"issuer"`
}

type VaultConfig struct {
	Passphrase string `koanf:"passphrase"`
}

type PushConfig struct {
	VAPIDPublicKey  string        `koanf:"vapid_public_key"`
	VAPIDPrivateKey string        `koanf:"vapid_private_key"`
	Subscriber      string        `koanf:"subscriber"`
	TTL             time.Duration `koanf:"ttl"`
	Queue           int           `koanf:"queue"`
}

// Load reads configuration. A missing file at configPath is not an error.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"engine.tick_interval", c.Engine.TickInterval},
		{"engine.due_tolerance", c.Engine.DueTolerance},
		{"engine.overdue_window", c.Engine.OverdueWindow},
		{"session.refresh_timeout", c.Session.RefreshTimeout},
		{"api.timeout", c.API.Timeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.Engine.DueTolerance >= c.Engine.OverdueWindow {
		errs = append(errs, errors.New("engine.due_tolerance must be shorter than engine.overdue_window"))
	}
	if c.Session.RefreshCooldown < 0 {
		errs = append(errs, errors.New("session.refresh_cooldown must not be negative"))
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("push.vapid_public_key and push.vapid_private_key must be set together"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	return errors.Join(errs...)
}

// LinkedEnabled reports whether a backend is configured at all.
func (c *Config) LinkedEnabled() bool {
	return c.API.BaseURL != ""
}

// StandaloneRemote reports whether standalone reminders use the backend.
func (c *Config) StandaloneRemote() bool {
	return c.API.BaseURL != "" && c.API.Standalone
}
