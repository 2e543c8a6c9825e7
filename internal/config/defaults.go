package config

import (
	"time"

	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]any {
	return map[string]any{
		"log_level":  "info",
		"port":       "8080",
		"db_path":    "dosekeeper.db",
		"ws_origins": []string{},
		"api": map[string]any{
			"base_url":   "",
			"standalone": true,
			"timeout":    15 * time.Second,
		},
		"engine": map[string]any{
			"tick_interval":  30 * time.Second,
			"due_tolerance":  60 * time.Second,
			"overdue_window": 24 * time.Hour,
		},
		"session": map[string]any{
			"refresh_timeout":  10 * time.Second,
			"refresh_cooldown": time.Minute,
			"verify_key":       "",
			"issuer":           "",
		},
		"vault": map[string]any{
			"passphrase": "",
		},
		"push": map[string]any{
			"vapid_public_key":  "",
			"vapid_private_key": "",
			"subscriber":        "",
			"ttl":               time.Hour,
			"queue":             64,
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}
