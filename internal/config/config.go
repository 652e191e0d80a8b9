// Package config loads the chat client configuration from a TOML file
// with environment overrides layered on top.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Defaults applied before the file and the environment are consulted.
const (
	DefaultAPIBaseURL      = "http://localhost:8000"
	DefaultDBPath          = "datopiachat.db"
	DefaultCredentialsPath = "credentials"
	DefaultLogDir          = "logs"
)

// Config holds application configuration.
type Config struct {
	// APIBaseURL is the root of the chat backend.
	APIBaseURL string `toml:"api_base_url"`
	// DBPath is the SQLite file mirroring session transcripts.
	DBPath string `toml:"db_path"`
	// CredentialsPath is the cookie-style file holding access_token.
	CredentialsPath string `toml:"credentials_path"`
	// CreditFeedURL is the optional WebSocket credit counter feed
	// (ws:// or wss://). Empty disables the feed.
	CreditFeedURL string `toml:"credit_feed_url"`
	// LogDir receives rotated logs, traces and metrics.
	LogDir string `toml:"log_dir"`
	Debug  bool   `toml:"debug"`
	// SessionID opens an existing session at startup. Flag-only, so it
	// carries no toml tag.
	SessionID string `toml:"-"`
}

// Load reads path when it exists and fills the rest from defaults and
// DATOPIA_* environment variables. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Config{
		APIBaseURL:      DefaultAPIBaseURL,
		DBPath:          DefaultDBPath,
		CredentialsPath: DefaultCredentialsPath,
		LogDir:          DefaultLogDir,
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATOPIA_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("DATOPIA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DATOPIA_CREDENTIALS"); v != "" {
		cfg.CredentialsPath = v
	}
	if v := os.Getenv("DATOPIA_CREDIT_FEED_URL"); v != "" {
		cfg.CreditFeedURL = v
	}
	if v := os.Getenv("DATOPIA_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("DATOPIA_DEBUG"); v == "1" || v == "true" {
		cfg.Debug = true
	}
}
