package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the sharedrop CLI.
//
// Fields:
//   - ServerURL: base URL of the sharedrop HTTP API.
//   - Token: sender bearer token for uploads; retrieval works without it.
//   - LedgerPath: SQLite file that remembers unfinished uploads.
//   - Concurrency: files uploaded in parallel.
//   - AttemptTimeout: per-chunk attempt deadline.
type Config struct {
	ServerURL      string
	Token          string
	LedgerPath     string
	Concurrency    int
	AttemptTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://localhost:8080"
	c.Token = ""
	c.LedgerPath = defaultLedgerPath()
	c.Concurrency = 3
	c.AttemptTimeout = 25 * time.Second
}

// LoadConfig applies defaults and then the JSON file at path, if any.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path == "" {
		return cfg, nil
	}
	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultLedgerPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "sharedrop-ledger.db"
	}
	return filepath.Join(dir, "sharedrop", "ledger.db")
}
