package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/sharedrop/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Empty fields
// keep the value already in Config.
type JsonConfig struct {
	ServerURL      string         `json:"server_url"`
	Token          string         `json:"token"`
	LedgerPath     string         `json:"ledger_path"`
	Concurrency    int            `json:"concurrency"`
	AttemptTimeout timex.Duration `json:"attempt_timeout"`
}

func parseJson(cfg *Config, path string) error {
	var jc JsonConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.Token != "" {
		cfg.Token = jc.Token
	}
	if jc.LedgerPath != "" {
		cfg.LedgerPath = jc.LedgerPath
	}
	if jc.Concurrency > 0 {
		cfg.Concurrency = jc.Concurrency
	}
	if jc.AttemptTimeout.Duration > 0 {
		cfg.AttemptTimeout = jc.AttemptTimeout.Duration
	}
	return nil
}
