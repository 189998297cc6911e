// Package config loads runtime configuration for the sharedrop client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file given with -c/--config.
//  3. Command-line flags of the kong command tree, applied by the CLI.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "25s" or
// integer nanoseconds:
//
//	{
//	  "server_url": "https://share.example.com",
//	  "token": "<bearer token>",
//	  "ledger_path": "/home/me/.sharedrop/ledger.db",
//	  "concurrency": 3,
//	  "attempt_timeout": "25s"
//	}
package config
