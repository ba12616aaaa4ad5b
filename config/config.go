// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Federation parameters: must match the federation the wallet joined
//   - Node settings: runtime configuration, can vary per installation
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config holds runtime configuration for a mintward node.
type Config struct {
	// Core
	DataDir string `conf:"datadir"`

	// Federation connection parameters
	Federation FederationConfig

	// RPC server
	RPC RPCConfig

	// Recovery tuning
	Recovery RecoveryConfig

	// Logging
	Log LogConfig
}

// FederationConfig describes the federation the wallet talks to.
type FederationConfig struct {
	// HistoryURL is the guardian endpoint serving the issuance history log.
	HistoryURL string `conf:"federation.history_url"`
	// Tiers is the federation's denomination set in millisatoshis.
	Tiers []uint64 `conf:"federation.tiers"`
	// BatchSize is the number of history entries requested per page.
	BatchSize int `conf:"federation.batch_size"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled    bool     `conf:"rpc.enabled"`
	Addr       string   `conf:"rpc.addr"`
	Port       int      `conf:"rpc.port"`
	AllowedIPs []string `conf:"rpc.allowed"`
}

// RecoveryConfig tunes the history replay. The backoff policy and stall
// threshold are operator policy, not protocol.
type RecoveryConfig struct {
	// Gap is the per-denomination nonce lookahead window.
	Gap uint64 `conf:"recovery.gap"`
	// RetryInitialMs and RetryMaxMs bound the fetch backoff.
	RetryInitialMs int `conf:"recovery.retry_initial_ms"`
	RetryMaxMs     int `conf:"recovery.retry_max_ms"`
	// StallAfter is the number of consecutive history fetch failures
	// before recovery reports a stalled status.
	StallAfter int `conf:"recovery.stall_after"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mintward"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Mintward")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Mintward")
		}
		return filepath.Join(home, "Mintward")
	default:
		return filepath.Join(home, ".mintward")
	}
}
