package config

import "fmt"

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir must not be empty")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.Federation.BatchSize <= 0 {
		return fmt.Errorf("federation.batch_size must be positive")
	}
	if len(cfg.Federation.Tiers) == 0 {
		return fmt.Errorf("federation.tiers must not be empty")
	}
	seen := make(map[uint64]bool, len(cfg.Federation.Tiers))
	for _, t := range cfg.Federation.Tiers {
		if t == 0 {
			return fmt.Errorf("federation.tiers must not contain zero")
		}
		if seen[t] {
			return fmt.Errorf("federation.tiers contains duplicate %d", t)
		}
		seen[t] = true
	}
	if cfg.Recovery.Gap == 0 {
		return fmt.Errorf("recovery.gap must be positive")
	}
	if cfg.Recovery.RetryInitialMs <= 0 || cfg.Recovery.RetryMaxMs < cfg.Recovery.RetryInitialMs {
		return fmt.Errorf("recovery retry bounds must satisfy 0 < initial <= max")
	}
	if cfg.Recovery.StallAfter <= 0 {
		return fmt.Errorf("recovery.stall_after must be positive")
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}
	return nil
}
