package config

// DefaultTiers is the standard power-of-two denomination set, in
// millisatoshis, used when the federation config does not override it.
func DefaultTiers() []uint64 {
	tiers := make([]uint64, 0, 20)
	for v := uint64(1); v <= 1<<19; v <<= 1 {
		tiers = append(tiers, v)
	}
	return tiers
}

// Default returns the default node configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Federation: FederationConfig{
			Tiers:     DefaultTiers(),
			BatchSize: 100,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8790,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Recovery: RecoveryConfig{
			Gap:            20,
			RetryInitialMs: 250,
			RetryMaxMs:     30_000,
			StallAfter:     5,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
