package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a node config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "datadir":
		cfg.DataDir = value

	// Federation
	case "federation.history_url":
		cfg.Federation.HistoryURL = value
	case "federation.tiers":
		tiers, err := parseUint64List(value)
		if err != nil {
			return err
		}
		cfg.Federation.Tiers = tiers
	case "federation.batch_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Federation.BatchSize = n

	// RPC
	case "rpc.enabled", "rpc":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.RPC.Enabled = b
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RPC.Port = n
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = splitList(value)

	// Recovery
	case "recovery.gap":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Recovery.Gap = n
	case "recovery.retry_initial_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Recovery.RetryInitialMs = n
	case "recovery.retry_max_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Recovery.RetryMaxMs = n
	case "recovery.stall_after":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Recovery.StallAfter = n

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Log.JSON = b

	default:
		return fmt.Errorf("unknown config key")
	}
	return nil
}

// splitList splits a comma-separated value into trimmed entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseUint64List parses a comma-separated list of unsigned integers.
func parseUint64List(value string) ([]uint64, error) {
	parts := splitList(value)
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tier %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
