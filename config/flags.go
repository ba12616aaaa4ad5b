package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string

	// Federation
	HistoryURL string
	Tiers      string

	// RPC
	RPC        bool
	RPCAddr    string
	RPCPort    int
	RPCAllowed string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool
}

// ParseFlags parses command-line arguments.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("mintwardd", flag.ContinueOnError)

	fs.BoolVar(&f.Help, "help", false, "Show usage")
	fs.BoolVar(&f.Version, "version", false, "Print version and exit")

	fs.StringVar(&f.DataDir, "datadir", "", "Data directory (default: platform-specific)")
	fs.StringVar(&f.Config, "config", "", "Path to config file (default: <datadir>/mintward.conf)")

	fs.StringVar(&f.HistoryURL, "history-url", "", "Federation history endpoint URL")
	fs.StringVar(&f.Tiers, "tiers", "", "Comma-separated denomination tiers in msat")

	fs.BoolVar(&f.RPC, "rpc", true, "Enable the RPC server")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "RPC bind address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "RPC port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Comma-separated allowed client IPs/CIDRs")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogFile, "log-file", "", "Also write JSON logs to this file")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Emit JSON logs on stdout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.Help {
		fs.SetOutput(os.Stdout)
		fs.PrintDefaults()
	}
	return f, nil
}

// ApplyFlags overlays parsed flags onto a Config. Flags win over the
// config file, which wins over defaults.
func ApplyFlags(cfg *Config, f *Flags) error {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.HistoryURL != "" {
		cfg.Federation.HistoryURL = f.HistoryURL
	}
	if f.Tiers != "" {
		tiers, err := parseUint64List(f.Tiers)
		if err != nil {
			return fmt.Errorf("invalid -tiers: %w", err)
		}
		cfg.Federation.Tiers = tiers
	}
	cfg.RPC.Enabled = f.RPC
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = splitList(f.RPCAllowed)
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.LogJSON {
		cfg.Log.JSON = true
	}
	return nil
}

// Load builds the runtime config from defaults, the config file, and
// command-line flags, in increasing precedence. Help and version exit
// the process directly.
func Load() (*Config, *Flags, error) {
	flags, err := ParseFlags(os.Args[1:])
	if err != nil {
		return nil, nil, err
	}
	if flags.Help {
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("mintwardd version 0.1.0")
		os.Exit(0)
	}

	cfg := Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = filepath.Join(cfg.DataDir, "mintward.conf")
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}
	if err := ApplyFlags(cfg, flags); err != nil {
		return nil, nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, flags, nil
}
