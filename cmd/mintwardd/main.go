// Mintward wallet daemon.
//
// Usage:
//
//	mintwardd [--datadir=... --history-url=...] Run daemon
//	mintwardd --help                            Show help
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mintward/mintward/config"
	"github.com/mintward/mintward/internal/client"
	klog "github.com/mintward/mintward/internal/log"
	"github.com/mintward/mintward/internal/recovery"
	"github.com/mintward/mintward/internal/rpc"
	"github.com/mintward/mintward/pkg/types"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	registry, err := client.NewRegistry(cfg.DataDir)
	if err != nil {
		klog.Client.Error().Err(err).Msg("failed to initialize wallet registry")
		os.Exit(1)
	}

	opts := openOptions(cfg)

	if !cfg.RPC.Enabled {
		klog.RPC.Error().Msg("RPC is disabled; nothing to serve")
		os.Exit(1)
	}

	addr := net.JoinHostPort(cfg.RPC.Addr, strconv.Itoa(cfg.RPC.Port))
	server := rpc.New(addr, registry, opts, cfg.RPC)
	if err := server.Start(); err != nil {
		klog.RPC.Error().Err(err).Msg("failed to start RPC server")
		os.Exit(1)
	}
	klog.RPC.Info().Str("addr", server.Addr()).Msg("RPC server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	klog.Client.Info().Msg("shutting down")
	server.Stop()
	registry.CloseAll()
}

// openOptions translates daemon config into wallet open options.
func openOptions(cfg *config.Config) client.Options {
	tiers := make([]types.Amount, len(cfg.Federation.Tiers))
	for i, t := range cfg.Federation.Tiers {
		tiers[i] = types.Amount(t)
	}
	opts := client.Options{
		Recovery: recovery.Config{
			Tiers:        tiers,
			Gap:          cfg.Recovery.Gap,
			RetryInitial: time.Duration(cfg.Recovery.RetryInitialMs) * time.Millisecond,
			RetryMax:     time.Duration(cfg.Recovery.RetryMaxMs) * time.Millisecond,
			StallAfter:   cfg.Recovery.StallAfter,
		},
	}
	if cfg.Federation.HistoryURL != "" {
		opts.HistorySource = recovery.NewHTTPSource(cfg.Federation.HistoryURL, cfg.Federation.BatchSize)
	}
	return opts
}
