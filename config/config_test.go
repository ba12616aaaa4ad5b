package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_Validates(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestDefaultTiers_PowersOfTwo(t *testing.T) {
	tiers := DefaultTiers()
	if len(tiers) != 20 {
		t.Fatalf("got %d tiers, want 20", len(tiers))
	}
	for i, tier := range tiers {
		if tier != 1<<uint(i) {
			t.Errorf("tier[%d] = %d, want %d", i, tier, 1<<uint(i))
		}
	}
}

func TestLoadFile_ParsesAndSkipsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mintward.conf")
	content := `# comment
rpc.port = 9000

log.level = "debug"
federation.tiers = 1, 2, 4
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if values["rpc.port"] != "9000" {
		t.Errorf("rpc.port = %q, want %q", values["rpc.port"], "9000")
	}
	if values["log.level"] != "debug" {
		t.Errorf("log.level = %q, want %q (quotes stripped)", values["log.level"], "debug")
	}

	cfg := Default()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig() error: %v", err)
	}
	if cfg.RPC.Port != 9000 {
		t.Errorf("RPC.Port = %d, want 9000", cfg.RPC.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	want := []uint64{1, 2, 4}
	if len(cfg.Federation.Tiers) != len(want) {
		t.Fatalf("Tiers = %v, want %v", cfg.Federation.Tiers, want)
	}
	for i := range want {
		if cfg.Federation.Tiers[i] != want[i] {
			t.Errorf("Tiers[%d] = %d, want %d", i, cfg.Federation.Tiers[i], want[i])
		}
	}
}

func TestLoadFile_MissingIsEmpty(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("LoadFile() on missing file: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("got %d values, want 0", len(values))
	}
}

func TestApplyFileConfig_UnknownKey(t *testing.T) {
	cfg := Default()
	err := ApplyFileConfig(cfg, map[string]string{"bogus.key": "1"})
	if err == nil {
		t.Error("unknown config key should be rejected")
	}
}

func TestApplyFlags_OverridesFile(t *testing.T) {
	cfg := Default()
	cfg.RPC.Port = 9000

	flags, err := ParseFlags([]string{"-rpc-port", "9100", "-history-url", "http://guardian:8080"})
	if err != nil {
		t.Fatalf("ParseFlags() error: %v", err)
	}
	if err := ApplyFlags(cfg, flags); err != nil {
		t.Fatalf("ApplyFlags() error: %v", err)
	}
	if cfg.RPC.Port != 9100 {
		t.Errorf("RPC.Port = %d, want 9100 (flag wins)", cfg.RPC.Port)
	}
	if cfg.Federation.HistoryURL != "http://guardian:8080" {
		t.Errorf("HistoryURL = %q", cfg.Federation.HistoryURL)
	}
}

func TestValidate_RejectsBadTiers(t *testing.T) {
	cfg := Default()
	cfg.Federation.Tiers = []uint64{1, 2, 2}
	if err := Validate(cfg); err == nil {
		t.Error("duplicate tiers should be rejected")
	}

	cfg.Federation.Tiers = []uint64{0}
	if err := Validate(cfg); err == nil {
		t.Error("zero tier should be rejected")
	}

	cfg.Federation.Tiers = nil
	if err := Validate(cfg); err == nil {
		t.Error("empty tiers should be rejected")
	}
}

func TestValidate_RejectsBadRecovery(t *testing.T) {
	cfg := Default()
	cfg.Recovery.Gap = 0
	if err := Validate(cfg); err == nil {
		t.Error("zero gap should be rejected")
	}

	cfg = Default()
	cfg.Recovery.RetryMaxMs = cfg.Recovery.RetryInitialMs - 1
	if err := Validate(cfg); err == nil {
		t.Error("max retry below initial should be rejected")
	}
}
