package nodeconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestLoadWithNoFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	defer os.Chdir(old)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Media) != 1 || cfg.Media[0].Kind != "udp" {
		t.Fatalf("expected default single udp medium, got %+v", cfg.Media)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cyphal.yaml")
	contents := "node_id: 42\nlog:\n  level: debug\nmedia:\n  - kind: udp\n    bind: \"\"\n    tx_capacity: 16\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NodeID != 42 {
		t.Fatalf("expected node id 42, got %d", cfg.NodeID)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected log level debug, got %q", cfg.Log.Level)
	}
	if len(cfg.Media) != 1 || cfg.Media[0].TxCapacity != 16 {
		t.Fatalf("unexpected media config: %+v", cfg.Media)
	}
}

func TestLoadRejectsUnknownMediumKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cyphal.yaml")
	contents := "media:\n  - kind: quic\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an unknown medium kind to fail validation")
	}
}
