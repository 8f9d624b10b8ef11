// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTestCmd(t *testing.T, configPath string) *cobra.Command {
	t.Helper()
	viper.Reset()
	cmd := &cobra.Command{Use: "test"}
	BindFlags(cmd)
	if configPath != "" {
		cmd.Flags().Set("config", configPath)
	}
	return cmd
}

func TestLoadAppliesDefaultsWithoutConfigFile(t *testing.T) {
	cmd := newTestCmd(t, filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Worker.MaxConcurrentScans != 4 {
		t.Errorf("expected default max concurrent scans 4, got %d", cfg.Worker.MaxConcurrentScans)
	}
	if cfg.Breaker.ConsecutiveFailures != 5 {
		t.Errorf("expected default breaker threshold 5, got %d", cfg.Breaker.ConsecutiveFailures)
	}
}

func TestLoadParsesPoolsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	contents := `
pools:
  - name: default
    instances:
      - id: a
        base_url: http://nessus-a:8834
        max_concurrent: 4
      - id: b
        base_url: http://nessus-b:8834
        max_concurrent: 2
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cmd := newTestCmd(t, path)
	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Pools) != 1 || len(cfg.Pools[0].Instances) != 2 {
		t.Fatalf("expected 1 pool with 2 instances, got %+v", cfg.Pools)
	}
	if cfg.Pools[0].Instances[1].MaxConcurrent != 2 {
		t.Errorf("expected second instance max_concurrent 2, got %d", cfg.Pools[0].Instances[1].MaxConcurrent)
	}

	rp := cfg.RegistryPools()
	if rp[0].Instances[0].Pool != "default" {
		t.Errorf("expected projected instance to inherit pool name, got %s", rp[0].Instances[0].Pool)
	}
	if !rp[0].Instances[0].Enabled {
		t.Error("expected an instance with no enabled key to default to enabled")
	}
}

func TestLoadRespectsExplicitlyDisabledInstance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	contents := `
pools:
  - name: default
    instances:
      - id: a
        base_url: http://nessus-a:8834
        max_concurrent: 4
        enabled: false
        verify_tls: true
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cmd := newTestCmd(t, path)
	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	rp := cfg.RegistryPools()
	if rp[0].Instances[0].Enabled {
		t.Error("expected enabled: false to be respected")
	}
	if !rp[0].Instances[0].VerifyTLS {
		t.Error("expected verify_tls: true to be respected")
	}
}
