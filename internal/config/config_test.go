package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Donation.ChunkSize != 250000 {
		t.Fatalf("unexpected chunk size %d", cfg.Donation.ChunkSize)
	}
	if len(cfg.Platforms) != 2 {
		t.Fatalf("unexpected platforms %v", cfg.Platforms)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	doc := []byte(`
server:
  addr: "0.0.0.0:9000"
donation:
  chunk_size: 100
  match_threshold: 0.5
platforms:
  - tiktok
webhooks:
  - url: "https://example.com/hook"
    secret: "s"
`)
	if err := os.WriteFile(filepath.Join(dir, "portside.yml"), doc, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Donation.ChunkSize != 100 || cfg.Donation.MatchThreshold != 0.5 {
		t.Fatalf("unexpected donation settings %+v", cfg.Donation)
	}
	if len(cfg.Platforms) != 1 || cfg.Platforms[0] != "tiktok" {
		t.Fatalf("unexpected platforms %v", cfg.Platforms)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL != "https://example.com/hook" {
		t.Fatalf("unexpected webhooks %+v", cfg.Webhooks)
	}
	// base path keeps its default when the document omits it
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("unexpected base path %q", cfg.Server.BasePath)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero chunk size", func(c *Config) { c.Donation.ChunkSize = 0 }},
		{"threshold above one", func(c *Config) { c.Donation.MatchThreshold = 1.5 }},
		{"no platforms", func(c *Config) { c.Platforms = nil }},
		{"unknown platform", func(c *Config) { c.Platforms = []string{"myspace"} }},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{Secret: "s"}} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
