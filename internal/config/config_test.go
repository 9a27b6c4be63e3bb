package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Session.TimeoutMS != 30000 {
		t.Fatalf("expected 30s session timeout, got %d", cfg.Session.TimeoutMS)
	}
	if cfg.Delivery.RestoreDelayMS != 500 {
		t.Fatalf("expected 500ms restore delay, got %d", cfg.Delivery.RestoreDelayMS)
	}
	s := cfg.Audio.Silence
	if s.SampleThreshold != 300 || s.MinMeanAmplitude != 300 || s.MinPeakAmplitude != 1000 || s.MinNonSilentFraction != 0.10 {
		t.Fatalf("unexpected silence defaults %+v", s)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_DICTATE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_DICTATE_BUS_USERNAME", "alice")
	t.Setenv("LOQA_DICTATE_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_DICTATE_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_DICTATE_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_DICTATE_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_DICTATE_STORE_RETENTION_MODE", "session")
	t.Setenv("LOQA_DICTATE_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_DICTATE_STORE_MAX_TRANSCRIPTS", "123")
	t.Setenv("LOQA_DICTATE_SESSION_TIMEOUT_MS", "15000")
	t.Setenv("LOQA_DICTATE_TRANSFORM_TEMPERATURE", "0.5")
	t.Setenv("LOQA_DICTATE_TARGET_LANGUAGE", "de")
	t.Setenv("LOQA_DICTATE_DELIVERY_STRATEGY", "keystrokes")
	t.Setenv("LOQA_DICTATE_CONTEXT_TIE_BREAK", "most_specific")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Store.Path != "./tmp.db" || cfg.Store.RetentionMode != "session" {
		t.Fatalf("expected store overrides, got %+v", cfg.Store)
	}
	if cfg.Store.RetentionDays != 7 || cfg.Store.MaxTranscripts != 123 {
		t.Fatalf("expected retention overrides, got %+v", cfg.Store)
	}
	if cfg.Session.TimeoutMS != 15000 {
		t.Fatalf("expected session timeout override")
	}
	if cfg.Transform.Temperature != 0.5 || cfg.Transform.TargetLanguage != "de" {
		t.Fatalf("expected transform overrides, got %+v", cfg.Transform)
	}
	if cfg.Delivery.Strategy != "keystrokes" {
		t.Fatalf("expected delivery strategy override")
	}
	if cfg.Context.TieBreak != "most_specific" {
		t.Fatalf("expected tie break override")
	}
}

func TestLoadFileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
transform:
  mode: ollama
  model: qwen2.5:7b
delivery:
  restore_delay_ms: 250
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transform.Mode != "ollama" || cfg.Transform.Model != "qwen2.5:7b" {
		t.Fatalf("unexpected transform config %+v", cfg.Transform)
	}
	if cfg.Transform.Endpoint != "http://localhost:11434" {
		t.Fatalf("expected default endpoint retained, got %q", cfg.Transform.Endpoint)
	}
	if cfg.Delivery.RestoreDelayMS != 250 {
		t.Fatalf("expected restore delay from file, got %d", cfg.Delivery.RestoreDelayMS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad transform mode":    func(c *Config) { c.Transform.Mode = "magic" },
		"exec without command":  func(c *Config) { c.Transform.Mode = "exec" },
		"custom without text":   func(c *Config) { c.Transform.InstructionMode = "custom" },
		"bad tie break":         func(c *Config) { c.Context.TieBreak = "random" },
		"bad strategy":          func(c *Config) { c.Delivery.Strategy = "carrier-pigeon" },
		"negative restore":      func(c *Config) { c.Delivery.RestoreDelayMS = -1 },
		"bus transform no bus":  func(c *Config) { c.Bus.Enabled = false; c.Notify.Bus = false; c.Transform.Mode = "bus" },
		"command without cmds":  func(c *Config) { c.Platform.Force = "command" },
		"zero session timeout":  func(c *Config) { c.Session.TimeoutMS = 0 },
		"fraction out of range": func(c *Config) { c.Audio.Silence.MinNonSilentFraction = 1.5 },
		"bad retention":         func(c *Config) { c.Store.RetentionMode = "forever" },
		"serve over bus":        func(c *Config) { c.Transform.Serve = true; c.Transform.Mode = "bus" },
		"empty node id":         func(c *Config) { c.Node.ID = "" },
		"heartbeat too slow":    func(c *Config) { c.Node.HeartbeatTimeoutMS = c.Node.HeartbeatIntervalMS },
	}
	for name, mutate := range cases {
		name, mutate := name, mutate
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestEphemeralStoreAllowsEmptyPath(t *testing.T) {
	cfg := Default()
	cfg.Store.RetentionMode = "ephemeral"
	cfg.Store.Path = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
