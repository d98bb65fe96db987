package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Tools.DefaultTimeout != 10*time.Second {
		t.Errorf("expected default tool timeout 10s, got %v", cfg.Tools.DefaultTimeout)
	}

	if cfg.Topic.SwitchBackWindow != 30*time.Minute {
		t.Errorf("expected switch-back window 30m, got %v", cfg.Topic.SwitchBackWindow)
	}

	if cfg.Quality.CacheThreshold != 0.7 {
		t.Errorf("expected cache threshold 0.7, got %v", cfg.Quality.CacheThreshold)
	}

	if cfg.Orchestrator.MinWrapLength != 50 {
		t.Errorf("expected min wrap length 50, got %d", cfg.Orchestrator.MinWrapLength)
	}

	for _, name := range []string{"coding", "research", "scheduling", "home", "finance", "personality", "image"} {
		if _, ok := cfg.Agents[name]; !ok {
			t.Errorf("expected agent %q in default config", name)
		}
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".concierge", "config.yaml")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	if cfg.Tools.DefaultTimeout != 10*time.Second {
		t.Errorf("expected default tool timeout after round trip, got %v", cfg.Tools.DefaultTimeout)
	}
	if cfg.Tools.Timeouts["web_search"] != 30*time.Second {
		t.Errorf("expected web_search timeout 30s, got %v", cfg.Tools.Timeouts["web_search"])
	}

	cfg2, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load existing config: %v", err)
	}
	if cfg2.Server.Addr != cfg.Server.Addr {
		t.Error("config values changed on reload")
	}
}

func TestLoadFromPath_PartialFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	partial := []byte("logging:\n  level: debug\nserver:\n  addr: 0.0.0.0:9000\n")
	if err := os.WriteFile(configPath, partial, 0644); err != nil {
		t.Fatalf("write partial config: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("expected addr override, got %s", cfg.Server.Addr)
	}
	if cfg.Tools.MaxParallel != 4 {
		t.Errorf("expected default max parallel to survive partial file, got %d", cfg.Tools.MaxParallel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown agent provider", func(c *Config) {
			c.Agents["coding"] = AgentModelConfig{Provider: "nope", Model: "x"}
		}, true},
		{"unknown fallback provider", func(c *Config) {
			c.Agents["coding"] = AgentModelConfig{Provider: "openai", Model: "x", Fallbacks: []ModelRef{{"nope", "y"}}}
		}, true},
		{"empty model", func(c *Config) {
			c.Agents["home"] = AgentModelConfig{Provider: "openai"}
		}, true},
		{"threshold out of range", func(c *Config) { c.Routing.ContinuityThreshold = 1.5 }, true},
		{"bad cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
