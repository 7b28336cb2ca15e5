package config

import (
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		ChunkSeconds:      1,
		ChunkFormat:       "m4a",
		AssetRetryMax:     10,
		AssetRetryDelayMs: 500,
		WorkDir:           "media",
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk seconds", func(c *Config) { c.ChunkSeconds = 0 }},
		{"negative chunk seconds", func(c *Config) { c.ChunkSeconds = -1 }},
		{"zero retry max", func(c *Config) { c.AssetRetryMax = 0 }},
		{"zero retry delay", func(c *Config) { c.AssetRetryDelayMs = 0 }},
		{"empty chunk format", func(c *Config) { c.ChunkFormat = "" }},
	}
	for _, c := range cases {
		cfg := validConfig()
		c.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", c.name)
		}
	}
}

// 切分用的段长和调度用的分片时长必须来自同一个配置值
func TestChunkDurationDerivedFromChunkSeconds(t *testing.T) {
	cfg := validConfig()
	cfg.ChunkSeconds = 3
	if got := cfg.ChunkDurationMs(); got != 3000 {
		t.Fatalf("ChunkDurationMs = %d, want 3000", got)
	}
}

func TestTrackDir(t *testing.T) {
	cfg := validConfig()
	want := filepath.Join("media", "cfm_abc")
	if got := cfg.TrackDir("cfm_abc"); got != want {
		t.Fatalf("TrackDir = %s, want %s", got, want)
	}
}
