package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir+"/data")
	t.Setenv("LOG_DIR", dir+"/logs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.ContextBudget != 4000 {
		t.Fatalf("expected budget 4000, got %d", cfg.ContextBudget)
	}
	if cfg.GenerationTimeout != 20*time.Second {
		t.Fatalf("expected 20s timeout, got %s", cfg.GenerationTimeout)
	}
	if len(cfg.DirectorAliases) != 3 || cfg.DirectorAliases[1] != "dm" {
		t.Fatalf("unexpected director aliases: %v", cfg.DirectorAliases)
	}
	if cfg.Persistence != PersistenceSQLite {
		t.Fatalf("expected sqlite persistence, got %s", cfg.Persistence)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_DIR", dir)
	t.Setenv("MAX_ACTORS_PER_ROUND", "5")
	t.Setenv("DIRECTOR_ALIASES", "gm,keeper")
	t.Setenv("GENERATION_TIMEOUT", "3s")
	t.Setenv("PERSISTENCE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxActorsPerRound != 5 {
		t.Fatalf("expected 5 actors, got %d", cfg.MaxActorsPerRound)
	}
	if len(cfg.DirectorAliases) != 2 || cfg.DirectorAliases[0] != "gm" {
		t.Fatalf("unexpected aliases: %v", cfg.DirectorAliases)
	}
	if cfg.GenerationTimeout != 3*time.Second {
		t.Fatalf("expected 3s, got %s", cfg.GenerationTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(c *Config){
		"budget":      func(c *Config) { c.ContextBudget = 0 },
		"actors":      func(c *Config) { c.MaxActorsPerRound = -1 },
		"timeout":     func(c *Config) { c.GenerationTimeout = 0 },
		"prefix":      func(c *Config) { c.MentionPrefix = " " },
		"persistence": func(c *Config) { c.Persistence = "redis" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestGetCurrentConfigReturnsCopy(t *testing.T) {
	SetCurrentConfig(Defaults())
	defer SetCurrentConfig(nil)

	cfg := GetCurrentConfig()
	cfg.Port = "9999"
	cfg.DirectorAliases[0] = "changed"

	again := GetCurrentConfig()
	if again.Port != "8080" || again.DirectorAliases[0] != "director" {
		t.Fatalf("current config was mutated through a copy: %+v", again)
	}
}
