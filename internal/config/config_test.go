package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Platform.MaxMilestones != 5 || cfg.Platform.MaxRevisions != 3 || cfg.Platform.PassingScore != 70 {
		t.Fatalf("unexpected platform defaults %+v", cfg.Platform)
	}
	if cfg.Platform.Majority() != 2 {
		t.Fatalf("3 arbitrators need a majority of 2, got %d", cfg.Platform.Majority())
	}
	if cfg.Admin().IsZero() {
		t.Fatalf("admin should be set")
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("platform:\n  max_revisions: 1\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Platform.MaxRevisions != 1 {
		t.Fatalf("override not applied")
	}
	if cfg.Platform.MaxMilestones != 5 {
		t.Fatalf("defaults should survive partial files")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []string{
		"platform:\n  passing_score: 101\n",
		"platform:\n  max_milestones: 0\n",
		"programs:\n  escrow: nope\n",
		"authority:\n  admin: \"\"\n",
		"webhooks:\n  - url: \"\"\n",
	}
	for _, in := range cases {
		if _, err := FromYAML([]byte(in)); err == nil {
			t.Fatalf("expected validation error for %q", in)
		}
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "credchain.yml"), []byte("platform:\n  leaderboard_size: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Platform.LeaderboardSize != 10 {
		t.Fatalf("expected file value, got %d", cfg.Platform.LeaderboardSize)
	}
}

func TestParseServerEnv(t *testing.T) {
	t.Setenv("CREDCHAIN_ADDR", "0.0.0.0:9000")
	t.Setenv("CREDCHAIN_ALLOW_ACTOR_HEADER", "true")
	got, err := ParseServerEnv()
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if got.Addr != "0.0.0.0:9000" || !got.AllowActorHeader || got.BasePath != "/v0" {
		t.Fatalf("unexpected env %+v", got)
	}
}
