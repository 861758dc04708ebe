package app

import (
	"context"
	"os"
	"testing"

	"credchain/internal/config"
)

func TestOpenUsesDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()
	if w.Config.Platform.PlatformFeeBps != 250 {
		t.Fatalf("fee bps = %d", w.Config.Platform.PlatformFeeBps)
	}
	stats, err := w.Engine.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats on fresh workspace: %v", err)
	}
	if stats.ContractsCreated != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte("platform:\n  max_revisions: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	err := With(context.Background(), dir, func(ctx context.Context, w *Workspace) error {
		if w.Config.Platform.MaxRevisions != 1 || w.Config.Platform.MaxMilestones != 5 {
			t.Fatalf("platform = %+v", w.Config.Platform)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with: %v", err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte("platform:\n  passing_score: 120\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(context.Background(), dir); err == nil {
		t.Fatalf("expected validation error")
	}
}
