// Package app opens a credchain workspace: config, database and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"credchain/internal/config"
	"credchain/internal/db"
	"credchain/internal/engine"
	"credchain/internal/migrate"
)

// Workspace is an opened workspace. Close releases the database.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// Open loads credchain.yml (or the built-in defaults when absent), opens the
// workspace database and applies pending migrations.
func Open(ctx context.Context, dir string) (*Workspace, error) {
	cfg, err := config.LoadOrDefault(dir)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Workspace{
		Dir:    dir,
		DB:     conn,
		Config: cfg,
		Engine: eng,
	}, nil
}

// With opens dir, runs fn and closes the workspace.
func With(ctx context.Context, dir string, fn func(ctx context.Context, w *Workspace) error) error {
	w, err := Open(ctx, dir)
	if err != nil {
		return err
	}
	defer w.Close()
	return fn(ctx, w)
}
