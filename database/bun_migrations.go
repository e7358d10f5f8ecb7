package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

type migration struct {
	version string
	name    string
	up      func(context.Context, bun.IDB) error
}

var migrations = []migration{
	{"001", "create_flipbooks", init001CreateFlipbooks},
	{"002", "create_flipbook_pages", init002CreatePages},
	{"003", "create_jobs", init003CreateJobs},
}

// runMigrations runs all Bun migrations that have not been applied yet
func (b *BunDB) runMigrations(ctx context.Context) error {
	_, err := b.db.NewCreateTable().
		Model((*BunSchemaMigration)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var applied []BunSchemaMigration
	if err := b.db.NewSelect().Model(&applied).Scan(ctx); err != nil {
		return fmt.Errorf("failed to check applied migrations: %w", err)
	}
	appliedMap := make(map[string]bool, len(applied))
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	for _, m := range migrations {
		if appliedMap[m.version] {
			continue
		}

		Logger.Info("Running migration", "version", m.version, "name", m.name)
		err := b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := m.up(ctx, tx); err != nil {
				return err
			}
			_, err := tx.NewInsert().
				Model(&BunSchemaMigration{Version: m.version, Name: m.name}).
				Exec(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.version, err)
		}
	}

	Logger.Info("All migrations completed successfully")
	return nil
}

// Migration 001: flipbooks table
func init001CreateFlipbooks(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*BunFlipbook)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create flipbooks table: %w", err)
	}

	indexes := []struct {
		name    string
		columns []string
	}{
		{"idx_flipbooks_created_at", []string{"created_at"}},
		{"idx_flipbooks_is_public", []string{"is_public"}},
		{"idx_flipbooks_source_hash", []string{"source_hash"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model((*BunFlipbook)(nil)).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Migration 002: page images, keyed by flipbook and page index
func init002CreatePages(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*BunPage)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create flipbook_pages table: %w", err)
	}
	return nil
}

// Migration 003: background job tracking
func init003CreateJobs(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*BunJob)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}

	indexes := map[string]string{
		"idx_jobs_status":       "status",
		"idx_jobs_created_at":   "created_at",
		"idx_jobs_completed_at": "completed_at",
	}
	for name, column := range indexes {
		_, err := db.NewCreateIndex().
			Model((*BunJob)(nil)).
			Index(name).
			Column(column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}
	return nil
}
