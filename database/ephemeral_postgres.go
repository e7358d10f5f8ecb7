package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/stapelberg/postgrestest"
)

// SetupEphemeralPostgresDatabase starts a throwaway PostgreSQL server and
// opens a fresh database on it. The caller owns both and must Cleanup the server.
func SetupEphemeralPostgresDatabase(ctx context.Context) (*sql.DB, *postgrestest.Server, error) {
	Logger.Info("Starting ephemeral PostgreSQL server...")

	// Uses a temporary directory by default
	pgt, err := postgrestest.Start(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start ephemeral postgres: %w", err)
	}
	Logger.Info("Ephemeral PostgreSQL server started", "dsn", pgt.DefaultDatabase())

	flipbookDSN, err := pgt.CreateDatabase(ctx)
	if err != nil {
		pgt.Cleanup()
		return nil, nil, fmt.Errorf("failed to create flipbook database: %w", err)
	}
	Logger.Info("Created ephemeral database", "dsn", flipbookDSN)

	db, err := sql.Open("postgres", flipbookDSN)
	if err != nil {
		pgt.Cleanup()
		return nil, nil, fmt.Errorf("failed to open flipbook database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		pgt.Cleanup()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	Logger.Info("Connected to ephemeral PostgreSQL database successfully")
	return db, pgt, nil
}
