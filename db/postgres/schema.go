package postgres

import (
	"context"
	"fmt"
)

// migrations are applied in order, each in its own transaction. Entries are
// append-only: the index is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		display_name  TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		token         UUID NOT NULL UNIQUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id                    UUID PRIMARY KEY,
		user_id               UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name                  TEXT NOT NULL,
		fuel_type             TEXT NOT NULL,
		consumption_l_per_100 DOUBLE PRECISION,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_vehicles_user ON vehicles(user_id)`,
	`CREATE TABLE IF NOT EXISTS trips (
		id           UUID PRIMARY KEY,
		user_id      UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		vehicle_id   UUID NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
		distance_km  DOUBLE PRECISION NOT NULL CHECK (distance_km >= 0),
		date         TIMESTAMPTZ NOT NULL,
		note         TEXT NOT NULL DEFAULT '',
		emissions_kg DOUBLE PRECISION,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_trips_user_date ON trips(user_id, date)`,
	`CREATE TABLE IF NOT EXISTS appliances (
		id            UUID PRIMARY KEY,
		user_id       UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name          TEXT NOT NULL,
		power_watts   DOUBLE PRECISION NOT NULL,
		hours_per_day DOUBLE PRECISION NOT NULL,
		quantity      INTEGER NOT NULL DEFAULT 1,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS housing (
		user_id      UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		surface_m2   DOUBLE PRECISION NOT NULL,
		heating      TEXT NOT NULL,
		energy_class CHAR(1) NOT NULL,
		occupants    INTEGER NOT NULL DEFAULT 1,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id               UUID PRIMARY KEY,
		name             TEXT NOT NULL UNIQUE,
		category         TEXT NOT NULL,
		unit             TEXT NOT NULL,
		kg_co2e_per_unit DOUBLE PRECISION NOT NULL
	);
	CREATE TABLE IF NOT EXISTS purchases (
		id         UUID PRIMARY KEY,
		user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		product_id UUID NOT NULL REFERENCES products(id),
		quantity   DOUBLE PRECISION NOT NULL,
		date       TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_purchases_user_date ON purchases(user_id, date)`,
}

// SchemaVersion is the version Migrate brings the database to
func SchemaVersion() int {
	return len(migrations)
}

// Migrate applies pending migrations and returns how many ran
func (s *Store) Migrate(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	applied := 0
	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return applied, err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("migration %d failed: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("migration %d failed: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, err
		}
		s.logger.Info().Int("version", version).Msg("migration applied")
		applied++
	}
	return applied, nil
}
