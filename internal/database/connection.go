package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/carrental/booking-hold/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("record not found")

// NewConnection opens and verifies the relay database pool
func NewConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connection poolers (pgbouncer, Supavisor) reject the extended protocol
	connectionURL := cfg.URL
	if !strings.Contains(connectionURL, "prefer_simple_protocol") {
		separator := "?"
		if strings.Contains(connectionURL, "?") {
			separator = "&"
		}
		connectionURL = connectionURL + separator + "prefer_simple_protocol=true"
	}

	db, err := sqlx.Connect("postgres", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// schema is applied at relay start-up; every statement is idempotent
var schema = []string{
	`DO $$ BEGIN
		CREATE TYPE hold_status AS ENUM ('held', 'warning', 'extended', 'expired', 'released', 'confirmed');
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`,
	`CREATE TABLE IF NOT EXISTS holds (
		booking_id     TEXT PRIMARY KEY,
		room           TEXT NOT NULL,
		car_id         TEXT NOT NULL,
		start_date     DATE NOT NULL,
		end_date       DATE NOT NULL,
		amount         NUMERIC(12,2) NOT NULL DEFAULT 0,
		currency       TEXT NOT NULL DEFAULT '',
		status         hold_status NOT NULL DEFAULT 'held',
		expires_at     TIMESTAMPTZ NOT NULL,
		warned_at      TIMESTAMPTZ,
		payment_status TEXT,
		payment_id     TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_holds_car_active ON holds (car_id, start_date, end_date)
		WHERE status IN ('held', 'warning', 'extended', 'confirmed')`,
	`CREATE INDEX IF NOT EXISTS idx_holds_room ON holds (room)`,
	`CREATE INDEX IF NOT EXISTS idx_holds_expires_at ON holds (expires_at)
		WHERE status IN ('held', 'warning', 'extended')`,
	`CREATE TABLE IF NOT EXISTS payment_audits (
		id                     UUID PRIMARY KEY,
		booking_id             TEXT,
		payment_id             TEXT,
		event_type             TEXT NOT NULL,
		event_source           TEXT NOT NULL,
		expected_amount        NUMERIC(12,2),
		received_amount        NUMERIC(12,2),
		currency               TEXT,
		amounts_match          BOOLEAN,
		payment_status         TEXT,
		transaction_id         TEXT,
		payload                TEXT,
		error_message          TEXT,
		is_duplicate           BOOLEAN NOT NULL DEFAULT FALSE,
		idempotency_key        TEXT,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_audits_idempotency ON payment_audits (idempotency_key)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_audits_booking ON payment_audits (booking_id)`,
}

// EnsureSchema creates the relay tables when missing
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
