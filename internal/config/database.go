package config

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary tables in the database
func createTables(db *sqlx.DB) error {
	// Ledger entries are append-only; the unique idempotency_key index is
	// what arbitrates concurrent duplicate writes.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id VARCHAR(36) PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			account_type VARCHAR(10) NOT NULL,
			amount BIGINT NOT NULL,
			entry_type VARCHAR(10) NOT NULL,
			balance_state VARCHAR(10) NOT NULL,
			state_transition VARCHAR(64) NOT NULL,
			reason VARCHAR(32) NOT NULL,
			idempotency_key VARCHAR(160) UNIQUE NOT NULL,
			request_id VARCHAR(64) NOT NULL,
			balance_before BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create reservations table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reservations (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			amount BIGINT NOT NULL,
			status VARCHAR(10) NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			source_correlation_id VARCHAR(64),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// The composite primary key is the uniqueness constraint that makes
	// concurrent duplicate submissions safe.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS idempotency_records (
			idempotency_key VARCHAR(160) NOT NULL,
			event_scope VARCHAR(16) NOT NULL,
			status VARCHAR(12) NOT NULL,
			stored_result TEXT,
			status_code INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			PRIMARY KEY (idempotency_key, event_scope)
		)
	`)
	if err != nil {
		return err
	}

	// Create indexes for better performance
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id, account_type, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_reservations_status_expiry ON reservations(status, expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_idempotency_expiry ON idempotency_records(expires_at)",
	}

	for _, idx := range indexes {
		_, err = db.Exec(idx)
		if err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
			// Don't return error here, indexes are not critical
		}
	}

	return nil
}
