package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tably/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the sqlite store. Query methods are split per concern across
// resources.go, rules.go, bookings.go, verification.go and sync_queue.go.
type DB struct {
	*sql.DB
	logger *zerolog.Logger

	mu            sync.RWMutex
	resourceCache map[int64]*models.Resource
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// A second connection would see a different empty database.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, logger: logger, resourceCache: make(map[int64]*models.Resource)}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS resources (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            capacity INTEGER NOT NULL DEFAULT 1,
            bookable BOOLEAN NOT NULL DEFAULT 1,
            status TEXT NOT NULL DEFAULT 'active',
            lock_generation INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS slot_rules (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            resource_id INTEGER NOT NULL,
            slot_minutes INTEGER NOT NULL,
            hours_json TEXT NOT NULL,
            max_advance_days INTEGER NOT NULL,
            blackouts_json TEXT,
            min_duration INTEGER NOT NULL DEFAULT 0,
            max_duration INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            ref TEXT NOT NULL UNIQUE,
            tenant_id INTEGER NOT NULL,
            resource_id INTEGER NOT NULL,
            resource_name TEXT NOT NULL,
            date TEXT NOT NULL,
            start_minute INTEGER NOT NULL,
            end_minute INTEGER NOT NULL,
            party_size INTEGER NOT NULL DEFAULT 1,
            exclusive INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'confirmed',
            comment TEXT,
            extensions_json TEXT,
            verify_nonce TEXT NOT NULL DEFAULT '',
            verify_expires_at DATETIME,
            verify_used INTEGER NOT NULL DEFAULT 0,
            verify_attempts INTEGER NOT NULL DEFAULT 0,
            verified_by TEXT,
            verified_at DATETIME,
            revoked_by TEXT,
            revoke_reason TEXT,
            revoked_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_resources_tenant ON resources(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_slot_rules_resource ON slot_rules(resource_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_resource_date ON bookings(resource_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_tenant ON bookings(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,

		// Backstop against interleaved admissions on exclusive
		// resources: two active bookings can never share a slot start,
		// even if the isolation level lets both pass the overlap read.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_exclusive_slot
            ON bookings(resource_id, date, start_minute)
            WHERE exclusive = 1 AND status IN ('confirmed', 'checked_in')`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
