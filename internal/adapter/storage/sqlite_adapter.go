package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rl1809/saleszy/internal/core/domain"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		suspended INTEGER NOT NULL DEFAULT 0,
		time_zone TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses (id),
		name TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		unit_price TEXT NOT NULL,
		cost_price TEXT NOT NULL DEFAULT '0',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_business ON products (business_id)`,
	`CREATE TABLE IF NOT EXISTS stock_levels (
		business_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		low_stock_threshold INTEGER NOT NULL DEFAULT 5,
		version INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (business_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		request_id TEXT,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_sales_request ON sales (business_id, request_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_business_created ON sales (business_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS entitlements (
		business_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		unlocked_until INTEGER NOT NULL,
		payment_ref TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (business_id, tier)
	)`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		amount INTEGER NOT NULL,
		verified INTEGER NOT NULL,
		processed INTEGER NOT NULL,
		paid_at INTEGER,
		received_at INTEGER NOT NULL
	)`,
}

var sqliteDialect = dialect{
	name: "sqlite",
	upsertBusiness: `
		INSERT INTO businesses (id, name, suspended, time_zone, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, suspended = excluded.suspended, time_zone = excluded.time_zone`,
	upsertProduct: `
		INSERT INTO products (id, business_id, name, unit, unit_price, cost_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, unit = excluded.unit,
			unit_price = excluded.unit_price, cost_price = excluded.cost_price`,
	setStock: `
		INSERT INTO stock_levels (business_id, product_id, quantity, low_stock_threshold, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (business_id, product_id) DO UPDATE SET
			quantity = excluded.quantity, low_stock_threshold = excluded.low_stock_threshold,
			version = stock_levels.version + 1, updated_at = excluded.updated_at`,
	extendEntitlement: `
		INSERT INTO entitlements (business_id, tier, unlocked_until, payment_ref, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (business_id, tier) DO UPDATE SET
			unlocked_until = excluded.unlocked_until,
			payment_ref = excluded.payment_ref,
			updated_at = excluded.updated_at
		WHERE excluded.unlocked_until > entitlements.unlocked_until`,
	encodeTime: func(t time.Time) any {
		if t.IsZero() {
			return nil
		}
		return t.UTC().UnixNano()
	},
	classify: classifySQLiteError,
}

// SQLiteAdapter is the single-node store. It keeps one open connection, so
// writers are serialized and reads inside Atomic must go through the tx.
type SQLiteAdapter struct {
	*sqlStore
}

// OpenSQLite opens (creating if needed) the database file at path and applies
// the schema. Use ":memory:" only in tests that never share the handle.
func OpenSQLite(ctx context.Context, path string) (*SQLiteAdapter, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	adapter := &SQLiteAdapter{sqlStore: &sqlStore{db: db, d: sqliteDialect}}
	if err := adapter.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return adapter, nil
}

func (s *SQLiteAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func classifySQLiteError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "PRIMARY KEY constraint failed"):
		return fmt.Errorf("%w: %v", domain.ErrDuplicateKey, err)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return fmt.Errorf("%w: %v", domain.ErrTransientConflict, err)
	}
	return err
}
