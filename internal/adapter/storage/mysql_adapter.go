package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/saleszy/internal/core/domain"
)

// MySQL error numbers the store reacts to.
const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrLockWaitTimout = 1205
	mysqlErrDeadlock       = 1213
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS businesses (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		suspended TINYINT(1) NOT NULL DEFAULT 0,
		time_zone VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		business_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		unit VARCHAR(32) NOT NULL DEFAULT '',
		unit_price DECIMAL(18,2) NOT NULL,
		cost_price DECIMAL(18,2) NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		KEY idx_products_business (business_id),
		CONSTRAINT fk_products_business FOREIGN KEY (business_id) REFERENCES businesses (id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS stock_levels (
		business_id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		low_stock_threshold INT NOT NULL DEFAULT 5,
		version BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (business_id, product_id),
		CONSTRAINT chk_stock_nonnegative CHECK (quantity >= 0)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS sales (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		business_id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		request_id VARCHAR(128) NULL,
		quantity INT NOT NULL,
		unit_price DECIMAL(18,2) NOT NULL,
		unit_cost DECIMAL(18,2) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_sales_request (business_id, request_id),
		KEY idx_sales_business_created (business_id, created_at)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS entitlements (
		business_id VARCHAR(64) NOT NULL,
		tier VARCHAR(16) NOT NULL,
		unlocked_until DATETIME(6) NOT NULL,
		payment_ref VARCHAR(128) NOT NULL DEFAULT '',
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (business_id, tier)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		id VARCHAR(128) NOT NULL PRIMARY KEY,
		business_id VARCHAR(64) NOT NULL,
		tier VARCHAR(16) NOT NULL,
		amount BIGINT NOT NULL,
		verified TINYINT(1) NOT NULL,
		processed TINYINT(1) NOT NULL,
		paid_at DATETIME(6) NULL,
		received_at DATETIME(6) NOT NULL,
		KEY idx_payment_events_business (business_id)
	) ENGINE=InnoDB`,
}

var mysqlDialect = dialect{
	name:      "mysql",
	forUpdate: " FOR UPDATE",
	upsertBusiness: `
		INSERT INTO businesses (id, name, suspended, time_zone, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), suspended = VALUES(suspended), time_zone = VALUES(time_zone)`,
	upsertProduct: `
		INSERT INTO products (id, business_id, name, unit, unit_price, cost_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), unit = VALUES(unit),
			unit_price = VALUES(unit_price), cost_price = VALUES(cost_price)`,
	setStock: `
		INSERT INTO stock_levels (business_id, product_id, quantity, low_stock_threshold, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), low_stock_threshold = VALUES(low_stock_threshold),
			version = version + 1, updated_at = VALUES(updated_at)`,
	// unlocked_until is assigned last so the IF conditions still see the old value.
	extendEntitlement: `
		INSERT INTO entitlements (business_id, tier, unlocked_until, payment_ref, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			payment_ref = IF(VALUES(unlocked_until) > unlocked_until, VALUES(payment_ref), payment_ref),
			updated_at = IF(VALUES(unlocked_until) > unlocked_until, VALUES(updated_at), updated_at),
			unlocked_until = GREATEST(unlocked_until, VALUES(unlocked_until))`,
	encodeTime: func(t time.Time) any {
		if t.IsZero() {
			return nil
		}
		return t.UTC()
	},
	classify: classifyMySQLError,
}

// MySQLAdapter is the production store. The DSN must set parseTime=true.
type MySQLAdapter struct {
	*sqlStore
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{sqlStore: &sqlStore{db: db, d: mysqlDialect}}
}

// OpenMySQL opens and pings a MySQL connection pool.
func OpenMySQL(ctx context.Context, dsn string) (*MySQLAdapter, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return NewMySQLAdapter(db), nil
}

func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate mysql: %w", err)
		}
	}
	return nil
}

func classifyMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case mysqlErrDuplicateEntry:
		return fmt.Errorf("%w: %v", domain.ErrDuplicateKey, err)
	case mysqlErrDeadlock, mysqlErrLockWaitTimout:
		return fmt.Errorf("%w: %v", domain.ErrTransientConflict, err)
	}
	return err
}
