package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/port"
)

// dialect holds the statements and conversions that differ between engines.
type dialect struct {
	name string

	forUpdate         string
	upsertBusiness    string
	upsertProduct     string
	setStock          string
	extendEntitlement string

	encodeTime func(time.Time) any
	classify   func(error) error
}

// sqlStore implements the database and catalog ports on top of database/sql.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Atomic(ctx context.Context, fn func(tx port.Transaction) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", s.d.classify(err))
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx, d: s.d}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", s.d.classify(err))
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertBusiness creates or updates a business record. Business CRUD lives
// outside the core; this is used by seeding and tests.
func (s *sqlStore) UpsertBusiness(ctx context.Context, b domain.Business) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.d.upsertBusiness,
		b.ID, b.Name, b.Suspended, b.TimeZone, s.d.encodeTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert business: %w", s.d.classify(err))
	}
	return nil
}

// UpsertProduct creates or updates a product record.
func (s *sqlStore) UpsertProduct(ctx context.Context, p domain.Product) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.d.upsertProduct,
		p.ID, p.BusinessID, p.Name, p.Unit, p.UnitPrice, p.CostPrice, s.d.encodeTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", s.d.classify(err))
	}
	return nil
}

func (s *sqlStore) GetBusiness(ctx context.Context, businessID string) (*domain.Business, error) {
	var b domain.Business
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, suspended, time_zone, created_at
		FROM businesses WHERE id = ?`, businessID,
	).Scan(&b.ID, &b.Name, &b.Suspended, &b.TimeZone, timeScanner{&b.CreatedAt})

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query business: %w", err)
	}
	return &b, nil
}

func (s *sqlStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, name, unit, unit_price, cost_price, created_at
		FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.BusinessID, &p.Name, &p.Unit, &p.UnitPrice, &p.CostPrice, timeScanner{&p.CreatedAt})

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

const stockColumns = `business_id, product_id, quantity, low_stock_threshold, version, created_at, updated_at`

func scanStockLevel(row interface{ Scan(...any) error }) (domain.StockLevel, error) {
	var lvl domain.StockLevel
	err := row.Scan(&lvl.BusinessID, &lvl.ProductID, &lvl.Quantity, &lvl.LowStockThreshold,
		&lvl.Version, timeScanner{&lvl.CreatedAt}, timeScanner{&lvl.UpdatedAt})
	return lvl, err
}

func (s *sqlStore) GetStockLevel(ctx context.Context, businessID, productID string) (*domain.StockLevel, error) {
	lvl, err := scanStockLevel(s.db.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_levels WHERE business_id = ? AND product_id = ?`, businessID, productID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock level: %w", err)
	}
	return &lvl, nil
}

func (s *sqlStore) ListLowStock(ctx context.Context, businessID string) ([]domain.StockLevel, error) {
	return s.queryStockLevels(ctx, `
		SELECT `+stockColumns+`
		FROM stock_levels
		WHERE business_id = ? AND quantity <= low_stock_threshold
		ORDER BY quantity ASC, product_id ASC`, businessID)
}

func (s *sqlStore) ListStockLevels(ctx context.Context, businessID string) ([]domain.StockLevel, error) {
	return s.queryStockLevels(ctx, `
		SELECT `+stockColumns+`
		FROM stock_levels
		WHERE business_id = ?
		ORDER BY product_id ASC`, businessID)
}

func (s *sqlStore) queryStockLevels(ctx context.Context, query string, args ...any) ([]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []domain.StockLevel
	for rows.Next() {
		lvl, err := scanStockLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		levels = append(levels, lvl)
	}
	return levels, rows.Err()
}

const saleSelect = `
	SELECT s.id, s.business_id, s.product_id, COALESCE(p.name, ''), COALESCE(s.request_id, ''),
		s.quantity, s.unit_price, s.unit_cost, s.created_at
	FROM sales s
	LEFT JOIN products p ON p.id = s.product_id`

func scanSale(row interface{ Scan(...any) error }) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.BusinessID, &sale.ProductID, &sale.ProductName, &sale.RequestID,
		&sale.Quantity, &sale.UnitPrice, &sale.UnitCost, timeScanner{&sale.CreatedAt})
	return sale, err
}

func (s *sqlStore) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	var sales []domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (s *sqlStore) querySale(ctx context.Context, query string, args ...any) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	return &sale, nil
}

func (s *sqlStore) GetSale(ctx context.Context, businessID, saleID string) (*domain.Sale, error) {
	return s.querySale(ctx, saleSelect+` WHERE s.business_id = ? AND s.id = ?`, businessID, saleID)
}

func (s *sqlStore) GetSaleByRequestID(ctx context.Context, businessID, requestID string) (*domain.Sale, error) {
	return s.querySale(ctx, saleSelect+` WHERE s.business_id = ? AND s.request_id = ?`, businessID, requestID)
}

func (s *sqlStore) ListSales(ctx context.Context, businessID string, window domain.Window) ([]domain.Sale, error) {
	return s.querySales(ctx, saleSelect+`
		WHERE s.business_id = ? AND s.created_at >= ? AND s.created_at < ?
		ORDER BY s.created_at ASC, s.id ASC`,
		businessID, s.d.encodeTime(window.Start), s.d.encodeTime(window.End))
}

func (s *sqlStore) ListRecentSales(ctx context.Context, businessID string, since time.Time, limit, offset int) ([]domain.Sale, error) {
	return s.querySales(ctx, saleSelect+`
		WHERE s.business_id = ? AND s.created_at >= ?
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT ? OFFSET ?`,
		businessID, s.d.encodeTime(since), limit, offset)
}

func (s *sqlStore) GetEntitlement(ctx context.Context, businessID string, tier domain.Tier) (*domain.Entitlement, error) {
	return getEntitlement(ctx, s.db, businessID, tier, "")
}

func (s *sqlStore) GetPaymentEvent(ctx context.Context, eventID string) (*domain.PaymentEvent, error) {
	var ev domain.PaymentEvent
	var tier string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, tier, amount, verified, processed, paid_at, received_at
		FROM payment_events WHERE id = ?`, eventID,
	).Scan(&ev.ID, &ev.BusinessID, &tier, &ev.Amount, &ev.Verified, &ev.Processed,
		timeScanner{&ev.PaidAt}, timeScanner{&ev.ReceivedAt})

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query payment event: %w", err)
	}
	ev.Tier = domain.Tier(tier)
	return &ev, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEntitlement(ctx context.Context, q queryRower, businessID string, tier domain.Tier, suffix string) (*domain.Entitlement, error) {
	e := domain.Entitlement{Tier: tier}
	err := q.QueryRowContext(ctx, `
		SELECT business_id, unlocked_until, payment_ref, updated_at
		FROM entitlements WHERE business_id = ? AND tier = ?`+suffix, businessID, string(tier),
	).Scan(&e.BusinessID, timeScanner{&e.UnlockedUntil}, &e.PaymentRef, timeScanner{&e.UpdatedAt})

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entitlement: %w", err)
	}
	return &e, nil
}

// sqlTx implements port.Transaction.
type sqlTx struct {
	tx *sql.Tx
	d  dialect
}

func (t *sqlTx) currentQuantity(ctx context.Context, businessID, productID string) (int, error) {
	var quantity int
	err := t.tx.QueryRowContext(ctx, `
		SELECT quantity FROM stock_levels WHERE business_id = ? AND product_id = ?`,
		businessID, productID,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("stock for product %s: %w", productID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", t.d.classify(err))
	}
	return quantity, nil
}

func (t *sqlTx) ReserveStock(ctx context.Context, businessID, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE stock_levels
		SET quantity = quantity - ?, version = version + 1, updated_at = ?
		WHERE business_id = ? AND product_id = ? AND quantity >= ?`,
		quantity, t.d.encodeTime(time.Now()), businessID, productID, quantity,
	)
	if err != nil {
		return 0, fmt.Errorf("reserve stock: %w", t.d.classify(err))
	}

	rows, _ := result.RowsAffected()
	remaining, err := t.currentQuantity(ctx, businessID, productID)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return remaining, domain.ErrInsufficientStock
	}
	return remaining, nil
}

func (t *sqlTx) AdjustStock(ctx context.Context, businessID, productID string, delta int) (int, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE stock_levels
		SET quantity = quantity + ?, version = version + 1, updated_at = ?
		WHERE business_id = ? AND product_id = ? AND quantity + ? >= 0`,
		delta, t.d.encodeTime(time.Now()), businessID, productID, delta,
	)
	if err != nil {
		return 0, fmt.Errorf("adjust stock: %w", t.d.classify(err))
	}

	rows, _ := result.RowsAffected()
	quantity, err := t.currentQuantity(ctx, businessID, productID)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return quantity, fmt.Errorf("%w: %d on hand, delta %d", domain.ErrInvalidAdjustment, quantity, delta)
	}
	return quantity, nil
}

func (t *sqlTx) SetStock(ctx context.Context, level domain.StockLevel) error {
	if level.Quantity < 0 || level.LowStockThreshold < 0 {
		return domain.ErrInvalidAdjustment
	}
	now := time.Now()
	_, err := t.tx.ExecContext(ctx, t.d.setStock,
		level.BusinessID, level.ProductID, level.Quantity, level.LowStockThreshold,
		t.d.encodeTime(now), t.d.encodeTime(now),
	)
	if err != nil {
		return fmt.Errorf("set stock: %w", t.d.classify(err))
	}
	return nil
}

func (t *sqlTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	var requestID sql.NullString
	if rid := strings.TrimSpace(sale.RequestID); rid != "" {
		requestID = sql.NullString{String: rid, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, business_id, product_id, request_id, quantity, unit_price, unit_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.BusinessID, sale.ProductID, requestID, sale.Quantity,
		sale.UnitPrice, sale.UnitCost, t.d.encodeTime(sale.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", t.d.classify(err))
	}
	return nil
}

func (t *sqlTx) InsertPaymentEvent(ctx context.Context, ev domain.PaymentEvent) (bool, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_events (id, business_id, tier, amount, verified, processed, paid_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.BusinessID, string(ev.Tier), ev.Amount, ev.Verified, ev.Processed,
		t.d.encodeTime(ev.PaidAt), t.d.encodeTime(ev.ReceivedAt),
	)
	if err != nil {
		err = t.d.classify(err)
		if errors.Is(err, domain.ErrDuplicateKey) {
			return false, nil
		}
		return false, fmt.Errorf("insert payment event: %w", err)
	}
	return true, nil
}

func (t *sqlTx) LockEntitlement(ctx context.Context, businessID string, tier domain.Tier) (*domain.Entitlement, error) {
	e, err := getEntitlement(ctx, t.tx, businessID, tier, t.d.forUpdate)
	if err != nil {
		return nil, t.d.classify(err)
	}
	return e, nil
}

func (t *sqlTx) ExtendEntitlement(ctx context.Context, e domain.Entitlement) (bool, error) {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	result, err := t.tx.ExecContext(ctx, t.d.extendEntitlement,
		e.BusinessID, string(e.Tier), t.d.encodeTime(e.UnlockedUntil), e.PaymentRef, t.d.encodeTime(e.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("extend entitlement: %w", t.d.classify(err))
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// timeScanner reads timestamps stored either as native datetimes or as unix
// nanoseconds, always returning UTC.
type timeScanner struct {
	t *time.Time
}

const datetimeLayout = "2006-01-02 15:04:05.999999999"

func (ts timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts.t = time.Time{}
	case int64:
		*ts.t = time.Unix(0, v).UTC()
	case time.Time:
		*ts.t = v.UTC()
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (ts timeScanner) parse(s string) error {
	parsed, err := time.ParseInLocation(datetimeLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("parse time %q: %w", s, err)
	}
	*ts.t = parsed
	return nil
}
