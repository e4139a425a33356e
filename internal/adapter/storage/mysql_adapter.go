package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/haishop/catalog/internal/core/domain"
	"github.com/haishop/catalog/internal/port"
)

// MySQL error numbers signalling that a FOR UPDATE NOWAIT row lock could not
// be granted.
const (
	erLockNowait      = 3572
	erLockWaitTimeout = 1205
)

// MySQLAdapter implements port.InventoryRepository on a MySQL database.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) InTransaction(ctx context.Context, fn func(tx port.InventoryTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlInventoryTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const inventoryColumns = `id, product_id, available_quantity, reserved_quantity, version, is_locked, lock_expiry, lock_key, created_at, updated_at`

func scanInventory(row *sql.Row) (*domain.InventoryRecord, error) {
	var (
		rec        domain.InventoryRecord
		lockExpiry sql.NullTime
		lockKey    sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.ProductID, &rec.AvailableQuantity, &rec.ReservedQuantity,
		&rec.Version, &rec.IsLocked, &lockExpiry, &lockKey,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lockExpiry.Valid {
		t := lockExpiry.Time
		rec.LockExpiry = &t
	}
	rec.LockKey = lockKey.String
	return &rec, nil
}

func (m *MySQLAdapter) Get(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM product_inventory WHERE product_id = ?`, productID)

	rec, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrInventoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return rec, nil
}

// ClearLockIfOwned is the database half of the scoped release. The conditional
// UPDATE is the atomic equivalent of re-reading the row and clearing the lock
// fields only when lock_key still matches.
func (m *MySQLAdapter) ClearLockIfOwned(ctx context.Context, productID, lockKey string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE product_inventory
		SET is_locked = FALSE, lock_key = NULL, lock_expiry = NULL, updated_at = NOW(6)
		WHERE product_id = ? AND lock_key = ?`,
		productID, lockKey,
	)
	if err != nil {
		return fmt.Errorf("clear inventory lock: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ReapExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE product_inventory
		SET is_locked = FALSE, lock_key = NULL, lock_expiry = NULL, updated_at = NOW(6)
		WHERE is_locked = TRUE AND lock_expiry < ?`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("reap expired locks: %w", err)
	}
	reaped, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap expired locks: %w", err)
	}
	return reaped, nil
}

type mysqlInventoryTx struct {
	tx *sql.Tx
}

func (t *mysqlInventoryTx) LockRecord(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM product_inventory WHERE product_id = ? FOR UPDATE NOWAIT`, productID)

	rec, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrInventoryNotFound
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == erLockNowait || myErr.Number == erLockWaitTimeout) {
		return nil, port.ErrRowLocked
	}
	if err != nil {
		return nil, fmt.Errorf("lock inventory row: %w", err)
	}
	return rec, nil
}

func (t *mysqlInventoryTx) CreateRecord(ctx context.Context, rec *domain.InventoryRecord) error {
	var lockExpiry any
	if rec.LockExpiry != nil {
		lockExpiry = *rec.LockExpiry
	}
	var lockKey any
	if rec.LockKey != "" {
		lockKey = rec.LockKey
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO product_inventory
			(id, product_id, available_quantity, reserved_quantity, version, is_locked, lock_expiry, lock_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW(6), NOW(6))`,
		rec.ID, rec.ProductID, rec.AvailableQuantity, rec.ReservedQuantity,
		rec.Version, rec.IsLocked, lockExpiry, lockKey,
	)
	if err != nil {
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

func (t *mysqlInventoryTx) MarkLocked(ctx context.Context, recordID, lockKey string, expiry time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE product_inventory
		SET is_locked = TRUE, lock_key = ?, lock_expiry = ?, updated_at = NOW(6)
		WHERE id = ?`,
		lockKey, expiry, recordID,
	)
	if err != nil {
		return fmt.Errorf("mark inventory locked: %w", err)
	}
	return nil
}

// The stock mutations below filter on the version read at the start of the
// operation. The quantity predicate is defensive; the version check is the
// gate that detects interleaved writers.

func (t *mysqlInventoryTx) ReserveStock(ctx context.Context, rec *domain.InventoryRecord, quantity int) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE product_inventory
		SET available_quantity = available_quantity - ?,
		    reserved_quantity = reserved_quantity + ?,
		    version = version + 1,
		    updated_at = NOW(6)
		WHERE id = ? AND version = ? AND available_quantity >= ?`,
		quantity, quantity, rec.ID, rec.Version, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("reserve stock: %w", err)
	}
	return oneRowAffected(result)
}

func (t *mysqlInventoryTx) ReleaseStock(ctx context.Context, rec *domain.InventoryRecord, quantity int) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE product_inventory
		SET available_quantity = available_quantity + ?,
		    reserved_quantity = reserved_quantity - ?,
		    version = version + 1,
		    updated_at = NOW(6)
		WHERE id = ? AND version = ? AND reserved_quantity >= ?`,
		quantity, quantity, rec.ID, rec.Version, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("release stock: %w", err)
	}
	return oneRowAffected(result)
}

func (t *mysqlInventoryTx) ConfirmStock(ctx context.Context, rec *domain.InventoryRecord, quantity int) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE product_inventory
		SET reserved_quantity = reserved_quantity - ?,
		    version = version + 1,
		    updated_at = NOW(6)
		WHERE id = ? AND version = ? AND reserved_quantity >= ?`,
		quantity, rec.ID, rec.Version, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("confirm stock: %w", err)
	}
	return oneRowAffected(result)
}

func oneRowAffected(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
