package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/haishop/catalog/internal/core/domain"
	"github.com/haishop/catalog/internal/port"
)

// MySQLProductAdapter implements port.ProductRepository. Specification
// attributes live in a separate one-to-one table with a JSON column.
type MySQLProductAdapter struct {
	db *sql.DB
}

func NewMySQLProductAdapter(db *sql.DB) *MySQLProductAdapter {
	return &MySQLProductAdapter{db: db}
}

func (m *MySQLProductAdapter) Exists(ctx context.Context, productID string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM product WHERE id = ?)`, productID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check product exists: %w", err)
	}
	return exists, nil
}

func (m *MySQLProductAdapter) Create(ctx context.Context, p *domain.Product) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO product
			(id, name, description, price_amount, price_currency, keywords, category_id, state, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NOW(6), NOW(6))`,
		p.ID, p.Name, p.Description, p.PriceAmount, p.PriceCurrency,
		p.Keywords, nullableID(p.CategoryID), p.State,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}

	if len(p.Attributes) > 0 {
		attrs, err := json.Marshal(p.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO product_specification (id, product_id, attributes, created_at, updated_at)
			VALUES (?, ?, ?, NOW(6), NOW(6))`,
			uuid.NewString(), p.ID, attrs,
		)
		if err != nil {
			return fmt.Errorf("insert specification: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLProductAdapter) GetByID(ctx context.Context, productID string) (*domain.Product, error) {
	var (
		p          domain.Product
		categoryID sql.NullString
		attrs      []byte
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.description, p.price_amount, p.price_currency,
		       p.keywords, p.category_id, p.state, p.version, p.created_at, p.updated_at,
		       s.attributes
		FROM product p
		LEFT JOIN product_specification s ON s.product_id = p.id
		WHERE p.id = ?`, productID,
	).Scan(
		&p.ID, &p.Name, &p.Description, &p.PriceAmount, &p.PriceCurrency,
		&p.Keywords, &categoryID, &p.State, &p.Version, &p.CreatedAt, &p.UpdatedAt,
		&attrs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	p.CategoryID = categoryID.String
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return &p, nil
}

func (m *MySQLProductAdapter) Update(ctx context.Context, p *domain.Product) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE product
		SET name = ?, description = ?, price_amount = ?, price_currency = ?,
		    keywords = ?, category_id = ?, state = ?, version = version + 1, updated_at = NOW(6)
		WHERE id = ? AND version = ?`,
		p.Name, p.Description, p.PriceAmount, p.PriceCurrency,
		p.Keywords, nullableID(p.CategoryID), p.State,
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if rows == 0 {
		return port.ErrVersionConflict
	}

	if p.Attributes != nil {
		attrs, err := json.Marshal(p.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO product_specification (id, product_id, attributes, created_at, updated_at)
			VALUES (?, ?, ?, NOW(6), NOW(6))
			ON DUPLICATE KEY UPDATE attributes = VALUES(attributes), updated_at = NOW(6)`,
			uuid.NewString(), p.ID, attrs,
		)
		if err != nil {
			return fmt.Errorf("upsert specification: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLProductAdapter) List(ctx context.Context, filter port.ProductFilter) ([]*domain.Product, error) {
	query := `
		SELECT id, name, description, price_amount, price_currency,
		       keywords, category_id, state, version, created_at, updated_at
		FROM product`
	var (
		conds []string
		args  []any
	)
	if filter.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, filter.State)
	}
	if filter.CategoryID != "" {
		conds = append(conds, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		var (
			p          domain.Product
			categoryID sql.NullString
		)
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.PriceAmount, &p.PriceCurrency,
			&p.Keywords, &categoryID, &p.State, &p.Version, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.CategoryID = categoryID.String
		products = append(products, &p)
	}
	return products, rows.Err()
}

func (m *MySQLProductAdapter) CreateCategory(ctx context.Context, c *domain.Category) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO product_category (id, name, description, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(6), NOW(6))`,
		c.ID, c.Name, c.Description, nullableID(c.ParentID),
	)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (m *MySQLProductAdapter) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, description, parent_id, created_at, updated_at
		FROM product_category ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []*domain.Category
	for rows.Next() {
		var (
			c        domain.Category
			parentID sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &parentID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.ParentID = parentID.String
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
