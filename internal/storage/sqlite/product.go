package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-backend/internal/domain/inventory"
	"github.com/xenking/pos-backend/internal/domain/product"
)

const (
	productColumns = `id, name, price, stock, category`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY name, id`

	// With a single connection the transaction already excludes other
	// writers, so no row lock clause is needed.
	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ?`

	createProductSQL = `INSERT INTO products (name, price, stock, category) VALUES (?, ?, ?, ?)`

	updateProductSQL = `UPDATE products SET name = ?, price = ?, stock = ?, category = ? WHERE id = ?`

	deleteProductSQL = `DELETE FROM products WHERE id = ?`

	setStockSQL = `UPDATE products SET stock = ? WHERE id = ?`
)

var (
	_ product.Repository = (*ProductStore)(nil)
	_ inventory.Store    = (*ProductStore)(nil)
)

// ProductStore implements product.Repository and inventory.Store.
type ProductStore struct {
	db *DB
}

// NewProductStore returns a ProductStore.
func NewProductStore(db *DB) *ProductStore {
	return &ProductStore{db: db}
}

// List returns the catalog ordered by name.
func (s *ProductStore) List(ctx context.Context) ([]product.Product, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return collectProducts(rows)
}

// GetByID returns a single product.
func (s *ProductStore) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	p, err := scanProduct(s.db.conn(ctx).QueryRowContext(ctx, getProductByIDSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// GetForUpdate reads a product on the transaction carried by ctx.
func (s *ProductStore) GetForUpdate(ctx context.Context, id int64) (*product.Product, error) {
	return s.GetByID(ctx, id)
}

// Create inserts p and sets its ID.
func (s *ProductStore) Create(ctx context.Context, p *product.Product) error {
	res, err := s.db.conn(ctx).ExecContext(ctx, createProductSQL, p.Name, p.Price, p.Stock, p.Category)
	if err != nil {
		return fmt.Errorf("creating product %q: %w", p.Name, err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("creating product %q: %w", p.Name, err)
	}
	return nil
}

// Update overwrites every field of the stored product.
func (s *ProductStore) Update(ctx context.Context, p *product.Product) error {
	res, err := s.db.conn(ctx).ExecContext(ctx, updateProductSQL, p.Name, p.Price, p.Stock, p.Category, p.ID)
	if err != nil {
		return fmt.Errorf("updating product %d: %w", p.ID, err)
	}
	return requireRow(res, product.ErrNotFound)
}

// Delete removes a product.
func (s *ProductStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.conn(ctx).ExecContext(ctx, deleteProductSQL, id)
	if err != nil {
		return fmt.Errorf("deleting product %d: %w", id, err)
	}
	return requireRow(res, product.ErrNotFound)
}

// SetStock writes the stock count of a product.
func (s *ProductStore) SetStock(ctx context.Context, id int64, quantity int) error {
	res, err := s.db.conn(ctx).ExecContext(ctx, setStockSQL, quantity, id)
	if err != nil {
		return fmt.Errorf("setting stock of product %d: %w", id, err)
	}
	return requireRow(res, product.ErrNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Category)
	return p, err
}

func collectProducts(rows *sql.Rows) ([]product.Product, error) {
	defer rows.Close()

	var out []product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating products: %w", err)
	}
	return out, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
