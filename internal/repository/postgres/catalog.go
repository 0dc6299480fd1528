package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/maelisc/boutique/internal/domain"
	"github.com/maelisc/boutique/internal/repository"
)

// CreateProduct inserts a product and assigns its ID.
func (r *Repository) CreateProduct(ctx context.Context, product *domain.Product) error {
	const query = `
INSERT INTO products (name, description, image_urls)
VALUES ($1, $2, $3::jsonb)
RETURNING id`

	urls, err := json.Marshal(product.ImageURLs)
	if err != nil {
		return err
	}
	return r.queryRow(ctx, query, product.Name, product.Description, string(urls)).Scan(&product.ID)
}

// GetProductByID fetches a product with its variants.
func (r *Repository) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	const query = `SELECT id, name, description, image_urls FROM products WHERE id = $1`

	var p domain.Product
	var urls []byte
	err := r.queryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &urls)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(urls, &p.ImageURLs); err != nil {
		return nil, err
	}
	variants, err := r.listVariantsByProduct(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Variants = variants
	return &p, nil
}

// ListProducts returns every product with its variants.
func (r *Repository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	const query = `SELECT id, name, description, image_urls FROM products ORDER BY id`

	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		var urls []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &urls); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(urls, &p.ImageURLs); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range products {
		variants, err := r.listVariantsByProduct(ctx, products[i].ID)
		if err != nil {
			return nil, err
		}
		products[i].Variants = variants
	}
	return products, nil
}

// UpdateProduct rewrites the mutable product columns.
func (r *Repository) UpdateProduct(ctx context.Context, product *domain.Product) error {
	const stmt = `UPDATE products SET name = $2, description = $3, image_urls = $4::jsonb WHERE id = $1`

	urls, err := json.Marshal(product.ImageURLs)
	if err != nil {
		return err
	}
	tag, err := r.exec(ctx, stmt, product.ID, product.Name, product.Description, string(urls))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProduct removes a product and, via cascade, its variants.
func (r *Repository) DeleteProduct(ctx context.Context, id int64) error {
	const stmt = `DELETE FROM products WHERE id = $1`

	tag, err := r.exec(ctx, stmt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateVariant inserts a variant and assigns its ID.
func (r *Repository) CreateVariant(ctx context.Context, variant *domain.Variant) error {
	const query = `
INSERT INTO variants (product_id, size, color, price, source_url, stock_quantity)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

	return r.queryRow(ctx, query,
		variant.ProductID,
		variant.Size,
		variant.Color,
		variant.Price,
		variant.SourceURL,
		variant.StockQuantity,
	).Scan(&variant.ID)
}

// GetVariantByID fetches a variant without locking it.
func (r *Repository) GetVariantByID(ctx context.Context, id int64) (*domain.Variant, error) {
	const query = `
SELECT id, product_id, size, color, price, source_url, stock_quantity
FROM variants WHERE id = $1`

	var v domain.Variant
	err := r.queryRow(ctx, query, id).
		Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.Price, &v.SourceURL, &v.StockQuantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r *Repository) listVariantsByProduct(ctx context.Context, productID int64) ([]domain.Variant, error) {
	const query = `
SELECT id, product_id, size, color, price, source_url, stock_quantity
FROM variants WHERE product_id = $1 ORDER BY id`

	rows, err := r.query(ctx, query, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []domain.Variant
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.Price, &v.SourceURL, &v.StockQuantity); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}
