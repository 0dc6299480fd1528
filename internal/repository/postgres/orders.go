package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maelisc/boutique/internal/domain"
	"github.com/maelisc/boutique/internal/repository"
)

// CreateOrder inserts an order row and assigns its ID and creation time.
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	const query = `
INSERT INTO orders (user_id, status, created_at)
VALUES ($1, $2, now())
RETURNING id, created_at`

	return r.queryRow(ctx, query, order.UserID, order.Status).Scan(&order.ID, &order.CreatedAt)
}

// GetVariantForUpdate reads a variant under a row-level exclusive lock held
// until the surrounding transaction ends. Concurrent order placements on the
// same variant serialize here.
func (r *Repository) GetVariantForUpdate(ctx context.Context, variantID int64) (*domain.Variant, error) {
	const query = `
SELECT id, product_id, size, color, price, source_url, stock_quantity
FROM variants WHERE id = $1
FOR UPDATE`

	var v domain.Variant
	err := r.queryRow(ctx, query, variantID).
		Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.Price, &v.SourceURL, &v.StockQuantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lock variant: %w", err)
	}
	return &v, nil
}

// DecrementVariantStock subtracts quantity from a variant's stock. The guard
// in the WHERE clause backs up the caller's check; zero rows means the stock
// would have gone negative.
func (r *Repository) DecrementVariantStock(ctx context.Context, variantID int64, quantity int) error {
	const stmt = `
UPDATE variants SET stock_quantity = stock_quantity - $2
WHERE id = $1 AND stock_quantity >= $2`

	tag, err := r.exec(ctx, stmt, variantID, quantity)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientStock
	}
	return nil
}

// CreateOrderItem inserts an order line item.
func (r *Repository) CreateOrderItem(ctx context.Context, item *domain.OrderItem) error {
	const query = `
INSERT INTO order_items (order_id, variant_id, quantity)
VALUES ($1, $2, $3)
RETURNING id`

	return r.queryRow(ctx, query, item.OrderID, item.VariantID, item.Quantity).Scan(&item.ID)
}

// GetOrderByID fetches one order with its items.
func (r *Repository) GetOrderByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	const query = `SELECT id, user_id, status, created_at FROM orders WHERE id = $1`

	var o domain.Order
	err := r.queryRow(ctx, query, orderID).Scan(&o.ID, &o.UserID, &o.Status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	items, err := r.listItemsByOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

// ListOrdersByUser returns the orders owned by one user, items included.
func (r *Repository) ListOrdersByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	const query = `SELECT id, user_id, status, created_at FROM orders WHERE user_id = $1 ORDER BY id`
	return r.listOrders(ctx, query, userID)
}

// ListOrders returns every order with items and the owning user attached.
func (r *Repository) ListOrders(ctx context.Context) ([]domain.Order, error) {
	const query = `
SELECT o.id, o.user_id, o.status, o.created_at, u.username, u.is_admin
FROM orders o JOIN users u ON u.id = o.user_id
ORDER BY o.id`

	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var u domain.User
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.CreatedAt, &u.Username, &u.IsAdmin); err != nil {
			return nil, err
		}
		u.ID = o.UserID
		o.User = &u
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := r.listItemsByOrder(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// UpdateOrderStatus sets the lifecycle status of one order.
func (r *Repository) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	const stmt = `UPDATE orders SET status = $2 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) listOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := r.listItemsByOrder(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *Repository) listItemsByOrder(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	const query = `
SELECT i.id, i.order_id, i.variant_id, i.quantity,
       v.product_id, v.size, v.color, v.price, v.source_url, v.stock_quantity
FROM order_items i JOIN variants v ON v.id = i.variant_id
WHERE i.order_id = $1 ORDER BY i.id`

	rows, err := r.query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		var v domain.Variant
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.Quantity,
			&v.ProductID, &v.Size, &v.Color, &v.Price, &v.SourceURL, &v.StockQuantity); err != nil {
			return nil, err
		}
		v.ID = it.VariantID
		it.Variant = &v
		items = append(items, it)
	}
	return items, rows.Err()
}
