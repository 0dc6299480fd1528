package repository

import (
	"context"

	"github.com/maelisc/boutique/internal/domain"
)

// UserRepository persists shop accounts.
type UserRepository interface {
	// CreateUser inserts a user. The very first account in the store is
	// granted the admin flag atomically; the persisted record is returned.
	CreateUser(ctx context.Context, username string, passwordHash []byte) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// ProductRepository persists the catalog.
type ProductRepository interface {
	CreateProduct(ctx context.Context, product *domain.Product) error
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product *domain.Product) error
	DeleteProduct(ctx context.Context, id int64) error
	CreateVariant(ctx context.Context, variant *domain.Variant) error
	GetVariantByID(ctx context.Context, id int64) (*domain.Variant, error)
}

// OrderRepository persists orders and their items, and owns the stock
// mutation path. Calls made inside the closure passed to WithTx share a
// single database transaction.
type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetVariantForUpdate(ctx context.Context, variantID int64) (*domain.Variant, error)
	DecrementVariantStock(ctx context.Context, variantID int64, quantity int) error
	CreateOrderItem(ctx context.Context, item *domain.OrderItem) error
	GetOrderByID(ctx context.Context, orderID int64) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
}
