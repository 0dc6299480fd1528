package order

import (
	"context"
	"errors"
	"fmt"

	"log/slog"

	"github.com/maelisc/boutique/internal/domain"
	"github.com/maelisc/boutique/internal/repository"
)

// Placed is invoked after a successful placement, outside the transaction.
type Placed func(order domain.Order)

// Service coordinates order placement and order queries.
type Service struct {
	orders   repository.OrderRepository
	logger   *slog.Logger
	onPlaced Placed
}

// New constructs a Service. onPlaced may be nil.
func New(orders repository.OrderRepository, logger *slog.Logger, onPlaced Placed) Service {
	return Service{orders: orders, logger: logger, onPlaced: onPlaced}
}

// Place creates an order for user from the requested lines. The whole
// operation runs in one transaction: the pending order row, every stock
// decrement and every line item commit together or not at all. Variants are
// locked FOR UPDATE so concurrent placements on the same variant serialize
// and stock can never go negative.
func (s Service) Place(ctx context.Context, user *domain.User, lines []domain.OrderLine) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: variant %d", domain.ErrInvalidQuantity, line.VariantID)
		}
	}

	var placed *domain.Order
	err := s.orders.WithTx(ctx, func(txCtx context.Context) error {
		order := &domain.Order{UserID: user.ID, Status: domain.OrderStatusPending}
		if err := s.orders.CreateOrder(txCtx, order); err != nil {
			return err
		}

		for _, line := range lines {
			variant, err := s.orders.GetVariantForUpdate(txCtx, line.VariantID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%w: variant %d", domain.ErrVariantNotFound, line.VariantID)
				}
				return err
			}
			if variant.StockQuantity < line.Quantity {
				return fmt.Errorf("%w for variant %d (%s %s): requested %d, available %d",
					domain.ErrInsufficientStock, variant.ID, variant.Size, variant.Color,
					line.Quantity, variant.StockQuantity)
			}
			if err := s.orders.DecrementVariantStock(txCtx, variant.ID, line.Quantity); err != nil {
				return err
			}
			item := &domain.OrderItem{OrderID: order.ID, VariantID: variant.ID, Quantity: line.Quantity}
			if err := s.orders.CreateOrderItem(txCtx, item); err != nil {
				return err
			}
		}

		full, err := s.orders.GetOrderByID(txCtx, order.ID)
		if err != nil {
			return err
		}
		placed = full
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order placed", "order_id", placed.ID, "user_id", user.ID, "items", len(placed.Items))
	if s.onPlaced != nil {
		s.onPlaced(*placed)
	}
	return placed, nil
}

// ListMine returns the caller's orders with their items.
func (s Service) ListMine(ctx context.Context, user *domain.User) ([]domain.Order, error) {
	return s.orders.ListOrdersByUser(ctx, user.ID)
}

// ListAll returns every order with items and owners. Admin surface.
func (s Service) ListAll(ctx context.Context) ([]domain.Order, error) {
	return s.orders.ListOrders(ctx)
}

// UpdateStatus moves an order to a new lifecycle status and returns the
// refreshed order. Admin surface.
func (s Service) UpdateStatus(ctx context.Context, orderID int64, status string) (*domain.Order, error) {
	if status == "" {
		return nil, fmt.Errorf("%w: status required", domain.ErrInvalidInput)
	}
	if err := s.orders.UpdateOrderStatus(ctx, orderID, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %d", domain.ErrOrderNotFound, orderID)
		}
		return nil, err
	}
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("order status updated", "order_id", orderID, "status", status)
	return order, nil
}
