package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/maelisc/boutique/internal/domain"
	"github.com/maelisc/boutique/internal/repository"
)

var errNameRequired = fmt.Errorf("%w: product name required", domain.ErrInvalidInput)

// Service manages products and their variants.
type Service struct {
	products repository.ProductRepository
	logger   *slog.Logger
}

// New constructs a Service.
func New(products repository.ProductRepository, logger *slog.Logger) Service {
	return Service{products: products, logger: logger}
}

// ProductUpdate carries a partial product mutation. Nil fields stay untouched.
type ProductUpdate struct {
	Name        *string
	Description *string
	ImageURLs   *[]string
}

// CreateProduct adds an abstract product with no variants yet.
func (s Service) CreateProduct(ctx context.Context, name, description string, imageURLs []string) (*domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errNameRequired
	}
	product := &domain.Product{Name: name, Description: description, ImageURLs: imageURLs}
	if err := s.products.CreateProduct(ctx, product); err != nil {
		return nil, err
	}
	s.logger.Info("product created", "product_id", product.ID, "name", product.Name)
	return product, nil
}

// GetProduct returns one product with its variants.
func (s Service) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := s.products.GetProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: product %d", domain.ErrProductNotFound, id)
		}
		return nil, err
	}
	return product, nil
}

// ListProducts returns the whole catalog with variants.
func (s Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.products.ListProducts(ctx)
}

// UpdateProduct applies a partial update and returns the refreshed product.
func (s Service) UpdateProduct(ctx context.Context, id int64, update ProductUpdate) (*domain.Product, error) {
	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Name != nil {
		product.Name = strings.TrimSpace(*update.Name)
		if product.Name == "" {
			return nil, errNameRequired
		}
	}
	if update.Description != nil {
		product.Description = *update.Description
	}
	if update.ImageURLs != nil {
		product.ImageURLs = *update.ImageURLs
	}
	if err := s.products.UpdateProduct(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// DeleteProduct removes a product and its variants.
func (s Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: product %d", domain.ErrProductNotFound, id)
		}
		return err
	}
	s.logger.Info("product deleted", "product_id", id)
	return nil
}

// CreateVariant adds a variant to an existing product.
func (s Service) CreateVariant(ctx context.Context, variant domain.Variant) (*domain.Variant, error) {
	if variant.StockQuantity < 0 {
		return nil, fmt.Errorf("%w: stock quantity must not be negative", domain.ErrInvalidInput)
	}
	if _, err := s.products.GetProductByID(ctx, variant.ProductID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: product %d", domain.ErrProductNotFound, variant.ProductID)
		}
		return nil, err
	}
	if err := s.products.CreateVariant(ctx, &variant); err != nil {
		return nil, err
	}
	s.logger.Info("variant created", "variant_id", variant.ID, "product_id", variant.ProductID)
	return &variant, nil
}

// GetVariant returns one variant.
func (s Service) GetVariant(ctx context.Context, id int64) (*domain.Variant, error) {
	variant, err := s.products.GetVariantByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: variant %d", domain.ErrVariantNotFound, id)
		}
		return nil, err
	}
	return variant, nil
}
