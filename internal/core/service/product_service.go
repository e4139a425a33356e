package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haishop/catalog/internal/core/domain"
	"github.com/haishop/catalog/internal/core/event"
	"github.com/haishop/catalog/internal/port"
)

const productCachePrefix = "product:"

// ProductService handles product and category CRUD. Reads are cache-aside;
// any write invalidates the product's cached DTO before publishing its event.
type ProductService struct {
	repo     port.ProductRepository
	cache    port.CacheRepository
	bus      *event.Bus
	logger   *zap.Logger
	cacheTTL time.Duration
}

func NewProductService(
	repo port.ProductRepository,
	cache port.CacheRepository,
	bus *event.Bus,
	logger *zap.Logger,
	cacheTTL time.Duration,
) *ProductService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ProductService{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		logger:   logger,
		cacheTTL: cacheTTL,
	}
}

type CreateProductInput struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	PriceAmount   string         `json:"price_amount"`
	PriceCurrency string         `json:"price_currency"`
	Keywords      string         `json:"keywords"`
	CategoryID    string         `json:"category_id"`
	Attributes    map[string]any `json:"attributes"`
}

func (s *ProductService) CreateProduct(ctx context.Context, in CreateProductInput) (*domain.Product, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("product name is required")
	}
	if err := domain.ValidateAttributes(in.Attributes); err != nil {
		return nil, err
	}
	currency := in.PriceCurrency
	if currency == "" {
		currency = "CNY"
	}

	p := &domain.Product{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Description:   in.Description,
		PriceAmount:   in.PriceAmount,
		PriceCurrency: currency,
		Keywords:      in.Keywords,
		CategoryID:    in.CategoryID,
		State:         domain.ProductStateDraft,
		Attributes:    in.Attributes,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, domain.EventProductCreated, domain.ProductEvent{
		ProductID:  p.ID,
		OccurredAt: time.Now(),
	})
	return p, nil
}

func (s *ProductService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	cacheKey := productCachePrefix + productID

	var cached domain.Product
	hit, err := s.cache.Get(ctx, cacheKey, &cached)
	if err != nil {
		// Cache errors degrade to a database read.
		s.logger.Warn("product cache read failed", zap.String("product_id", productID), zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	p, err := s.repo.GetByID(ctx, productID)
	if errors.Is(err, port.ErrProductNotFound) {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrEntityNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, cacheKey, p, s.cacheTTL); err != nil {
		s.logger.Warn("product cache write failed", zap.String("product_id", productID), zap.Error(err))
	}
	return p, nil
}

type UpdateProductInput struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	PriceAmount   string         `json:"price_amount"`
	PriceCurrency string         `json:"price_currency"`
	Keywords      string         `json:"keywords"`
	CategoryID    string         `json:"category_id"`
	State         string         `json:"state"`
	Attributes    map[string]any `json:"attributes"`
}

func (s *ProductService) UpdateProduct(ctx context.Context, productID string, in UpdateProductInput) (*domain.Product, error) {
	if err := domain.ValidateAttributes(in.Attributes); err != nil {
		return nil, err
	}

	p, err := s.repo.GetByID(ctx, productID)
	if errors.Is(err, port.ErrProductNotFound) {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrEntityNotFound)
	}
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		p.Name = in.Name
	}
	if in.Description != "" {
		p.Description = in.Description
	}
	if in.PriceAmount != "" {
		p.PriceAmount = in.PriceAmount
	}
	if in.PriceCurrency != "" {
		p.PriceCurrency = in.PriceCurrency
	}
	if in.Keywords != "" {
		p.Keywords = in.Keywords
	}
	if in.CategoryID != "" {
		p.CategoryID = in.CategoryID
	}
	if in.State != "" {
		state := domain.ProductState(in.State)
		if !domain.ValidState(state) {
			return nil, fmt.Errorf("invalid product state %q", in.State)
		}
		p.State = state
	}
	if in.Attributes != nil {
		p.Attributes = in.Attributes
	}

	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, port.ErrVersionConflict) {
			return nil, fmt.Errorf("product %s was modified concurrently: %w", productID, domain.ErrConcurrencyConflict)
		}
		return nil, err
	}
	p.Version++

	if err := s.cache.Delete(ctx, productCachePrefix+productID); err != nil {
		s.logger.Warn("product cache invalidation failed", zap.String("product_id", productID), zap.Error(err))
	}

	s.bus.Publish(ctx, domain.EventProductUpdated, domain.ProductEvent{
		ProductID:  productID,
		OccurredAt: time.Now(),
	})
	return p, nil
}

func (s *ProductService) ListProducts(ctx context.Context, filter port.ProductFilter) ([]*domain.Product, error) {
	return s.repo.List(ctx, filter)
}

func (s *ProductService) CreateCategory(ctx context.Context, name, description, parentID string) (*domain.Category, error) {
	if name == "" {
		return nil, fmt.Errorf("category name is required")
	}
	c := &domain.Category{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		ParentID:    parentID,
	}
	if err := s.repo.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ProductService) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	return s.repo.ListCategories(ctx)
}
