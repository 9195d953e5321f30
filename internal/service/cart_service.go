package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eduballesteros/terra-nostra/internal/cache"
	"github.com/eduballesteros/terra-nostra/internal/domain"
	"github.com/eduballesteros/terra-nostra/internal/repository"
)

type CartService struct {
	repo     repository.CartRepository
	products repository.ProductRepository
	cache    cache.CartCache
	locks    *userLocks
	sfg      singleflight.Group // Prevents cache stampede
}

// NewCartService builds a cart service. It owns the per-user locks; the
// checkout service shares them so cart mutations and the checkout snapshot
// serialize on the same scope.
func NewCartService(repo repository.CartRepository, products repository.ProductRepository, c cache.CartCache) *CartService {
	return &CartService{
		repo:     repo,
		products: products,
		cache:    c,
		locks:    newUserLocks(),
	}
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil // cart is in cache
		}

		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.Warn("cart cache get failed", "user_id", userID, "err", err)
		}

		cart, errGet := s.repo.GetCart(ctx, userID)
		if errors.Is(errGet, domain.ErrCartNotFound) {
			// No cart yet: carts are created lazily on first AddItem
			return &domain.Cart{
				UserID:    userID,
				Items:     nil,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}, nil
		}
		if errGet != nil {
			return nil, errGet
		}

		go func() {
			if errSet := s.cache.Set(context.Background(), userID, cart); errSet != nil {
				slog.Warn("cart cache set failed", "user_id", userID, "err", errSet)
			}
		}()

		return cart, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// AddItem puts quantity units of the product into the user's cart. Name,
// image and unit price are fetched from the catalog here, at insertion time,
// and stay frozen on the item afterwards.
func (s *CartService) AddItem(ctx context.Context, userID string, productID int64, quantity int) error {
	if quantity < 1 {
		return domain.ErrInvalidQuantity
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("enrich cart item: %w", err)
	}

	item := domain.CartItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		ImageURL:    product.ImageURL,
		Quantity:    quantity,
		UnitPrice:   product.Price,
		AddedAt:     time.Now(),
	}

	if err := s.repo.AddItem(ctx, userID, item); err != nil {
		return err
	}

	s.invalidateCache(userID)
	return nil
}

// UpdateQuantity sets the item's quantity. Zero removes the item entirely; a
// zero-quantity entry is never left behind.
func (s *CartService) UpdateQuantity(ctx context.Context, userID string, productID int64, quantity int) error {
	if quantity < 0 {
		return domain.ErrInvalidQuantity
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.repo.UpdateItemQuantity(ctx, userID, productID, quantity); err != nil {
		return err
	}

	s.invalidateCache(userID)
	return nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID string, productID int64) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.repo.RemoveItem(ctx, userID, productID); err != nil {
		return err
	}

	s.invalidateCache(userID)
	return nil
}

// ClearCart empties the cart. Idempotent: clearing an absent cart succeeds.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	return s.clearLocked(ctx, userID)
}

// clearLocked is the clear path for callers that already hold the user lock.
func (s *CartService) clearLocked(ctx context.Context, userID string) error {
	if err := s.repo.DeleteCart(ctx, userID); err != nil {
		return err
	}

	s.invalidateCache(userID)
	return nil
}

// snapshotLocked freezes the current cart items and total for checkout. The
// caller must hold the user lock so no mutation can interleave between this
// snapshot and the gateway authorization.
func (s *CartService) snapshotLocked(ctx context.Context, userID string) (*domain.CartSnapshot, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return nil, domain.ErrEmptyCart
	}
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	return cart.Snapshot(), nil
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		slog.Warn("cart cache invalidate failed", "user_id", userID, "err", err)
	}
}
