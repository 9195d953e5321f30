package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/eduballesteros/terra-nostra/internal/domain"
)

func setupCartRepo(t *testing.T) (CartRepository, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo, err := NewMongoCartRepository(ctx, db)
	require.NoError(t, err)

	cleanup := func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func oliveOil(quantity int) domain.CartItem {
	return domain.CartItem{
		ProductID:   1,
		ProductName: "Extra Virgin Olive Oil 500ml",
		ImageURL:    "https://cdn.example.com/olive-oil.jpg",
		Quantity:    quantity,
		UnitPrice:   decimal.RequireFromString("8.90"),
	}
}

func TestGetCart_NotFound(t *testing.T) {
	repo, cleanup := setupCartRepo(t)
	defer cleanup()

	cart, err := repo.GetCart(context.Background(), "nonexistent")

	assert.ErrorIs(t, err, domain.ErrCartNotFound)
	assert.Nil(t, cart)
}

func TestAddItem_NewCart(t *testing.T) {
	repo, cleanup := setupCartRepo(t)
	defer cleanup()

	ctx := context.Background()
	userID := "user123"

	err := repo.AddItem(ctx, userID, oliveOil(3))
	require.NoError(t, err)

	cart, err := repo.GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, cart.UserID)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(1), cart.Items[0].ProductID)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.True(t, cart.Items[0].UnitPrice.Equal(decimal.RequireFromString("8.90")))
	assert.False(t, cart.Items[0].AddedAt.IsZero())
}

func TestAddItem_ExistingItem_IncrementsQuantity(t *testing.T) {
	repo, cleanup := setupCartRepo(t)
	defer cleanup()

	ctx := context.Background()
	userID := "user123"

	require.NoError(t, repo.AddItem(ctx, userID, oliveOil(2)))

	// Second add of the same product increments; the frozen unit price is
	// the one from the first insert even if the incoming item carries a
	// newer catalog price.
	repriced := oliveOil(5)
	repriced.UnitPrice = decimal.RequireFromString("9.99")
	require.NoError(t, repo.AddItem(ctx, userID, repriced))

	cart, err := repo.GetCart(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 7, cart.Items[0].Quantity)
	assert.True(t, cart.Items[0].UnitPrice.Equal(decimal.RequireFromString("8.90")))
}

func TestUpdateItemQuantity(t *testing.T) {
	repo, cleanup := setupCartRepo(t)
	defer cleanup()

	ctx := context.Background()
	userID := "user123"

	require.NoError(t, repo.AddItem(ctx, userID, oliveOil(2)))

	err := repo.UpdateItemQuantity(ctx, userID, 1, 10)
	require.NoError(t, err)

	cart, err := repo.GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 10, cart.Items[0].Quantity)
}

func TestUpdateItemQuantity_ZeroRemoves(t *testing.T) {
	repo, cleanup := setupCartRepo(t)
	defer cleanup()

	ctx := context.Background()
	userID := "user123"

	require.NoError(t, repo.AddItem(ctx, userID, oliveOil(2)))

	err := repo.UpdateItemQuantity(ctx, userID, 1, 0)
	require.NoError(t, err)

	cart, err := repo.GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestUpdateItemQuantity_MissingItem(t *testing.T) {
	repo, cleanup := setupCartRepo(t)
	defer cleanup()

	ctx := context.Background()
	userID := "user123"

	require.NoError(t, repo.AddItem(ctx, userID, oliveOil(2)))

	err := repo.UpdateItemQuantity(ctx, userID, 42, 3)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestRemoveItem(t *testing.T) {
	repo, cleanup := setupCartRepo(t)
	defer cleanup()

	ctx := context.Background()
	userID := "user123"

	require.NoError(t, repo.AddItem(ctx, userID, oliveOil(2)))
	require.NoError(t, repo.AddItem(ctx, userID, domain.CartItem{
		ProductID:   2,
		ProductName: "Raw Wildflower Honey 1kg",
		Quantity:    1,
		UnitPrice:   decimal.RequireFromString("12.50"),
	}))

	err := repo.RemoveItem(ctx, userID, 1)
	require.NoError(t, err)

	cart, err := repo.GetCart(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(2), cart.Items[0].ProductID)
}

func TestDeleteCart(t *testing.T) {
	repo, cleanup := setupCartRepo(t)
	defer cleanup()

	ctx := context.Background()
	userID := "user123"

	require.NoError(t, repo.AddItem(ctx, userID, oliveOil(2)))

	require.NoError(t, repo.DeleteCart(ctx, userID))

	_, err := repo.GetCart(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	// Deleting again is a no-op, not an error.
	assert.NoError(t, repo.DeleteCart(ctx, userID))
}

func TestContextCancellation(t *testing.T) {
	repo, cleanup := setupCartRepo(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond)

	_, err := repo.GetCart(ctx, "user123")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}
