package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eduballesteros/terra-nostra/internal/domain"
)

// cartDoc is the persisted shape of a cart. Prices are stored as strings so
// the decimal amounts survive BSON round-trips without float drift.
type cartDoc struct {
	ID        string        `bson:"_id,omitempty"`
	UserID    string        `bson:"user_id"`
	Items     []cartItemDoc `bson:"items"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

type cartItemDoc struct {
	ProductID   int64     `bson:"product_id"`
	ProductName string    `bson:"product_name"`
	ImageURL    string    `bson:"image_url"`
	Quantity    int       `bson:"quantity"`
	UnitPrice   string    `bson:"unit_price"`
	AddedAt     time.Time `bson:"added_at"`
}

func toCartDoc(userID string, items []domain.CartItem, createdAt, updatedAt time.Time) *cartDoc {
	doc := &cartDoc{
		UserID:    userID,
		Items:     make([]cartItemDoc, 0, len(items)),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	for _, it := range items {
		doc.Items = append(doc.Items, toItemDoc(it))
	}
	return doc
}

func toItemDoc(it domain.CartItem) cartItemDoc {
	return cartItemDoc{
		ProductID:   it.ProductID,
		ProductName: it.ProductName,
		ImageURL:    it.ImageURL,
		Quantity:    it.Quantity,
		UnitPrice:   it.UnitPrice.String(),
		AddedAt:     it.AddedAt,
	}
}

func (d *cartDoc) toDomain() (*domain.Cart, error) {
	cart := &domain.Cart{
		ID:        d.ID,
		UserID:    d.UserID,
		Items:     make([]domain.CartItem, 0, len(d.Items)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, it := range d.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt unit price %q for product %d: %w", it.UnitPrice, it.ProductID, err)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			ImageURL:    it.ImageURL,
			Quantity:    it.Quantity,
			UnitPrice:   price,
			AddedAt:     it.AddedAt,
		})
	}
	return cart, nil
}

type mongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(ctx context.Context, db *mongo.Database) (CartRepository, error) {
	repo := &mongoCartRepository{collection: db.Collection("carts")}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create cart indexes: %w", err)
	}
	return repo, nil
}

func (m *mongoCartRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var doc cartDoc

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&doc)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return doc.toDomain()
}

// AddItem increments the quantity when the product is already in the cart.
// The stored name and unit price stay as they were frozen on first insert.
func (m *mongoCartRepository) AddItem(ctx context.Context, userID string, item domain.CartItem) error {
	now := time.Now()
	item.AddedAt = now

	filter := bson.M{"user_id": userID}

	var existing cartDoc
	err := m.collection.FindOne(ctx, filter).Decode(&existing)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Cart doesn't exist, create it lazily with the item
			doc := toCartDoc(userID, []domain.CartItem{item}, now, now)
			if _, err := m.collection.InsertOne(ctx, doc); err != nil {
				return fmt.Errorf("failed to create cart with item: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to check existing cart: %w", err)
	}

	itemExists := false
	for _, existingItem := range existing.Items {
		if existingItem.ProductID == item.ProductID {
			itemExists = true
			break
		}
	}

	if itemExists {
		update := bson.M{
			"$inc": bson.M{"items.$[elem].quantity": item.Quantity},
			"$set": bson.M{"updated_at": now},
		}
		arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{
				bson.M{"elem.product_id": item.ProductID},
			},
		})

		if _, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters); err != nil {
			return fmt.Errorf("failed to increment existing item: %w", err)
		}
	} else {
		update := bson.M{
			"$push": bson.M{"items": toItemDoc(item)},
			"$set":  bson.M{"updated_at": now},
		}

		if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
			return fmt.Errorf("failed to add new item: %w", err)
		}
	}

	return nil
}

func (m *mongoCartRepository) UpdateItemQuantity(ctx context.Context, userID string, productID int64, quantity int) error {
	// quantity zero means removal; never persist a zero-quantity entry
	if quantity == 0 {
		return m.RemoveItem(ctx, userID, productID)
	}

	filter := bson.M{
		"user_id":          userID,
		"items.product_id": productID,
	}

	update := bson.M{
		"$set": bson.M{
			"items.$[elem].quantity": quantity,
			"updated_at":             time.Now(),
		},
	}

	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"elem.product_id": productID},
		},
	})

	result, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}

	if result.MatchedCount == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (m *mongoCartRepository) RemoveItem(ctx context.Context, userID string, productID int64) error {
	filter := bson.M{
		"user_id":          userID,
		"items.product_id": productID,
	}
	update := bson.M{
		"$pull": bson.M{
			"items": bson.M{"product_id": productID},
		},
		"$set": bson.M{"updated_at": time.Now()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}

	if result.MatchedCount == 0 {
		return domain.ErrItemNotFound
	}

	return nil
}

func (m *mongoCartRepository) DeleteCart(ctx context.Context, userID string) error {
	filter := bson.M{"user_id": userID}

	// Idempotent: deleting a cart that is already gone is not an error.
	if _, err := m.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	return nil
}

func (m *mongoCartRepository) createIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
