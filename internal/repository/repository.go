package repository

import (
	"context"
	"errors"
	"time"

	"github.com/eduballesteros/terra-nostra/internal/domain"
)

var (
	ErrDuplicateSession = errors.New("a live checkout session already exists for this user")
	ErrDuplicateOrder   = errors.New("an order already exists for this checkout session")
	ErrNotClaimed       = errors.New("session status was not in the expected state")
)

// CartRepository defines the interface for cart data operations.
// Consumers define this interface, not the MongoDB implementation.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID string, item domain.CartItem) error
	UpdateItemQuantity(ctx context.Context, userID string, productID int64, quantity int) error
	RemoveItem(ctx context.Context, userID string, productID int64) error
	DeleteCart(ctx context.Context, userID string) error
}

// ProductRepository is the catalog lookup used only at cart-insertion time.
type ProductRepository interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}

// SessionRepository persists checkout sessions and performs the
// compare-and-swap status transitions the orchestrator relies on.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.CheckoutSession) error
	GetSessionByProviderOrder(ctx context.Context, providerOrderID string) (*domain.CheckoutSession, error)
	GetSessionByID(ctx context.Context, id string) (*domain.CheckoutSession, error)

	// TransitionSession atomically moves the session from one status to
	// another. It reports whether this caller claimed the transition; a false
	// return with a nil error means some other caller advanced the session
	// first.
	TransitionSession(ctx context.Context, id string, from, to domain.SessionStatus) (bool, error)

	// ConvertSession persists the order, enqueues its outbox event and moves
	// the session CAPTURED -> CONVERTED in a single transaction. Returns
	// domain.ErrAlreadyConverted when the session has already been advanced.
	ConvertSession(ctx context.Context, sessionID string, order *domain.Order) error

	ExpireStaleSessions(ctx context.Context, olderThan time.Time) (int64, error)
	GetStuckSessions(ctx context.Context, olderThan time.Time) ([]*domain.CheckoutSession, error)
}

// OrderRepository is the read-only order history surface.
type OrderRepository interface {
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	MarkVerified(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, email, passwordHash string) error
}

// OutboxEvent is a pending integration event written in the same transaction
// as the state change it describes.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}
