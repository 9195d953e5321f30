package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduballesteros/terra-nostra/internal/domain"
)

// memOrderRepo implements repository.OrderRepository.
type memOrderRepo struct {
	orders map[string]*domain.Order
}

func (m *memOrderRepo) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (m *memOrderRepo) ListOrdersByUserID(_ context.Context, userID string) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func newTestOrders() (*OrderService, uuid.UUID, uuid.UUID) {
	mine := uuid.New()
	theirs := uuid.New()
	repo := &memOrderRepo{orders: map[string]*domain.Order{
		mine.String(): {
			ID:          mine,
			UserID:      "user-1",
			TotalAmount: decimal.RequireFromString("32.00"),
			Currency:    "EUR",
			Status:      domain.OrderStatusPaid,
		},
		theirs.String(): {
			ID:     theirs,
			UserID: "user-2",
		},
	}}
	return NewOrderService(repo), mine, theirs
}

func TestGetOrder_Owner(t *testing.T) {
	svc, mine, _ := newTestOrders()

	order, err := svc.GetOrder(context.Background(), "user-1", mine.String())
	require.NoError(t, err)
	assert.Equal(t, mine, order.ID)
}

func TestGetOrder_ForeignOrderLooksAbsent(t *testing.T) {
	svc, _, theirs := newTestOrders()

	_, err := svc.GetOrder(context.Background(), "user-1", theirs.String())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestGetOrder_Unknown(t *testing.T) {
	svc, _, _ := newTestOrders()

	_, err := svc.GetOrder(context.Background(), "user-1", uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListUserOrders_OnlyOwn(t *testing.T) {
	svc, mine, _ := newTestOrders()

	orders, err := svc.ListUserOrders(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, mine, orders[0].ID)
}
