package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eduballesteros/terra-nostra/internal/domain"
	"github.com/eduballesteros/terra-nostra/internal/gateway"
	"github.com/eduballesteros/terra-nostra/internal/notify"
	"github.com/eduballesteros/terra-nostra/internal/repository"
)

// BeginCheckoutResult is what the caller needs to send the buyer off to the
// payment provider's approval page.
type BeginCheckoutResult struct {
	SessionID   string
	ApprovalURL string
}

// CheckoutService drives the authorize -> capture -> convert lifecycle. Every
// status change goes through the repository's compare-and-swap transition, so
// concurrent callbacks for the same provider order converge on exactly one
// converted order.
type CheckoutService struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	gateway  gateway.Gateway
	carts    *CartService
	mailer   notify.Mailer
	locks    *userLocks
}

func NewCheckoutService(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	gw gateway.Gateway,
	carts *CartService,
	mailer notify.Mailer,
) *CheckoutService {
	return &CheckoutService{
		sessions: sessions,
		users:    users,
		gateway:  gw,
		carts:    carts,
		mailer:   mailer,
		locks:    carts.locks,
	}
}

// BeginCheckout snapshots the cart, authorizes the total with the payment
// provider and records a PENDING session. It holds the user lock across the
// snapshot and the authorization, so no cart mutation can slip in between:
// the amount authorized is exactly the amount snapshotted.
func (s *CheckoutService) BeginCheckout(ctx context.Context, userID string, shipping domain.ShippingInfo) (*BeginCheckoutResult, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	snapshot, err := s.carts.snapshotLocked(ctx, userID)
	if err != nil {
		return nil, err
	}

	auth, err := s.gateway.Authorize(ctx, snapshot.TotalAmount, snapshot.Currency)
	if err != nil {
		return nil, fmt.Errorf("authorize payment: %w", err)
	}

	session := &domain.CheckoutSession{
		ID:              uuid.NewString(),
		UserID:          userID,
		ProviderOrderID: auth.ProviderOrderID,
		Snapshot:        snapshot,
		Shipping:        shipping,
		Status:          domain.SessionStatusPending,
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateSession) {
			// The database's one-live-session-per-user index caught a racing
			// checkout from another node. The authorization just obtained is
			// abandoned; the provider expires unapproved orders on its own.
			return nil, domain.ErrCheckoutInProgress
		}
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	slog.Info("checkout started",
		"session_id", session.ID,
		"user_id", userID,
		"provider_order_id", auth.ProviderOrderID,
		"total", snapshot.TotalAmount,
	)

	return &BeginCheckoutResult{
		SessionID:   session.ID,
		ApprovalURL: auth.ApprovalURL,
	}, nil
}

// CompleteCheckout handles the provider's approval callback. It is safe to
// call any number of times with the same provider order id: redelivered
// callbacks find the session already advanced and report its current status
// without side effects.
func (s *CheckoutService) CompleteCheckout(ctx context.Context, providerOrderID string) (domain.SessionStatus, error) {
	session, err := s.sessions.GetSessionByProviderOrder(ctx, providerOrderID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		// Callbacks can outlive their session (retention cleanup, or a
		// provider redelivery storm). Nothing to do.
		slog.Warn("callback for unknown provider order", "provider_order_id", providerOrderID)
		return domain.SessionStatusConverted, nil
	}
	if err != nil {
		return "", fmt.Errorf("load checkout session: %w", err)
	}

	if session.Status.IsTerminal() {
		return session.Status, nil
	}

	if session.Status == domain.SessionStatusPending {
		status, err := s.capture(ctx, session)
		if err != nil {
			return "", err
		}
		if status.IsTerminal() {
			return status, nil
		}
	}

	// Session is CAPTURED, either freshly or from an earlier attempt that
	// crashed before converting. The money is taken; conversion must succeed.
	if err := s.convert(ctx, session); err != nil {
		return "", err
	}
	return domain.SessionStatusConverted, nil
}

// capture charges the authorized amount and flips the session to CAPTURED, or
// to FAILED when the provider declines.
func (s *CheckoutService) capture(ctx context.Context, session *domain.CheckoutSession) (domain.SessionStatus, error) {
	result, err := s.gateway.Capture(ctx, session.ProviderOrderID)
	if err != nil {
		// Includes ErrGatewayUnavailable. The session stays PENDING; the
		// caller (or the reconciliation poller) retries later.
		return "", fmt.Errorf("capture payment: %w", err)
	}

	if result.Status != gateway.CaptureStatusCompleted {
		claimed, err := s.sessions.TransitionSession(ctx, session.ID, domain.SessionStatusPending, domain.SessionStatusFailed)
		if err != nil {
			return "", fmt.Errorf("fail checkout session: %w", err)
		}
		if claimed {
			slog.Info("payment declined", "session_id", session.ID, "provider_order_id", session.ProviderOrderID)
		}
		return domain.SessionStatusFailed, nil
	}

	if !result.AmountCaptured.Equal(session.Snapshot.TotalAmount) {
		slog.Error("captured amount differs from authorized amount",
			"session_id", session.ID,
			"authorized", session.Snapshot.TotalAmount,
			"captured", result.AmountCaptured,
		)
	}

	claimed, err := s.sessions.TransitionSession(ctx, session.ID, domain.SessionStatusPending, domain.SessionStatusCaptured)
	if err != nil {
		return "", fmt.Errorf("mark session captured: %w", err)
	}
	if !claimed {
		// Another callback got there first. Converge on whatever it did.
		fresh, err := s.sessions.GetSessionByID(ctx, session.ID)
		if err != nil {
			return "", fmt.Errorf("reload checkout session: %w", err)
		}
		*session = *fresh
		if session.Status == domain.SessionStatusFailed {
			return domain.SessionStatusFailed, nil
		}
		return session.Status, nil
	}

	session.Status = domain.SessionStatusCaptured
	return domain.SessionStatusCaptured, nil
}

// convert turns a CAPTURED session into an order exactly once. The repository
// does the heavy lifting in one transaction; a losing racer comes back with
// ErrAlreadyConverted, which is absorbed as success here.
func (s *CheckoutService) convert(ctx context.Context, session *domain.CheckoutSession) error {
	order, err := s.buildOrder(ctx, session)
	if err != nil {
		return err
	}

	err = s.sessions.ConvertSession(ctx, session.ID, order)
	if err != nil && !errors.Is(err, domain.ErrAlreadyConverted) {
		return fmt.Errorf("convert checkout session: %w", err)
	}

	if err == nil {
		slog.Info("order created",
			"order_id", order.ID,
			"session_id", session.ID,
			"user_id", session.UserID,
			"total", order.TotalAmount,
		)

		if clearErr := s.carts.ClearCart(ctx, session.UserID); clearErr != nil {
			// The order exists either way; a leftover cart is cosmetic.
			slog.Warn("clear cart after conversion failed", "user_id", session.UserID, "err", clearErr)
		}

		go s.sendConfirmation(order)
	}

	return nil
}

func (s *CheckoutService) buildOrder(ctx context.Context, session *domain.CheckoutSession) (*domain.Order, error) {
	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("load buyer: %w", err)
	}

	items := make([]domain.OrderItem, 0, len(session.Snapshot.Items))
	for _, it := range session.Snapshot.Items {
		items = append(items, domain.OrderItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	addr := strings.Join([]string{
		session.Shipping.Address,
		session.Shipping.PostalCode + " " + session.Shipping.City,
		session.Shipping.Country,
	}, ", ")

	return &domain.Order{
		ID:            uuid.New(),
		SessionID:     session.ID,
		UserID:        session.UserID,
		BuyerName:     session.Shipping.FullName,
		BuyerEmail:    user.Email,
		TotalAmount:   session.Snapshot.TotalAmount,
		Currency:      session.Snapshot.Currency,
		Status:        domain.OrderStatusPaid,
		PaymentMethod: session.Shipping.PaymentMethod,
		ShippingAddr:  addr,
		ContactPhone:  session.Shipping.ContactPhone,
		Items:         items,
		CreatedAt:     time.Now(),
	}, nil
}

func (s *CheckoutService) sendConfirmation(order *domain.Order) {
	var b strings.Builder
	fmt.Fprintf(&b, "Hola %s,\n\nHemos recibido tu pedido %s.\n\n", order.BuyerName, order.ID)
	for _, it := range order.Items {
		fmt.Fprintf(&b, "  %dx %s - %s %s\n", it.Quantity, it.ProductName, it.UnitPrice.StringFixed(2), order.Currency)
	}
	fmt.Fprintf(&b, "\nTotal: %s %s\n\nGracias por tu compra.\nTerra Nostra", order.TotalAmount.StringFixed(2), order.Currency)

	if err := s.mailer.Send(order.BuyerEmail, "Confirmación de pedido", b.String()); err != nil {
		slog.Warn("order confirmation email failed", "order_id", order.ID, "err", err)
	}
}

// ExpireStalePending fails PENDING sessions the buyer abandoned. Driven by the
// reconciliation poller.
func (s *CheckoutService) ExpireStalePending(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.sessions.ExpireStaleSessions(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	if n > 0 {
		slog.Info("expired stale checkout sessions", "count", n)
	}
	return n, nil
}

// ResumeStuckSessions finishes CAPTURED sessions whose conversion never ran,
// typically because the process died between capture and convert. The money
// was already taken, so these must end in an order.
func (s *CheckoutService) ResumeStuckSessions(ctx context.Context, olderThan time.Duration) error {
	stuck, err := s.sessions.GetStuckSessions(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("list stuck sessions: %w", err)
	}

	for _, session := range stuck {
		if err := s.convert(ctx, session); err != nil {
			slog.Error("resume stuck session failed", "session_id", session.ID, "err", err)
			continue
		}
		slog.Info("resumed stuck session", "session_id", session.ID)
	}
	return nil
}
