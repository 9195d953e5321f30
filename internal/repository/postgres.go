package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"

	"github.com/eduballesteros/terra-nostra/internal/domain"
)

const uniqueViolation = "23505"

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// Repository is the Postgres store for everything except carts: products,
// users, checkout sessions, orders and the outbox.
type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func NewRepositoryWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// --- products ---

func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT id, name, image_url, price FROM products WHERE id = $1`

	var p domain.Product
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.ImageURL, &p.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

// --- users ---

func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (id, name, email, password_hash, verified, created_at)
	          VALUES ($1, $2, $3, $4, $5, NOW())`

	_, err := r.db.ExecContext(ctx, query, user.ID, user.Name, user.Email, user.PasswordHash, user.Verified)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT id, name, email, password_hash, verified, verified_at, created_at
	                       FROM users WHERE email = $1`, email)
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT id, name, email, password_hash, verified, verified_at, created_at
	                       FROM users WHERE id = $1`, id)
}

func (r *Repository) getUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Verified, &u.VerifiedAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (r *Repository) MarkVerified(ctx context.Context, email string) error {
	query := `UPDATE users SET verified = TRUE, verified_at = NOW() WHERE email = $1`

	result, err := r.db.ExecContext(ctx, query, email)
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *Repository) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2 WHERE email = $1`

	result, err := r.db.ExecContext(ctx, query, email, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// --- checkout sessions ---

func (r *Repository) CreateSession(ctx context.Context, session *domain.CheckoutSession) error {
	snapshotJSON, err := json.Marshal(session.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal cart snapshot: %w", err)
	}
	shippingJSON, err := json.Marshal(session.Shipping)
	if err != nil {
		return fmt.Errorf("marshal shipping info: %w", err)
	}

	query := `INSERT INTO checkout_sessions (id, user_id, provider_order_id, cart_snapshot, shipping, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	_, insertErr := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.ProviderOrderID,
		snapshotJSON,
		shippingJSON,
		session.Status)

	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateSession
		}
		return fmt.Errorf("insert checkout session: %w", insertErr)
	}
	return nil
}

const sessionColumns = `id, user_id, provider_order_id, cart_snapshot, shipping, status, created_at, updated_at`

func (r *Repository) GetSessionByProviderOrder(ctx context.Context, providerOrderID string) (*domain.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE provider_order_id = $1`
	return r.scanSession(r.db.QueryRowContext(ctx, query, providerOrderID))
}

func (r *Repository) GetSessionByID(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE id = $1`
	return r.scanSession(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) scanSession(row *sql.Row) (*domain.CheckoutSession, error) {
	var (
		s            domain.CheckoutSession
		snapshotJSON []byte
		shippingJSON []byte
	)

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ProviderOrderID,
		&snapshotJSON,
		&shippingJSON,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkout session: %w", err)
	}

	if err := json.Unmarshal(snapshotJSON, &s.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal cart snapshot: %w", err)
	}
	if err := json.Unmarshal(shippingJSON, &s.Shipping); err != nil {
		return nil, fmt.Errorf("unmarshal shipping info: %w", err)
	}

	return &s, nil
}

// TransitionSession is the compare-and-swap the state machine is built on:
// the conditional UPDATE only succeeds for the caller that still observes
// the expected current status.
func (r *Repository) TransitionSession(ctx context.Context, id string, from, to domain.SessionStatus) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, domain.ErrIllegalTransition
	}

	query := `UPDATE checkout_sessions SET status = $3, updated_at = NOW()
	          WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition session rows affected: %w", err)
	}
	return n == 1, nil
}

// ConvertSession performs the exactly-once conversion in one transaction:
// insert the order, enqueue the outbox event and advance CAPTURED->CONVERTED.
// If another caller already advanced the session, everything rolls back and
// domain.ErrAlreadyConverted is returned.
func (r *Repository) ConvertSession(ctx context.Context, sessionID string, order *domain.Order) error {
	if !order.TotalAmount.Equal(order.ItemsTotal()) {
		return fmt.Errorf("order total %s does not match line items total %s",
			order.TotalAmount, order.ItemsTotal())
	}

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"order_id":     order.ID,
		"session_id":   sessionID,
		"user_id":      order.UserID,
		"buyer_email":  order.BuyerEmail,
		"items":        order.Items,
		"total_amount": order.TotalAmount,
		"currency":     order.Currency,
		"completed_at": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal order event payload: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conversion tx: %w", err)
	}
	defer tx.Rollback()

	claim := `UPDATE checkout_sessions SET status = $2, updated_at = NOW()
	          WHERE id = $1 AND status = $3`
	result, err := tx.ExecContext(ctx, claim, sessionID, domain.SessionStatusConverted, domain.SessionStatusCaptured)
	if err != nil {
		return fmt.Errorf("claim session conversion: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrAlreadyConverted
	}

	insertOrder := `INSERT INTO orders (id, session_id, user_id, buyer_name, buyer_email, total_amount,
	                                    currency, status, payment_method, shipping_addr, contact_phone, items, created_at)
	                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())`
	_, err = tx.ExecContext(ctx, insertOrder,
		order.ID,
		sessionID,
		order.UserID,
		order.BuyerName,
		order.BuyerEmail,
		order.TotalAmount,
		order.Currency,
		order.Status,
		order.PaymentMethod,
		order.ShippingAddr,
		order.ContactPhone,
		itemsJSON)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}

	insertEvent := `INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
	                VALUES ($1, $2, $3, NOW())`
	if _, err := tx.ExecContext(ctx, insertEvent, sessionID, "OrderCompleted", payload); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversion tx: %w", err)
	}
	return nil
}

// ExpireStaleSessions fails PENDING sessions the buyer abandoned. CAPTURED
// sessions are never expired here: money already moved, they go through the
// resume path instead.
func (r *Repository) ExpireStaleSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `UPDATE checkout_sessions SET status = $1, updated_at = NOW()
	          WHERE status = $2 AND created_at < $3`

	result, err := r.db.ExecContext(ctx, query, domain.SessionStatusFailed, domain.SessionStatusPending, olderThan)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	return result.RowsAffected()
}

// GetStuckSessions returns CAPTURED sessions whose conversion did not finish.
func (r *Repository) GetStuckSessions(ctx context.Context, olderThan time.Time) ([]*domain.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions
	          WHERE status = $1 AND updated_at < $2`

	rows, err := r.db.QueryContext(ctx, query, domain.SessionStatusCaptured, olderThan)
	if err != nil {
		return nil, fmt.Errorf("query stuck sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.CheckoutSession
	for rows.Next() {
		var (
			s            domain.CheckoutSession
			snapshotJSON []byte
			shippingJSON []byte
		)
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.ProviderOrderID,
			&snapshotJSON,
			&shippingJSON,
			&s.Status,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stuck session: %w", err)
		}
		if err := json.Unmarshal(snapshotJSON, &s.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal cart snapshot: %w", err)
		}
		if err := json.Unmarshal(shippingJSON, &s.Shipping); err != nil {
			return nil, fmt.Errorf("unmarshal shipping info: %w", err)
		}
		sessions = append(sessions, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sessions, nil
}

// --- orders ---

const orderColumns = `id, session_id, user_id, buyer_name, buyer_email, total_amount,
	currency, status, payment_method, shipping_addr, contact_phone, items, created_at`

func (r *Repository) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var (
		order     domain.Order
		itemsJSON []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.SessionID,
		&order.UserID,
		&order.BuyerName,
		&order.BuyerEmail,
		&order.TotalAmount,
		&order.Currency,
		&order.Status,
		&order.PaymentMethod,
		&order.ShippingAddr,
		&order.ContactPhone,
		&itemsJSON,
		&order.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}

	return &order, nil
}

func (r *Repository) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var (
			order     domain.Order
			itemsJSON []byte
		)
		if err := rows.Scan(
			&order.ID,
			&order.SessionID,
			&order.UserID,
			&order.BuyerName,
			&order.BuyerEmail,
			&order.TotalAmount,
			&order.Currency,
			&order.Status,
			&order.PaymentMethod,
			&order.ShippingAddr,
			&order.ContactPhone,
			&itemsJSON,
			&order.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return orders, nil
}

// --- outbox ---

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at FROM outbox_events
	          WHERE processed_at IS NULL ORDER BY id ASC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	query := `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark event as processed: %w", err)
	}
	return nil
}
