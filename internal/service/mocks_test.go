package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eduballesteros/terra-nostra/internal/cache"
	"github.com/eduballesteros/terra-nostra/internal/domain"
	"github.com/eduballesteros/terra-nostra/internal/gateway"
	"github.com/eduballesteros/terra-nostra/internal/repository"
	"github.com/eduballesteros/terra-nostra/internal/token"
)

var errWrongPassword = errors.New("password mismatch")

// memCartRepo implements repository.CartRepository in memory for testing.
type memCartRepo struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
	err   error // when set, every call fails with it
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: make(map[string]*domain.Cart)}
}

func (m *memCartRepo) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[userID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	cp := *cart
	cp.Items = append([]domain.CartItem(nil), cart.Items...)
	return &cp, nil
}

func (m *memCartRepo) AddItem(_ context.Context, userID string, item domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cart, ok := m.carts[userID]
	if !ok {
		cart = &domain.Cart{UserID: userID, CreatedAt: time.Now()}
		m.carts[userID] = cart
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == item.ProductID {
			// Quantity accumulates, the frozen price does not move.
			cart.Items[i].Quantity += item.Quantity
			cart.UpdatedAt = time.Now()
			return nil
		}
	}
	cart.Items = append(cart.Items, item)
	cart.UpdatedAt = time.Now()
	return nil
}

func (m *memCartRepo) UpdateItemQuantity(_ context.Context, userID string, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cart, ok := m.carts[userID]
	if !ok {
		return domain.ErrCartNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			if quantity == 0 {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			} else {
				cart.Items[i].Quantity = quantity
			}
			return nil
		}
	}
	return domain.ErrItemNotFound
}

func (m *memCartRepo) RemoveItem(_ context.Context, userID string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cart, ok := m.carts[userID]
	if !ok {
		return domain.ErrItemNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			return nil
		}
	}
	return domain.ErrItemNotFound
}

func (m *memCartRepo) DeleteCart(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.carts, userID)
	return nil
}

// memProductRepo implements repository.ProductRepository.
type memProductRepo struct {
	products map[int64]*domain.Product
}

func (m *memProductRepo) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return p, nil
}

// memCache implements cache.CartCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]*domain.Cart
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*domain.Cart)}
}

func (m *memCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.entries[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (m *memCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = cart
	return nil
}

func (m *memCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}

// memSessionRepo implements repository.SessionRepository with the same
// compare-and-swap and one-live-session semantics the database enforces.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.CheckoutSession
	orders   map[string]*domain.Order // keyed by session id
	outbox   []repository.OutboxEvent
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[string]*domain.CheckoutSession),
		orders:   make(map[string]*domain.Order),
	}
}

func (m *memSessionRepo) CreateSession(_ context.Context, session *domain.CheckoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == session.UserID && !s.Status.IsTerminal() {
			return repository.ErrDuplicateSession
		}
	}
	cp := *session
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memSessionRepo) GetSessionByProviderOrder(_ context.Context, providerOrderID string) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ProviderOrderID == providerOrderID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (m *memSessionRepo) GetSessionByID(_ context.Context, id string) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) TransitionSession(_ context.Context, id string, from, to domain.SessionStatus) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, domain.ErrIllegalTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *memSessionRepo) ConvertSession(_ context.Context, sessionID string, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.Status != domain.SessionStatusCaptured {
		return domain.ErrAlreadyConverted
	}
	if _, exists := m.orders[sessionID]; exists {
		return repository.ErrDuplicateOrder
	}
	s.Status = domain.SessionStatusConverted
	s.UpdatedAt = time.Now()
	cp := *order
	m.orders[sessionID] = &cp
	m.outbox = append(m.outbox, repository.OutboxEvent{
		AggregateID: order.ID.String(),
		EventType:   "OrderCompleted",
		CreatedAt:   time.Now(),
	})
	return nil
}

func (m *memSessionRepo) ExpireStaleSessions(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.Status == domain.SessionStatusPending && s.CreatedAt.Before(olderThan) {
			s.Status = domain.SessionStatusFailed
			n++
		}
	}
	return n, nil
}

func (m *memSessionRepo) GetStuckSessions(_ context.Context, olderThan time.Time) ([]*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CheckoutSession
	for _, s := range m.sessions {
		if s.Status == domain.SessionStatusCaptured && s.UpdatedAt.Before(olderThan) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSessionRepo) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// memUserRepo implements repository.UserRepository.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User // keyed by email
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*domain.User)}
}

func (m *memUserRepo) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.Email]; exists {
		return domain.ErrEmailTaken
	}
	cp := *user
	cp.CreatedAt = time.Now()
	m.users[user.Email] = &cp
	return nil
}

func (m *memUserRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *memUserRepo) MarkVerified(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return domain.ErrUserNotFound
	}
	now := time.Now()
	u.Verified = true
	u.VerifiedAt = &now
	return nil
}

func (m *memUserRepo) UpdatePassword(_ context.Context, email, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

// mockGateway implements gateway.Gateway with counters for asserting how many
// times the provider was actually hit.
type mockGateway struct {
	mu            sync.Mutex
	authorizeErr  error
	captureErr    error
	captureStatus gateway.CaptureStatus
	authorizeCnt  int
	captureCnt    int
	lastAmount    decimal.Decimal
}

func (m *mockGateway) Authorize(_ context.Context, amount decimal.Decimal, _ string) (*gateway.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorizeCnt++
	m.lastAmount = amount
	if m.authorizeErr != nil {
		return nil, m.authorizeErr
	}
	return &gateway.Authorization{
		ProviderOrderID: "PP-ORDER-1",
		ApprovalURL:     "https://sandbox.paypal.test/approve/PP-ORDER-1",
	}, nil
}

func (m *mockGateway) Capture(_ context.Context, providerOrderID string) (*gateway.CaptureResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captureCnt++
	if m.captureErr != nil {
		return nil, m.captureErr
	}
	status := m.captureStatus
	if status == "" {
		status = gateway.CaptureStatusCompleted
	}
	return &gateway.CaptureResult{
		Status:          status,
		AmountCaptured:  m.lastAmount,
		ProviderOrderID: providerOrderID,
	}, nil
}

func (m *mockGateway) captures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captureCnt
}

// mockMailer implements notify.Mailer and records every send.
type mockMailer struct {
	mu    sync.Mutex
	sent  []sentMail
	err   error
	wg    sync.WaitGroup
	waits bool
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

func (m *mockMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waits {
		defer m.wg.Done()
	}
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *mockMailer) expect(n int) {
	m.waits = true
	m.wg.Add(n)
}

func (m *mockMailer) wait() {
	m.wg.Wait()
}

func (m *mockMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fakeTokenStore implements TokenStore without Redis.
type fakeTokenStore struct {
	mu      sync.Mutex
	tokens  map[string]string // token -> email
	byEmail map[string]string
	expired map[string]bool
	seq     int
	err     error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{
		tokens:  make(map[string]string),
		byEmail: make(map[string]string),
		expired: make(map[string]bool),
	}
}

func (f *fakeTokenStore) Issue(_ context.Context, email string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if old, ok := f.byEmail[email]; ok {
		delete(f.tokens, old)
	}
	f.seq++
	tok := fmt.Sprintf("%s-tok-%d", email, f.seq)
	f.tokens[tok] = email
	f.byEmail[email] = tok
	return tok, nil
}

func (f *fakeTokenStore) Validate(_ context.Context, tok string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tokens[tok]
	return ok && !f.expired[tok], nil
}

func (f *fakeTokenStore) Consume(_ context.Context, tok string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.tokens[tok]
	if !ok {
		return "", token.ErrTokenInvalid
	}
	delete(f.tokens, tok)
	delete(f.byEmail, email)
	if f.expired[tok] {
		return "", token.ErrTokenExpired
	}
	return email, nil
}

// plainHasher avoids bcrypt cost in tests.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return errWrongPassword
	}
	return nil
}
