package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/eduballesteros/terra-nostra/internal/domain"
	"github.com/eduballesteros/terra-nostra/internal/notify"
	"github.com/eduballesteros/terra-nostra/internal/repository"
)

// TokenStore is the single-use token surface the account flows need.
// *token.Store satisfies it.
type TokenStore interface {
	Issue(ctx context.Context, email string, ttl time.Duration) (string, error)
	Validate(ctx context.Context, tok string) (bool, error)
	Consume(ctx context.Context, tok string) (string, error)
}

// PasswordHasher isolates the hashing scheme so tests do not pay bcrypt cost.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type bcryptHasher struct{}

func (bcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (bcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func NewBcryptHasher() PasswordHasher { return bcryptHasher{} }

// AccountConfig carries the knobs for signing sessions and building the links
// embedded in account emails.
type AccountConfig struct {
	JWTSecret  []byte
	JWTTTL     time.Duration
	AppBaseURL string
	VerifyTTL  time.Duration
	ResetTTL   time.Duration
}

// AccountService covers registration, email verification, login and password
// reset. Verification and reset both ride on single-use tokens; the stores
// are purpose-scoped so one kind of link can never be replayed as the other.
type AccountService struct {
	users        repository.UserRepository
	verifyTokens TokenStore
	resetTokens  TokenStore
	mailer       notify.Mailer
	hasher       PasswordHasher
	cfg          AccountConfig
}

func NewAccountService(
	users repository.UserRepository,
	verifyTokens, resetTokens TokenStore,
	mailer notify.Mailer,
	hasher PasswordHasher,
	cfg AccountConfig,
) *AccountService {
	return &AccountService{
		users:        users,
		verifyTokens: verifyTokens,
		resetTokens:  resetTokens,
		mailer:       mailer,
		hasher:       hasher,
		cfg:          cfg,
	}
}

// Register creates the account unverified and emails a verification link.
// A failure to send the email does not roll back the registration; the user
// can ask for a resend.
func (s *AccountService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if err := s.sendVerification(ctx, user); err != nil {
		slog.Warn("verification email failed", "email", email, "err", err)
	}

	return user, nil
}

// ResendVerification issues a fresh link, invalidating the previous one. For
// an already verified account it does nothing.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		// Do not reveal whether the address is registered.
		slog.Info("verification resend for unknown email", "email", email)
		return nil
	}
	if err != nil {
		return err
	}
	if user.Verified {
		return nil
	}

	return s.sendVerification(ctx, user)
}

func (s *AccountService) sendVerification(ctx context.Context, user *domain.User) error {
	tok, err := s.verifyTokens.Issue(ctx, user.Email, s.cfg.VerifyTTL)
	if err != nil {
		return fmt.Errorf("issue verification token: %w", err)
	}

	link := fmt.Sprintf("%s/verify?token=%s", s.cfg.AppBaseURL, tok)
	body := fmt.Sprintf("Hola %s,\n\nConfirma tu correo en el siguiente enlace:\n\n%s\n\nEl enlace caduca en %s.\n\nTerra Nostra",
		user.Name, link, s.cfg.VerifyTTL)

	if err := s.mailer.Send(user.Email, "Verifica tu cuenta", body); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

// VerifyEmail consumes the token and marks the account verified. The token is
// gone after this call regardless of whether it had expired.
func (s *AccountService) VerifyEmail(ctx context.Context, tok string) error {
	email, err := s.verifyTokens.Consume(ctx, tok)
	if err != nil {
		return err
	}

	if err := s.users.MarkVerified(ctx, email); err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}

	slog.Info("email verified", "email", email)
	return nil
}

// Login checks the credentials and returns a signed session token. Unknown
// email and wrong password are indistinguishable to the caller.
func (s *AccountService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return "", nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return "", nil, domain.ErrInvalidCredentials
	}

	if !user.Verified {
		return "", nil, domain.ErrNotVerified
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"name":  user.Name,
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.JWTTTL).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.JWTSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}

	return signed, user, nil
}

// RequestPasswordReset emails a reset link. It reports success even for
// unknown addresses so the endpoint cannot be used to enumerate accounts.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		slog.Info("password reset for unknown email", "email", email)
		return nil
	}
	if err != nil {
		return err
	}

	tok, err := s.resetTokens.Issue(ctx, user.Email, s.cfg.ResetTTL)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.AppBaseURL, tok)
	body := fmt.Sprintf("Hola %s,\n\nPara restablecer tu contraseña usa este enlace:\n\n%s\n\nEl enlace caduca en %s y solo puede usarse una vez.\n\nSi no lo has pedido, ignora este correo.\n\nTerra Nostra",
		user.Name, link, s.cfg.ResetTTL)

	if err := s.mailer.Send(user.Email, "Restablecer contraseña", body); err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	return nil
}

// ValidateResetToken is the read-only check behind the reset form page. It
// never consumes the token, so rendering the form does not burn the link.
func (s *AccountService) ValidateResetToken(ctx context.Context, tok string) (bool, error) {
	return s.resetTokens.Validate(ctx, tok)
}

// ResetPassword consumes the token and stores the new hash. A second submit
// with the same token fails with ErrTokenInvalid.
func (s *AccountService) ResetPassword(ctx context.Context, tok, newPassword string) error {
	email, err := s.resetTokens.Consume(ctx, tok)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, email, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	slog.Info("password reset", "email", email)
	return nil
}
