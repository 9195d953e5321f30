// Package token issues and consumes the single-use, short-lived credentials
// behind password-reset and email-verification links. A token is valid iff it
// exists, has not expired and has not been consumed; consuming and deleting
// are one atomic step.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Purpose string

const (
	PurposePasswordReset Purpose = "password-reset"
	PurposeEmailVerify   Purpose = "email-verify"
)

var (
	ErrTokenInvalid = errors.New("token does not exist or was already used")
	ErrTokenExpired = errors.New("token has expired")
)

// expiryGrace keeps an expired record around past its logical expiry so that
// Consume can tell "expired" apart from "never existed". Redis evicts the key
// after the grace; before that, lazy cleanup happens on the Consume that
// finds it.
const expiryGrace = 24 * time.Hour

type record struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store manages tokens for one purpose. Password-reset and verification
// tokens live in separate key namespaces so a token issued for one can never
// be consumed as the other.
type Store struct {
	client  *redis.Client
	purpose Purpose
	now     func() time.Time
}

func NewStore(client *redis.Client, purpose Purpose) *Store {
	return &Store{client: client, purpose: purpose, now: time.Now}
}

func (s *Store) tokenKey(tok string) string {
	return fmt.Sprintf("token:%s:%s", s.purpose, tok)
}

func (s *Store) emailKey(email string) string {
	return fmt.Sprintf("token-email:%s:%s", s.purpose, email)
}

// Issue generates a fresh high-entropy token for the email, invalidating any
// prior outstanding token for the same email and purpose. Only one valid link
// per identity can exist at a time.
func (s *Store) Issue(ctx context.Context, email string, ttl time.Duration) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	old, err := s.client.Get(ctx, s.emailKey(email)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("look up prior token: %w", err)
	}
	if old != "" {
		if err := s.client.Del(ctx, s.tokenKey(old)).Err(); err != nil {
			return "", fmt.Errorf("invalidate prior token: %w", err)
		}
	}

	data, err := json.Marshal(record{Email: email, ExpiresAt: s.now().Add(ttl)})
	if err != nil {
		return "", fmt.Errorf("marshal token record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(tok), data, ttl+expiryGrace)
	pipe.Set(ctx, s.emailKey(email), tok, ttl+expiryGrace)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}

	return tok, nil
}

// Validate reports whether the token exists and is not yet expired. It is
// read-only: it never consumes and never deletes, even when the token turns
// out to be expired.
func (s *Store) Validate(ctx context.Context, tok string) (bool, error) {
	data, err := s.client.Get(ctx, s.tokenKey(tok)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up token: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, fmt.Errorf("unmarshal token record: %w", err)
	}

	return s.now().Before(rec.ExpiresAt), nil
}

// Consume atomically checks and deletes the token in one step. Under two
// concurrent consumptions of the same token, the GETDEL guarantees exactly
// one caller gets the email back; the other sees ErrTokenInvalid. Expired
// tokens found here are deleted as a side effect.
func (s *Store) Consume(ctx context.Context, tok string) (string, error) {
	data, err := s.client.GetDel(ctx, s.tokenKey(tok)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("consume token: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("unmarshal token record: %w", err)
	}

	// Drop the email index, unless a newer token has already replaced it.
	current, err := s.client.Get(ctx, s.emailKey(rec.Email)).Result()
	if err == nil && current == tok {
		_ = s.client.Del(ctx, s.emailKey(rec.Email)).Err()
	}

	if !s.now().Before(rec.ExpiresAt) {
		return "", ErrTokenExpired
	}

	return rec.Email, nil
}
