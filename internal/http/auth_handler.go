package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"time"

	"github.com/eduballesteros/terra-nostra/internal/domain"
)

// AccountAPI is satisfied by *service.AccountService.
type AccountAPI interface {
	Register(ctx context.Context, name, email, password string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (string, *domain.User, error)
	VerifyEmail(ctx context.Context, tok string) error
	ResendVerification(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ValidateResetToken(ctx context.Context, tok string) (bool, error)
	ResetPassword(ctx context.Context, tok, newPassword string) error
}

type AuthHandler struct {
	accounts AccountAPI
	timeout  time.Duration
}

func NewAuthHandler(accounts AccountAPI, timeout time.Duration) *AuthHandler {
	return &AuthHandler{accounts: accounts, timeout: timeout}
}

type RegisterRequestDTO struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequestDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponseDTO struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type EmailRequestDTO struct {
	Email string `json:"email"`
}

type ResetPasswordRequestDTO struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func validEmail(s string) bool {
	_, err := mail.ParseAddress(s)
	return err == nil
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req RegisterRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.Name == "" || !validEmail(req.Email) {
		respondError(w, http.StatusBadRequest, "invalid_request", "name and a valid email are required")
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "weak_password", "password must be at least 8 characters")
		return
	}

	user, err := h.accounts.Register(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req LoginRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	signed, user, err := h.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, LoginResponseDTO{
		Token: signed,
		Name:  user.Name,
		Email: user.Email,
	})
}

// VerifyEmail consumes the verification link token.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tok := r.URL.Query().Get("token")
	if tok == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing token parameter")
		return
	}

	if err := h.accounts.VerifyEmail(ctx, tok); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req EmailRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validEmail(req.Email) {
		respondError(w, http.StatusBadRequest, "invalid_request", "a valid email is required")
		return
	}

	if err := h.accounts.ResendVerification(ctx, req.Email); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req EmailRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validEmail(req.Email) {
		respondError(w, http.StatusBadRequest, "invalid_request", "a valid email is required")
		return
	}

	if err := h.accounts.RequestPasswordReset(ctx, req.Email); err != nil {
		handleServiceError(w, err)
		return
	}

	// Accepted regardless of whether the address exists.
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// ValidateResetToken backs the reset form page. It is read-only; rendering
// the form must not burn the single-use token.
func (h *AuthHandler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tok := r.URL.Query().Get("token")
	if tok == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing token parameter")
		return
	}

	ok, err := h.accounts.ValidateResetToken(ctx, tok)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ResetPasswordRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.Token == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "weak_password", "password must be at least 8 characters")
		return
	}

	if err := h.accounts.ResetPassword(ctx, req.Token, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "password_updated"})
}
