// Package http is the JSON surface of the shop: account flows, cart, checkout
// and order history, behind chi with JWT bearer auth on everything that acts
// on behalf of a user. Payment provider redirects land here too and must stay
// unauthenticated, the buyer's session is not in the provider's hands.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	JWTSecret      []byte
	RequestTimeout time.Duration
}

func NewRouter(
	cfg RouterConfig,
	auth *AuthHandler,
	cart *CartHandler,
	checkout *CheckoutHandler,
	orders *OrdersHandler,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public account endpoints.
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", auth.Register)
			r.Post("/login", auth.Login)
			r.Get("/verify", auth.VerifyEmail)
			r.Post("/verify/resend", auth.ResendVerification)
			r.Post("/password/forgot", auth.RequestPasswordReset)
			r.Get("/password/reset", auth.ValidateResetToken)
			r.Post("/password/reset", auth.ResetPassword)
		})

		// Provider redirects carry no bearer token.
		r.Get("/checkout/return", checkout.Return)
		r.Get("/checkout/cancel", checkout.Cancel)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cart.GetCart)
				r.Post("/items", cart.AddItem)
				r.Put("/items/{product_id}", cart.UpdateQuantity)
				r.Delete("/items/{product_id}", cart.RemoveItem)
				r.Delete("/", cart.ClearCart)
			})

			r.Post("/checkout", checkout.Begin)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", orders.ListOrders)
				r.Get("/{order_id}", orders.GetOrder)
			})
		})
	})

	return r
}
