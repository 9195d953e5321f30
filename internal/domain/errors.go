package domain

import "errors"

var (
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrCartNotFound    = errors.New("cart not found")
	ErrEmptyCart       = errors.New("cart is empty, nothing to checkout")

	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	ErrCheckoutInProgress = errors.New("another checkout is already in progress for this user")
	ErrSessionNotFound    = errors.New("checkout session not found")
	ErrAlreadyConverted   = errors.New("checkout session already converted to an order")
	ErrIllegalTransition  = errors.New("illegal transition of checkout session status")

	ErrOrderNotFound = errors.New("order not found")

	ErrProductNotFound = errors.New("product not found")

	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotVerified        = errors.New("email address not verified")
)
