package service

import "errors"

// Sentinel errors returned by CheckoutService. They are always wrapped with
// context, match them with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrGateway      = errors.New("gateway error")
	ErrSignature    = errors.New("signature error")
	ErrInternal     = errors.New("internal error")
)
