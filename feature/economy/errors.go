package economy

import "errors"

var (
	// ErrValidation rejects malformed input (negative amounts, empty ids)
	// before any store or cache interaction happens.
	ErrValidation = errors.New("economy: invalid argument")
	// ErrNoAccount indicates a mutation targeting an account that does not
	// exist.
	ErrNoAccount = errors.New("economy: account not found")
	// ErrInsufficientFunds rejects a withdrawal larger than the balance.
	ErrInsufficientFunds = errors.New("economy: insufficient funds")
)
