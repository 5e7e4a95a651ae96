package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned when a holder counter cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientBalance is returned when a platform withdrawal exceeds the running balance.
	ErrInsufficientBalance = errors.New("insufficient platform balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)
