package domain

import "errors"

var (
	// ErrInsufficientFunds is returned when a debit would drive a balance
	// below zero. Waiting cannot fix it, so callers must not retry.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNonPositiveAmount is returned for zero or negative amounts.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrSameAccount is returned when a transfer names one account twice.
	ErrSameAccount = errors.New("source and destination accounts must differ")

	// ErrAmountTooLarge is returned when a request exceeds the transfer cap.
	ErrAmountTooLarge = errors.New("amount exceeds the transfer limit")

	// ErrUnknownAccount is returned when a request names an account that
	// was never registered.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrNegativeBalance is returned when an account would be created with
	// a negative opening balance.
	ErrNegativeBalance = errors.New("initial balance cannot be negative")
)
