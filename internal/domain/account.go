package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlab/transfersim/internal/locking"
)

// Account represents an account participating in the simulation. Its balance
// is guarded by a timed mutex so that waiting for the lock can be bounded,
// and every mutation goes through Post while the lock is held.
type Account struct {
	ID int64

	mu      *locking.TimedMutex
	balance decimal.Decimal

	// workDelay is the artificial processing time spent inside each
	// critical section. It widens the lock-held window so that concurrent
	// requests actually contend with each other.
	workDelay time.Duration
}

// NewAccount creates an account with the given opening balance.
// The balance must not be negative.
func NewAccount(id int64, balance decimal.Decimal, workDelay time.Duration) (*Account, error) {
	if balance.IsNegative() {
		return nil, fmt.Errorf("account %d: %w", id, ErrNegativeBalance)
	}
	return &Account{
		ID:        id,
		mu:        locking.NewTimedMutex(),
		balance:   balance,
		workDelay: workDelay,
	}, nil
}

// Acquire takes the account lock, waiting no longer than ctx allows.
func (a *Account) Acquire(ctx context.Context) error {
	if err := a.mu.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire account %d: %w", a.ID, err)
	}
	return nil
}

// Release gives the account lock back.
func (a *Account) Release() {
	a.mu.Release()
}

// Post applies a signed delta to the balance. It is the only code path that
// mutates the balance and it rejects any delta that would make the balance
// negative. The caller must hold the account lock.
func (a *Account) Post(delta decimal.Decimal) error {
	next := a.balance.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("account %d: %w", a.ID, ErrInsufficientFunds)
	}
	a.balance = next
	return nil
}

// Deposit atomically adds amount to the balance. The amount must be positive.
func (a *Account) Deposit(ctx context.Context, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("deposit: %w", ErrNonPositiveAmount)
	}

	if err := a.Acquire(ctx); err != nil {
		return err
	}
	defer a.Release()

	a.simulateWork()
	return a.Post(amount)
}

// Withdraw atomically subtracts amount from the balance. The amount must be
// positive, and the balance check happens under the same lock as the
// mutation, so a failed withdrawal never changes the balance.
func (a *Account) Withdraw(ctx context.Context, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("withdraw: %w", ErrNonPositiveAmount)
	}

	if err := a.Acquire(ctx); err != nil {
		return err
	}
	defer a.Release()

	a.simulateWork()
	return a.Post(amount.Neg())
}

// Balance returns a lock-consistent snapshot of the balance.
func (a *Account) Balance(ctx context.Context) (decimal.Decimal, error) {
	if err := a.Acquire(ctx); err != nil {
		return decimal.Decimal{}, err
	}
	defer a.Release()

	return a.balance, nil
}

// simulateWork sleeps for the configured processing delay. It must only be
// called with the account lock held.
func (a *Account) simulateWork() {
	if a.workDelay > 0 {
		time.Sleep(a.workDelay)
	}
}
