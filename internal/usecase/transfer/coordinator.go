// Package transfer implements the double-lock protocol that moves funds
// between two accounts without deadlocking.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerlab/transfersim/internal/backoff"
	"github.com/ledgerlab/transfersim/internal/domain"
)

const (
	DefaultLockTimeout = time.Second
	DefaultMaxRetries  = 5
	DefaultBackoffBase = 50 * time.Millisecond
)

// Config holds the tuning knobs of the transfer protocol.
type Config struct {
	// LockTimeout bounds each single lock acquisition.
	LockTimeout time.Duration
	// MaxRetries is how many times a request is retried after lock
	// contention before it fails for good.
	MaxRetries int
	// BackoffBase is the first retry delay; it doubles on every retry and
	// full jitter is applied on top.
	BackoffBase time.Duration
	// WorkDelay is the simulated processing time spent while both locks
	// are held.
	WorkDelay time.Duration
	// MaxAmount caps a single request. Zero means no cap.
	MaxAmount decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	return c
}

// Coordinator executes transfers between registered accounts.
type Coordinator struct {
	accounts map[int64]*domain.Account
	cfg      Config
	logger   *zap.Logger
}

// NewCoordinator creates a Coordinator over the given accounts. A nil
// logger disables logging.
func NewCoordinator(accounts []*domain.Account, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[int64]*domain.Account, len(accounts))
	for _, acc := range accounts {
		byID[acc.ID] = acc
	}
	return &Coordinator{accounts: byID, cfg: cfg.withDefaults(), logger: logger}
}

// Transfer runs the locking protocol for req and always returns a terminal
// outcome; failures are reported in the outcome, never as an error.
// Protocol:
//  1. Validate the request; invalid requests fail immediately.
//  2. Lock both accounts in ascending ID order, each acquisition bounded
//     by LockTimeout. Ordered acquisition rules out circular wait.
//  3. If a lock cannot be acquired in time, release whatever is already
//     held, back off with jitter, and retry the whole attempt. After
//     MaxRetries retries the request fails as LOCK_CONTENTION.
//  4. With both locks held, debit the source and credit the destination.
//     An insufficient balance is terminal; waiting would not create funds.
//  5. Locks are released in reverse acquisition order on every path.
//
// The outcome timestamps bracket the whole call, retries included.
func (c *Coordinator) Transfer(ctx context.Context, req domain.TransferRequest) domain.TransferOutcome {
	outcome := domain.TransferOutcome{
		RequestID:     req.ID,
		AgentID:       req.AgentID,
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		Amount:        req.Amount,
		StartedAt:     time.Now(),
	}

	if err := req.Validate(c.cfg.MaxAmount); err != nil {
		return c.fail(outcome, 0, domain.ReasonInvalidRequest, err)
	}

	src, ok := c.accounts[req.SourceID]
	if !ok {
		return c.fail(outcome, 0, domain.ReasonInvalidRequest,
			fmt.Errorf("%w: source %d", domain.ErrUnknownAccount, req.SourceID))
	}
	dst, ok := c.accounts[req.DestinationID]
	if !ok {
		return c.fail(outcome, 0, domain.ReasonInvalidRequest,
			fmt.Errorf("%w: destination %d", domain.ErrUnknownAccount, req.DestinationID))
	}

	for attempt := 0; ; attempt++ {
		err := c.attempt(ctx, src, dst, req.Amount)
		if err == nil {
			outcome.Status = domain.StatusCommitted
			outcome.Retries = attempt
			outcome.CompletedAt = time.Now()
			c.logger.Debug("transfer committed",
				zap.Stringer("request_id", req.ID),
				zap.Int64("source_id", req.SourceID),
				zap.Int64("destination_id", req.DestinationID),
				zap.String("amount", req.Amount.String()),
				zap.Int("retries", attempt),
			)
			return outcome
		}

		switch {
		case errors.Is(err, domain.ErrInsufficientFunds):
			return c.fail(outcome, attempt, domain.ReasonInsufficientFunds, err)
		case ctx.Err() != nil:
			return c.fail(outcome, attempt, domain.ReasonCanceled, err)
		}

		// Lock acquisition timed out.
		if attempt >= c.cfg.MaxRetries {
			return c.fail(outcome, attempt, domain.ReasonLockContention, err)
		}

		c.logger.Debug("lock contention, backing off",
			zap.Stringer("request_id", req.ID),
			zap.Int("attempt", attempt),
		)
		delay := backoff.ExponentialWithJitter(c.cfg.BackoffBase, attempt)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return c.fail(outcome, attempt, domain.ReasonCanceled, err)
		}
	}
}

// attempt makes one pass through the locking protocol. A nil return means
// the transfer committed.
func (c *Coordinator) attempt(ctx context.Context, src, dst *domain.Account, amount decimal.Decimal) error {
	first, second := src, dst
	if second.ID < first.ID {
		first, second = second, first
	}

	if err := c.acquire(ctx, first); err != nil {
		return err
	}
	defer first.Release()

	if err := c.acquire(ctx, second); err != nil {
		return err
	}
	defer second.Release()

	// Both locks held. The deferred releases unwind in reverse acquisition
	// order on every path out of this function, panics included.
	if c.cfg.WorkDelay > 0 {
		time.Sleep(c.cfg.WorkDelay)
	}

	if err := src.Post(amount.Neg()); err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	if err := dst.Post(amount); err != nil {
		// Undo the debit so a failed credit cannot destroy funds. A
		// positive credit only fails on misuse.
		_ = src.Post(amount)
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

// acquire takes one account lock, waiting at most LockTimeout.
func (c *Coordinator) acquire(ctx context.Context, acc *domain.Account) error {
	lockCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
	defer cancel()
	return acc.Acquire(lockCtx)
}

func (c *Coordinator) fail(outcome domain.TransferOutcome, retries int, reason domain.FailureReason, err error) domain.TransferOutcome {
	outcome.Status = domain.StatusFailed
	outcome.Reason = reason
	outcome.Retries = retries
	outcome.CompletedAt = time.Now()
	c.logger.Debug("transfer failed",
		zap.Stringer("request_id", outcome.RequestID),
		zap.Int64("source_id", outcome.SourceID),
		zap.Int64("destination_id", outcome.DestinationID),
		zap.String("reason", string(reason)),
		zap.Int("retries", retries),
		zap.Error(err),
	)
	return outcome
}
