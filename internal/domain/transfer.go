package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OutcomeStatus represents the terminal state of a transfer request
type OutcomeStatus string

const (
	StatusCommitted OutcomeStatus = "COMMITTED"
	StatusFailed    OutcomeStatus = "FAILED"
)

// FailureReason classifies why a transfer request failed
type FailureReason string

const (
	ReasonNone               FailureReason = ""
	ReasonInvalidRequest     FailureReason = "INVALID_REQUEST"
	ReasonInsufficientFunds  FailureReason = "INSUFFICIENT_FUNDS"
	ReasonLockContention     FailureReason = "LOCK_CONTENTION"
	ReasonChannelUnavailable FailureReason = "CHANNEL_UNAVAILABLE"
	ReasonCanceled           FailureReason = "CANCELED"
)

// TransferRequest represents a single request to move funds between two
// accounts. Requests are ephemeral; the durable record is the outcome.
type TransferRequest struct {
	ID            uuid.UUID
	AgentID       int
	SourceID      int64
	DestinationID int64
	Amount        decimal.Decimal
}

// Validate ensures the request adheres to domain rules. A zero maxAmount
// means no cap is enforced.
func (r TransferRequest) Validate(maxAmount decimal.Decimal) error {
	if r.SourceID == r.DestinationID {
		return ErrSameAccount
	}
	if r.Amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}
	if maxAmount.IsPositive() && r.Amount.GreaterThan(maxAmount) {
		return ErrAmountTooLarge
	}
	return nil
}

// TransferOutcome records the terminal result of one transfer request.
// StartedAt and CompletedAt bracket the whole attempt, including every
// retry, so outcome windows can be compared for temporal overlap.
type TransferOutcome struct {
	RequestID     uuid.UUID
	AgentID       int
	SourceID      int64
	DestinationID int64
	Amount        decimal.Decimal
	Status        OutcomeStatus
	Reason        FailureReason
	Retries       int
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Succeeded reports whether the transfer committed.
func (o TransferOutcome) Succeeded() bool {
	return o.Status == StatusCommitted
}

// Overlaps reports whether two outcome windows intersect in time.
// Windows that merely touch at an endpoint do not overlap.
func (o TransferOutcome) Overlaps(other TransferOutcome) bool {
	return o.StartedAt.Before(other.CompletedAt) && other.StartedAt.Before(o.CompletedAt)
}
