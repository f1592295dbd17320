// Package teller models the service channels that requests are funneled
// through. A teller serves one request at a time.
package teller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerlab/transfersim/internal/domain"
)

// TransferExecutor runs the transfer protocol for one request.
type TransferExecutor interface {
	Transfer(ctx context.Context, req domain.TransferRequest) domain.TransferOutcome
}

// Teller is a service channel. It serializes the requests it accepts and
// keeps a lock-protected record of how many it served and when.
type Teller struct {
	id       int
	executor TransferExecutor
	logger   *zap.Logger

	// busy is held for the full duration of one service. TryServe turns a
	// held busy lock into the "teller occupied" signal.
	busy sync.Mutex

	mu        sync.Mutex // guards the tallies below
	served    int64
	intervals []domain.ServiceInterval
}

// NewTeller creates a Teller backed by the given executor. A nil logger
// disables logging.
func NewTeller(id int, executor TransferExecutor, logger *zap.Logger) *Teller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Teller{id: id, executor: executor, logger: logger}
}

// ID returns the teller identifier.
func (t *Teller) ID() int {
	return t.id
}

// Serve handles req, waiting for the teller to become free first.
func (t *Teller) Serve(ctx context.Context, req domain.TransferRequest) domain.TransferOutcome {
	t.busy.Lock()
	defer t.busy.Unlock()
	return t.serve(ctx, req)
}

// TryServe handles req only if the teller is idle right now. The second
// return value is false when the teller is busy with another request;
// whether to wait, retry elsewhere, or give up is the caller's policy.
func (t *Teller) TryServe(ctx context.Context, req domain.TransferRequest) (domain.TransferOutcome, bool) {
	if !t.busy.TryLock() {
		return domain.TransferOutcome{}, false
	}
	defer t.busy.Unlock()
	return t.serve(ctx, req), true
}

func (t *Teller) serve(ctx context.Context, req domain.TransferRequest) domain.TransferOutcome {
	start := time.Now()
	outcome := t.executor.Transfer(ctx, req)
	t.record(start, time.Now())

	t.logger.Debug("request served",
		zap.Int("teller_id", t.id),
		zap.Stringer("request_id", req.ID),
		zap.String("status", string(outcome.Status)),
	)
	return outcome
}

// record appends the service window and bumps the served counter.
func (t *Teller) record(start, end time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.served++
	t.intervals = append(t.intervals, domain.ServiceInterval{TellerID: t.id, Start: start, End: end})
}

// Served returns how many requests this teller completed.
func (t *Teller) Served() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.served
}

// Intervals returns a copy of the recorded service windows.
func (t *Teller) Intervals() []domain.ServiceInterval {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ServiceInterval, len(t.intervals))
	copy(out, t.intervals)
	return out
}
