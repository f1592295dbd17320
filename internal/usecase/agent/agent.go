// Package agent implements the simulated customers that generate transfer
// requests.
package agent

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerlab/transfersim/internal/backoff"
	"github.com/ledgerlab/transfersim/internal/domain"
)

const (
	DefaultChannelAttempts = 3
	DefaultRetryPause      = 10 * time.Millisecond
)

// RequestServer is the slice of teller behavior agents depend on.
type RequestServer interface {
	ID() int
	TryServe(ctx context.Context, req domain.TransferRequest) (domain.TransferOutcome, bool)
}

// Recorder consumes each outcome as it is produced, on the agent's own
// goroutine. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(outcome domain.TransferOutcome)
}

// Config holds the knobs driving one agent's request stream.
type Config struct {
	// Requests is how many transfer requests the agent issues.
	Requests int
	// MaxAmount bounds the random request amounts.
	MaxAmount decimal.Decimal
	// ChannelAttempts is how many busy tellers the agent tries per request
	// before giving the request up as CHANNEL_UNAVAILABLE.
	ChannelAttempts int
	// RetryPause bounds the jittered pause between busy-teller tries.
	RetryPause time.Duration
	// ThinkTime bounds the random pause between consecutive requests.
	ThinkTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChannelAttempts <= 0 {
		c.ChannelAttempts = DefaultChannelAttempts
	}
	if c.RetryPause <= 0 {
		c.RetryPause = DefaultRetryPause
	}
	if !c.MaxAmount.IsPositive() {
		c.MaxAmount = decimal.NewFromInt(100)
	}
	return c
}

// Agent issues randomized transfer requests against the shared accounts
// through whichever teller it can grab. Each agent owns its outcome log;
// the log may be read only after Run has returned.
type Agent struct {
	id       int
	accounts []int64
	tellers  []RequestServer
	recorder Recorder
	cfg      Config
	maxCents int64
	rng      *rand.Rand
	logger   *zap.Logger

	outcomes []domain.TransferOutcome
}

// New creates an agent. The accounts slice must hold at least two IDs and
// tellers must not be empty; the orchestrator validates both. The agent's
// RNG is derived from the base seed and the agent ID, so runs with a fixed
// seed replay the same request stream.
func New(id int, accounts []int64, tellers []RequestServer, recorder Recorder, cfg Config, seed uint64, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Agent{
		id:       id,
		accounts: accounts,
		tellers:  tellers,
		recorder: recorder,
		cfg:      cfg,
		maxCents: maxCents(cfg.MaxAmount),
		rng:      rand.New(rand.NewPCG(seed, uint64(id))),
		logger:   logger.With(zap.Int("agent_id", id)),
		outcomes: make([]domain.TransferOutcome, 0, cfg.Requests),
	}
}

// ID returns the agent identifier.
func (a *Agent) ID() int {
	return a.id
}

// Run issues the configured number of requests, pausing a random think time
// between them, and records every outcome in the agent's log. Individual
// request failures are outcomes, not errors; the returned error is non-nil
// only when ctx ends the run early.
func (a *Agent) Run(ctx context.Context) error {
	for i := 0; i < a.cfg.Requests; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		req := a.nextRequest()
		outcome := a.dispatch(ctx, req)
		a.outcomes = append(a.outcomes, outcome)
		if a.recorder != nil {
			a.recorder.Record(outcome)
		}

		if err := a.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Outcomes returns the agent's outcome log. Call it only after Run has
// returned.
func (a *Agent) Outcomes() []domain.TransferOutcome {
	return a.outcomes
}

// dispatch finds a teller for req. Busy tellers are retried with a jittered
// pause up to ChannelAttempts times; when every try lands on a busy teller
// the request fails as CHANNEL_UNAVAILABLE.
func (a *Agent) dispatch(ctx context.Context, req domain.TransferRequest) domain.TransferOutcome {
	started := time.Now()

	for try := 0; try < a.cfg.ChannelAttempts; try++ {
		if ctx.Err() != nil {
			return a.giveUp(req, started, domain.ReasonCanceled)
		}

		picked := a.tellers[a.rng.IntN(len(a.tellers))]
		if outcome, ok := picked.TryServe(ctx, req); ok {
			return outcome
		}

		a.logger.Debug("teller busy",
			zap.Int("teller_id", picked.ID()),
			zap.Int("try", try),
		)
		if try < a.cfg.ChannelAttempts-1 {
			if err := backoff.Sleep(ctx, backoff.FullJitter(a.cfg.RetryPause)); err != nil {
				return a.giveUp(req, started, domain.ReasonCanceled)
			}
		}
	}

	a.logger.Debug("no teller available", zap.Stringer("request_id", req.ID))
	return a.giveUp(req, started, domain.ReasonChannelUnavailable)
}

// giveUp builds the terminal outcome for a request that never reached a
// teller.
func (a *Agent) giveUp(req domain.TransferRequest, started time.Time, reason domain.FailureReason) domain.TransferOutcome {
	return domain.TransferOutcome{
		RequestID:     req.ID,
		AgentID:       req.AgentID,
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		Amount:        req.Amount,
		Status:        domain.StatusFailed,
		Reason:        reason,
		StartedAt:     started,
		CompletedAt:   time.Now(),
	}
}

// nextRequest draws two distinct random accounts and a random amount.
func (a *Agent) nextRequest() domain.TransferRequest {
	source := a.accounts[a.rng.IntN(len(a.accounts))]
	destination := a.accounts[a.rng.IntN(len(a.accounts))]
	for destination == source {
		destination = a.accounts[a.rng.IntN(len(a.accounts))]
	}

	return domain.TransferRequest{
		ID:            uuid.New(),
		AgentID:       a.id,
		SourceID:      source,
		DestinationID: destination,
		Amount:        a.randomAmount(),
	}
}

// randomAmount picks a whole-cent amount in (0, MaxAmount].
func (a *Agent) randomAmount() decimal.Decimal {
	cents := a.rng.Int64N(a.maxCents) + 1
	return decimal.New(cents, -2)
}

// pause sleeps a random think time between requests.
func (a *Agent) pause(ctx context.Context) error {
	if a.cfg.ThinkTime <= 0 {
		return nil
	}
	return backoff.Sleep(ctx, time.Duration(a.rng.Int64N(int64(a.cfg.ThinkTime))))
}

func maxCents(maxAmount decimal.Decimal) int64 {
	cents := maxAmount.Mul(decimal.NewFromInt(100)).IntPart()
	if cents < 1 {
		return 1
	}
	return cents
}
