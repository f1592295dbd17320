// Package orchestrator wires accounts, tellers, and agents together and
// runs the simulation to completion.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerlab/transfersim/internal/domain"
	"github.com/ledgerlab/transfersim/internal/usecase/agent"
	"github.com/ledgerlab/transfersim/internal/usecase/teller"
	"github.com/ledgerlab/transfersim/internal/usecase/transfer"
)

const DefaultProgressInterval = time.Second

// AccountSpec seeds one account at startup.
type AccountSpec struct {
	ID      int64
	Balance decimal.Decimal
}

// Config describes a complete simulation run.
type Config struct {
	Accounts         []AccountSpec
	Tellers          int
	Agents           int
	RequestsPerAgent int
	MaxAmount        decimal.Decimal
	LockTimeout      time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	WorkDelay        time.Duration
	ThinkTime        time.Duration
	ChannelAttempts  int
	RetryPause       time.Duration
	Seed             uint64
	ProgressInterval time.Duration
}

// Validate ensures the configuration describes a runnable simulation.
func (c Config) Validate() error {
	if len(c.Accounts) < 2 {
		return errors.New("at least two accounts are required")
	}
	seen := make(map[int64]bool, len(c.Accounts))
	for _, spec := range c.Accounts {
		if seen[spec.ID] {
			return fmt.Errorf("duplicate account ID %d", spec.ID)
		}
		seen[spec.ID] = true
		if spec.Balance.IsNegative() {
			return fmt.Errorf("account %d: %w", spec.ID, domain.ErrNegativeBalance)
		}
	}
	if c.Tellers < 1 {
		return errors.New("at least one teller is required")
	}
	if c.Agents < 1 {
		return errors.New("at least one agent is required")
	}
	if c.RequestsPerAgent < 1 {
		return errors.New("each agent needs at least one request")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Seed == 0 {
		c.Seed = uint64(time.Now().UnixNano())
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if !c.MaxAmount.IsPositive() {
		c.MaxAmount = decimal.NewFromInt(100)
	}
	return c
}

// RunResult is everything a finished run leaves behind for validation and
// reporting.
type RunResult struct {
	RunID            uuid.UUID
	Seed             uint64
	Outcomes         []domain.TransferOutcome
	InitialBalances  map[int64]decimal.Decimal
	FinalBalances    map[int64]decimal.Decimal
	TellerIntervals  map[int][]domain.ServiceInterval
	TellerServed     map[int]int64
	Committed        int64
	Failed           int64
	FailuresByReason map[domain.FailureReason]int64
	Elapsed          time.Duration
	Interrupted      bool
}

// TotalRequests returns how many requests reached a terminal outcome.
func (r *RunResult) TotalRequests() int {
	return len(r.Outcomes)
}

// tally aggregates live run counters across agents without locking.
type tally struct {
	completed atomic.Int64
	committed atomic.Int64
	failed    atomic.Int64
}

// Record implements agent.Recorder.
func (t *tally) Record(outcome domain.TransferOutcome) {
	t.completed.Add(1)
	if outcome.Succeeded() {
		t.committed.Add(1)
	} else {
		t.failed.Add(1)
	}
}

// Orchestrator builds the accounts, tellers, and agents described by its
// configuration and runs all agents as parallel workers.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger
}

// New creates an Orchestrator. It fails when the configuration does not
// describe a runnable simulation.
func New(cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg.withDefaults(), logger: logger}, nil
}

// Run executes the simulation: it seeds the accounts, spawns every agent on
// its own goroutine, joins them all, and returns the aggregated result.
// Reading agent logs and final balances strictly after the join is what
// makes the aggregation race-free. Canceling ctx winds the run down early;
// the partial result is still returned, with Interrupted set.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	accounts := make([]*domain.Account, 0, len(o.cfg.Accounts))
	accountIDs := make([]int64, 0, len(o.cfg.Accounts))
	initial := make(map[int64]decimal.Decimal, len(o.cfg.Accounts))
	for _, spec := range o.cfg.Accounts {
		acc, err := domain.NewAccount(spec.ID, spec.Balance, o.cfg.WorkDelay)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
		accountIDs = append(accountIDs, spec.ID)
		initial[spec.ID] = spec.Balance
	}

	coordinator := transfer.NewCoordinator(accounts, transfer.Config{
		LockTimeout: o.cfg.LockTimeout,
		MaxRetries:  o.cfg.MaxRetries,
		BackoffBase: o.cfg.BackoffBase,
		WorkDelay:   o.cfg.WorkDelay,
		MaxAmount:   o.cfg.MaxAmount,
	}, o.logger)

	tellers := make([]*teller.Teller, o.cfg.Tellers)
	servers := make([]agent.RequestServer, o.cfg.Tellers)
	for i := range tellers {
		tellers[i] = teller.NewTeller(i, coordinator, o.logger)
		servers[i] = tellers[i]
	}

	counters := &tally{}
	agents := make([]*agent.Agent, o.cfg.Agents)
	for i := range agents {
		agents[i] = agent.New(i, accountIDs, servers, counters, agent.Config{
			Requests:        o.cfg.RequestsPerAgent,
			MaxAmount:       o.cfg.MaxAmount,
			ChannelAttempts: o.cfg.ChannelAttempts,
			RetryPause:      o.cfg.RetryPause,
			ThinkTime:       o.cfg.ThinkTime,
		}, o.cfg.Seed, o.logger)
	}

	runID := uuid.New()
	total := int64(o.cfg.Agents) * int64(o.cfg.RequestsPerAgent)
	o.logger.Info("simulation starting",
		zap.Stringer("run_id", runID),
		zap.Int("accounts", len(accounts)),
		zap.Int("tellers", o.cfg.Tellers),
		zap.Int("agents", o.cfg.Agents),
		zap.Int64("total_requests", total),
		zap.Uint64("seed", o.cfg.Seed),
	)

	progressDone := make(chan struct{})
	var reporterWG sync.WaitGroup
	reporterWG.Add(1)
	go o.reportProgress(progressDone, &reporterWG, counters, total)

	started := time.Now()
	g, runCtx := errgroup.WithContext(ctx)
	for _, ag := range agents {
		g.Go(func() error {
			return ag.Run(runCtx)
		})
	}
	runErr := g.Wait()
	elapsed := time.Since(started)

	close(progressDone)
	reporterWG.Wait()

	interrupted := false
	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
			return nil, runErr
		}
		interrupted = true
		o.logger.Warn("simulation interrupted", zap.Error(runErr))
	}

	outcomes := make([]domain.TransferOutcome, 0, total)
	for _, ag := range agents {
		outcomes = append(outcomes, ag.Outcomes()...)
	}

	byReason := make(map[domain.FailureReason]int64)
	for _, outcome := range outcomes {
		if !outcome.Succeeded() {
			byReason[outcome.Reason]++
		}
	}

	// Agents are joined, so the locks are free and the balance snapshot
	// needs no deadline.
	final := make(map[int64]decimal.Decimal, len(accounts))
	for _, acc := range accounts {
		balance, err := acc.Balance(context.Background())
		if err != nil {
			return nil, err
		}
		final[acc.ID] = balance
	}

	intervals := make(map[int][]domain.ServiceInterval, len(tellers))
	served := make(map[int]int64, len(tellers))
	for _, tl := range tellers {
		intervals[tl.ID()] = tl.Intervals()
		served[tl.ID()] = tl.Served()
	}

	result := &RunResult{
		RunID:            runID,
		Seed:             o.cfg.Seed,
		Outcomes:         outcomes,
		InitialBalances:  initial,
		FinalBalances:    final,
		TellerIntervals:  intervals,
		TellerServed:     served,
		Committed:        counters.committed.Load(),
		Failed:           counters.failed.Load(),
		FailuresByReason: byReason,
		Elapsed:          elapsed,
		Interrupted:      interrupted,
	}

	o.logger.Info("simulation finished",
		zap.Stringer("run_id", runID),
		zap.Int("requests", result.TotalRequests()),
		zap.Int64("committed", result.Committed),
		zap.Int64("failed", result.Failed),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// reportProgress logs throughput statistics until the run finishes.
func (o *Orchestrator) reportProgress(done <-chan struct{}, wg *sync.WaitGroup, counters *tally, total int64) {
	defer wg.Done()

	ticker := time.NewTicker(o.cfg.ProgressInterval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			completed := counters.completed.Load()
			rate := float64(completed-last) / o.cfg.ProgressInterval.Seconds()
			last = completed
			o.logger.Info("progress",
				zap.Int64("completed", completed),
				zap.Int64("total", total),
				zap.Int64("committed", counters.committed.Load()),
				zap.Int64("failed", counters.failed.Load()),
				zap.Float64("rate_per_sec", rate),
			)
		}
	}
}
