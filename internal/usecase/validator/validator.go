// Package validator runs post-run analysis over a finished simulation:
// balance reconciliation plus evidence that the run was actually concurrent.
package validator

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerlab/transfersim/internal/usecase/orchestrator"
)

// DefaultTolerance is the largest absolute difference accepted when
// reconciling balances.
var DefaultTolerance = decimal.New(1, -3)

// DefaultMaxLoadDeviation caps how far, in percent, a single teller may
// stray from the mean served count.
const DefaultMaxLoadDeviation = 50.0

// CheckResult is the verdict of a single validation check.
type CheckResult struct {
	Name    string
	Passed  bool
	Details string
}

// Report collects every check verdict for one run.
type Report struct {
	Checks []CheckResult
}

// Passed reports whether every check passed.
func (r Report) Passed() bool {
	for _, check := range r.Checks {
		if !check.Passed {
			return false
		}
	}
	return true
}

// Option tunes a Validator.
type Option func(*Validator)

// WithTolerance overrides the reconciliation tolerance.
func WithTolerance(tolerance decimal.Decimal) Option {
	return func(v *Validator) {
		v.tolerance = tolerance
	}
}

// WithMaxLoadDeviation overrides the teller load-balance threshold.
func WithMaxLoadDeviation(percent float64) Option {
	return func(v *Validator) {
		v.maxLoadDeviation = percent
	}
}

// Validator checks a RunResult against the simulation's correctness
// properties.
type Validator struct {
	tolerance        decimal.Decimal
	maxLoadDeviation float64
	logger           *zap.Logger
}

// New creates a Validator with the default thresholds unless options
// override them.
func New(logger *zap.Logger, opts ...Option) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		tolerance:        DefaultTolerance,
		maxLoadDeviation: DefaultMaxLoadDeviation,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check runs every validation over the result and returns the verdicts.
func (v *Validator) Check(result *orchestrator.RunResult) Report {
	report := Report{
		Checks: []CheckResult{
			v.checkAgentConcurrency(result),
			v.checkTellerConcurrency(result),
			v.checkReconciliation(result),
			v.checkLoadBalance(result),
		},
	}
	for _, check := range report.Checks {
		v.logger.Debug("validation check",
			zap.String("check", check.Name),
			zap.Bool("passed", check.Passed),
			zap.String("details", check.Details),
		)
	}
	v.logger.Info("validation finished", zap.Bool("passed", report.Passed()))
	return report
}

// window is a time span tagged with the agent or teller that produced it.
type window struct {
	owner int
	start time.Time
	end   time.Time
}

// crossOwnerOverlap reports whether any two windows with different owners
// overlap. Windows sharing only an endpoint do not count.
func crossOwnerOverlap(windows []window) bool {
	slices.SortFunc(windows, func(a, b window) int {
		return a.start.Compare(b.start)
	})

	// Sweep in start order, tracking the latest end seen so far and the
	// latest end owned by anyone other than its owner.
	var bestEnd, otherEnd time.Time
	bestOwner := -1
	for _, w := range windows {
		limit := bestEnd
		if w.owner == bestOwner {
			limit = otherEnd
		}
		if w.start.Before(limit) {
			return true
		}
		if w.end.After(bestEnd) {
			if w.owner != bestOwner {
				if bestEnd.After(otherEnd) {
					otherEnd = bestEnd
				}
				bestOwner = w.owner
			}
			bestEnd = w.end
		} else if w.owner != bestOwner && w.end.After(otherEnd) {
			otherEnd = w.end
		}
	}
	return false
}

// checkAgentConcurrency looks for at least one pair of outcomes from
// different agents whose attempt windows overlap in time.
func (v *Validator) checkAgentConcurrency(result *orchestrator.RunResult) CheckResult {
	check := CheckResult{Name: "agent_concurrency"}

	agents := make(map[int]bool)
	windows := make([]window, 0, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		agents[outcome.AgentID] = true
		windows = append(windows, window{
			owner: outcome.AgentID,
			start: outcome.StartedAt,
			end:   outcome.CompletedAt,
		})
	}
	if len(agents) < 2 {
		check.Passed = true
		check.Details = "fewer than two agents produced outcomes, nothing to compare"
		return check
	}

	if crossOwnerOverlap(windows) {
		check.Passed = true
		check.Details = fmt.Sprintf("found overlapping operations across %d agents", len(agents))
	} else {
		check.Details = fmt.Sprintf("no overlapping operations across %d agents", len(agents))
	}
	return check
}

// checkTellerConcurrency looks for at least one pair of service intervals
// from different tellers overlapping in time.
func (v *Validator) checkTellerConcurrency(result *orchestrator.RunResult) CheckResult {
	check := CheckResult{Name: "teller_concurrency"}

	tellers := make(map[int]bool)
	var windows []window
	for id, intervals := range result.TellerIntervals {
		if len(intervals) > 0 {
			tellers[id] = true
		}
		for _, interval := range intervals {
			windows = append(windows, window{
				owner: interval.TellerID,
				start: interval.Start,
				end:   interval.End,
			})
		}
	}
	if len(tellers) < 2 {
		check.Passed = true
		check.Details = "fewer than two tellers served requests, nothing to compare"
		return check
	}

	if crossOwnerOverlap(windows) {
		check.Passed = true
		check.Details = fmt.Sprintf("found overlapping service intervals across %d tellers", len(tellers))
	} else {
		check.Details = fmt.Sprintf("no overlapping service intervals across %d tellers", len(tellers))
	}
	return check
}

// checkReconciliation replays the committed transfers over the starting
// balances and compares the expected position of every account with what it
// actually holds.
func (v *Validator) checkReconciliation(result *orchestrator.RunResult) CheckResult {
	check := CheckResult{Name: "balance_reconciliation"}

	deltas := make(map[int64]decimal.Decimal, len(result.InitialBalances))
	for _, outcome := range result.Outcomes {
		if !outcome.Succeeded() {
			continue
		}
		deltas[outcome.SourceID] = deltas[outcome.SourceID].Sub(outcome.Amount)
		deltas[outcome.DestinationID] = deltas[outcome.DestinationID].Add(outcome.Amount)
	}

	totalInitial := decimal.Zero
	totalFinal := decimal.Zero
	for id, initial := range result.InitialBalances {
		final, ok := result.FinalBalances[id]
		if !ok {
			check.Details = fmt.Sprintf("account %d missing from final balances", id)
			return check
		}
		totalInitial = totalInitial.Add(initial)
		totalFinal = totalFinal.Add(final)

		if final.IsNegative() {
			check.Details = fmt.Sprintf("account %d holds negative balance %s", id, final)
			return check
		}
		expected := initial.Add(deltas[id])
		if final.Sub(expected).Abs().GreaterThan(v.tolerance) {
			check.Details = fmt.Sprintf("account %d expected %s, holds %s", id, expected, final)
			return check
		}
	}

	if totalFinal.Sub(totalInitial).Abs().GreaterThan(v.tolerance) {
		check.Details = fmt.Sprintf("total drifted from %s to %s", totalInitial, totalFinal)
		return check
	}
	check.Passed = true
	check.Details = fmt.Sprintf("%d accounts reconciled, total %s preserved",
		len(result.InitialBalances), totalFinal)
	return check
}

// checkLoadBalance measures how far each teller strays from an even share
// of the served requests.
func (v *Validator) checkLoadBalance(result *orchestrator.RunResult) CheckResult {
	check := CheckResult{Name: "teller_load_balance"}

	if len(result.TellerServed) == 0 {
		check.Details = "result carries no teller counters"
		return check
	}
	var total int64
	for _, count := range result.TellerServed {
		total += count
	}
	if total == 0 {
		check.Passed = true
		check.Details = "no requests were served"
		return check
	}

	mean := float64(total) / float64(len(result.TellerServed))
	var worst float64
	for _, count := range result.TellerServed {
		deviation := math.Abs(float64(count)-mean) / mean * 100
		if deviation > worst {
			worst = deviation
		}
	}
	check.Passed = worst <= v.maxLoadDeviation
	check.Details = fmt.Sprintf("max deviation %.1f%% from mean %.1f (limit %.1f%%)",
		worst, mean, v.maxLoadDeviation)
	return check
}
