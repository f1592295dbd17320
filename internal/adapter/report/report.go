// Package report renders a finished simulation run for humans and machines.
package report

import (
	"io"
	"slices"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ledgerlab/transfersim/internal/usecase/orchestrator"
	"github.com/ledgerlab/transfersim/internal/usecase/validator"
)

var json = jsoniter.ConfigFastest

// AccountSummary is one account's position before and after the run.
type AccountSummary struct {
	ID      int64  `json:"id"`
	Initial string `json:"initial_balance"`
	Final   string `json:"final_balance"`
	Delta   string `json:"delta"`
}

// TellerSummary is one teller's share of the served requests.
type TellerSummary struct {
	ID           int     `json:"id"`
	Served       int64   `json:"served"`
	SharePercent float64 `json:"share_percent"`
}

// ReasonCount tallies failures with a shared reason.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// CheckSummary is a validation verdict ready for output.
type CheckSummary struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// Summary is the complete report of one run. All lists are sorted so the
// output is stable across runs with the same seed.
type Summary struct {
	RunID            string           `json:"run_id"`
	Seed             uint64           `json:"seed"`
	Elapsed          string           `json:"elapsed"`
	Interrupted      bool             `json:"interrupted,omitempty"`
	TotalRequests    int              `json:"total_requests"`
	Committed        int64            `json:"committed"`
	Failed           int64            `json:"failed"`
	ThroughputPerSec float64          `json:"throughput_per_sec"`
	Failures         []ReasonCount    `json:"failures_by_reason,omitempty"`
	Accounts         []AccountSummary `json:"accounts"`
	Tellers          []TellerSummary  `json:"tellers"`
	Checks           []CheckSummary   `json:"checks"`
	ValidationPassed bool             `json:"validation_passed"`
}

// Build maps a run result and its validation report into a Summary.
func Build(result *orchestrator.RunResult, validation validator.Report) Summary {
	summary := Summary{
		RunID:            result.RunID.String(),
		Seed:             result.Seed,
		Elapsed:          result.Elapsed.Round(time.Millisecond).String(),
		Interrupted:      result.Interrupted,
		TotalRequests:    result.TotalRequests(),
		Committed:        result.Committed,
		Failed:           result.Failed,
		ValidationPassed: validation.Passed(),
	}
	if result.Elapsed > 0 {
		summary.ThroughputPerSec = float64(result.TotalRequests()) / result.Elapsed.Seconds()
	}

	for reason, count := range result.FailuresByReason {
		summary.Failures = append(summary.Failures, ReasonCount{
			Reason: string(reason),
			Count:  count,
		})
	}
	slices.SortFunc(summary.Failures, func(a, b ReasonCount) int {
		return strings.Compare(a.Reason, b.Reason)
	})

	accountIDs := make([]int64, 0, len(result.InitialBalances))
	for id := range result.InitialBalances {
		accountIDs = append(accountIDs, id)
	}
	slices.Sort(accountIDs)
	for _, id := range accountIDs {
		initial := result.InitialBalances[id]
		final := result.FinalBalances[id]
		summary.Accounts = append(summary.Accounts, AccountSummary{
			ID:      id,
			Initial: initial.String(),
			Final:   final.String(),
			Delta:   final.Sub(initial).String(),
		})
	}

	var totalServed int64
	tellerIDs := make([]int, 0, len(result.TellerServed))
	for id, count := range result.TellerServed {
		tellerIDs = append(tellerIDs, id)
		totalServed += count
	}
	slices.Sort(tellerIDs)
	for _, id := range tellerIDs {
		served := result.TellerServed[id]
		entry := TellerSummary{ID: id, Served: served}
		if totalServed > 0 {
			entry.SharePercent = float64(served) / float64(totalServed) * 100
		}
		summary.Tellers = append(summary.Tellers, entry)
	}

	for _, check := range validation.Checks {
		summary.Checks = append(summary.Checks, CheckSummary{
			Name:    check.Name,
			Passed:  check.Passed,
			Details: check.Details,
		})
	}
	return summary
}

// WriteJSON renders the summary as indented JSON followed by a newline.
func WriteJSON(w io.Writer, summary Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Log writes the summary through the structured logger, one line per
// account, teller, and check.
func Log(logger *zap.Logger, summary Summary) {
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("run summary",
		zap.String("run_id", summary.RunID),
		zap.Uint64("seed", summary.Seed),
		zap.Int("requests", summary.TotalRequests),
		zap.Int64("committed", summary.Committed),
		zap.Int64("failed", summary.Failed),
		zap.String("elapsed", summary.Elapsed),
		zap.Float64("throughput_per_sec", summary.ThroughputPerSec),
		zap.Bool("interrupted", summary.Interrupted),
	)
	for _, failure := range summary.Failures {
		logger.Info("failures",
			zap.String("reason", failure.Reason),
			zap.Int64("count", failure.Count),
		)
	}
	for _, account := range summary.Accounts {
		logger.Info("account position",
			zap.Int64("account_id", account.ID),
			zap.String("initial", account.Initial),
			zap.String("final", account.Final),
			zap.String("delta", account.Delta),
		)
	}
	for _, teller := range summary.Tellers {
		logger.Info("teller load",
			zap.Int("teller_id", teller.ID),
			zap.Int64("served", teller.Served),
			zap.Float64("share_percent", teller.SharePercent),
		)
	}
	for _, check := range summary.Checks {
		if check.Passed {
			logger.Info("check passed",
				zap.String("check", check.Name),
				zap.String("details", check.Details),
			)
		} else {
			logger.Warn("check failed",
				zap.String("check", check.Name),
				zap.String("details", check.Details),
			)
		}
	}
}
