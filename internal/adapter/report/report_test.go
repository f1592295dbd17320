package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ledgerlab/transfersim/internal/domain"
	"github.com/ledgerlab/transfersim/internal/usecase/orchestrator"
	"github.com/ledgerlab/transfersim/internal/usecase/validator"
)

func fixtureResult() *orchestrator.RunResult {
	return &orchestrator.RunResult{
		RunID: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Seed:  7,
		Outcomes: []domain.TransferOutcome{
			{Status: domain.StatusCommitted},
			{Status: domain.StatusCommitted},
			{Status: domain.StatusFailed, Reason: domain.ReasonInsufficientFunds},
			{Status: domain.StatusFailed, Reason: domain.ReasonLockContention},
		},
		InitialBalances: map[int64]decimal.Decimal{
			2: decimal.NewFromInt(2000),
			1: decimal.NewFromInt(1000),
		},
		FinalBalances: map[int64]decimal.Decimal{
			1: decimal.NewFromInt(800),
			2: decimal.NewFromInt(2200),
		},
		TellerServed: map[int]int64{0: 3, 1: 1},
		Committed:    2,
		Failed:       2,
		FailuresByReason: map[domain.FailureReason]int64{
			domain.ReasonLockContention:    1,
			domain.ReasonInsufficientFunds: 1,
		},
		Elapsed: 2 * time.Second,
	}
}

func fixtureValidation() validator.Report {
	return validator.Report{Checks: []validator.CheckResult{
		{Name: "balance_reconciliation", Passed: true, Details: "2 accounts reconciled"},
		{Name: "teller_load_balance", Passed: false, Details: "max deviation 50.0%"},
	}}
}

func TestBuild_MapsResultAndVerdicts(t *testing.T) {
	summary := Build(fixtureResult(), fixtureValidation())

	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", summary.RunID)
	assert.Equal(t, uint64(7), summary.Seed)
	assert.Equal(t, 4, summary.TotalRequests)
	assert.Equal(t, int64(2), summary.Committed)
	assert.Equal(t, int64(2), summary.Failed)
	assert.Equal(t, "2s", summary.Elapsed)
	assert.InDelta(t, 2.0, summary.ThroughputPerSec, 0.001)
	assert.False(t, summary.ValidationPassed)

	require.Len(t, summary.Failures, 2)
	assert.Equal(t, ReasonCount{Reason: "INSUFFICIENT_FUNDS", Count: 1}, summary.Failures[0])
	assert.Equal(t, ReasonCount{Reason: "LOCK_CONTENTION", Count: 1}, summary.Failures[1])

	require.Len(t, summary.Accounts, 2)
	assert.Equal(t, AccountSummary{ID: 1, Initial: "1000", Final: "800", Delta: "-200"}, summary.Accounts[0])
	assert.Equal(t, AccountSummary{ID: 2, Initial: "2000", Final: "2200", Delta: "200"}, summary.Accounts[1])

	require.Len(t, summary.Tellers, 2)
	assert.Equal(t, 0, summary.Tellers[0].ID)
	assert.Equal(t, int64(3), summary.Tellers[0].Served)
	assert.InDelta(t, 75.0, summary.Tellers[0].SharePercent, 0.001)
	assert.InDelta(t, 25.0, summary.Tellers[1].SharePercent, 0.001)

	require.Len(t, summary.Checks, 2)
	assert.Equal(t, "balance_reconciliation", summary.Checks[0].Name)
	assert.True(t, summary.Checks[0].Passed)
}

func TestBuild_IdleRunProducesZeroRates(t *testing.T) {
	result := fixtureResult()
	result.Outcomes = nil
	result.Elapsed = 0
	result.TellerServed = map[int]int64{0: 0}

	summary := Build(result, fixtureValidation())

	assert.Zero(t, summary.ThroughputPerSec)
	require.Len(t, summary.Tellers, 1)
	assert.Zero(t, summary.Tellers[0].SharePercent)
}

func TestWriteJSON_ProducesParseableOutput(t *testing.T) {
	summary := Build(fixtureResult(), fixtureValidation())

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, summary))

	assert.True(t, strings.HasSuffix(buf.String(), "\n"))

	var decoded Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, summary.RunID, decoded.RunID)
	assert.Equal(t, summary.Accounts, decoded.Accounts)
	assert.False(t, decoded.ValidationPassed)
}

func TestLog_WarnsOnFailedChecks(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	Log(zap.New(core), Build(fixtureResult(), fixtureValidation()))

	assert.Equal(t, 1, logs.FilterMessage("run summary").Len())
	assert.Equal(t, 2, logs.FilterMessage("account position").Len())
	assert.Equal(t, 2, logs.FilterMessage("teller load").Len())

	failed := logs.FilterMessage("check failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	assert.Equal(t, 1, logs.FilterMessage("check passed").Len())
}
