package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ledgerlab/transfersim/internal/domain"
)

func testConfig() Config {
	return Config{
		Accounts: []AccountSpec{
			{ID: 1, Balance: decimal.NewFromInt(1000)},
			{ID: 2, Balance: decimal.NewFromInt(1000)},
			{ID: 3, Balance: decimal.NewFromInt(1000)},
		},
		Tellers:          2,
		Agents:           3,
		RequestsPerAgent: 5,
		MaxAmount:        decimal.NewFromInt(50),
		LockTimeout:      200 * time.Millisecond,
		MaxRetries:       5,
		BackoffBase:      time.Millisecond,
		ChannelAttempts:  5,
		RetryPause:       time.Millisecond,
		Seed:             42,
		ProgressInterval: 10 * time.Millisecond,
	}
}

func totalOf(balances map[int64]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, balance := range balances {
		total = total.Add(balance)
	}
	return total
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "fewer than two accounts",
			mutate: func(c *Config) {
				c.Accounts = c.Accounts[:1]
			},
			wantErr: true,
			errMsg:  "at least two accounts are required",
		},
		{
			name: "duplicate account IDs",
			mutate: func(c *Config) {
				c.Accounts[1].ID = c.Accounts[0].ID
			},
			wantErr: true,
			errMsg:  "duplicate account ID 1",
		},
		{
			name: "negative starting balance",
			mutate: func(c *Config) {
				c.Accounts[2].Balance = decimal.NewFromInt(-1)
			},
			wantErr: true,
			errMsg:  "account 3",
		},
		{
			name: "no tellers",
			mutate: func(c *Config) {
				c.Tellers = 0
			},
			wantErr: true,
			errMsg:  "at least one teller is required",
		},
		{
			name: "no agents",
			mutate: func(c *Config) {
				c.Agents = 0
			},
			wantErr: true,
			errMsg:  "at least one agent is required",
		},
		{
			name: "no requests per agent",
			mutate: func(c *Config) {
				c.RequestsPerAgent = 0
			},
			wantErr: true,
			errMsg:  "each agent needs at least one request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Tellers = 0

	_, err := New(cfg, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestOrchestrator_RunCompletesAllRequests(t *testing.T) {
	cfg := testConfig()
	orch, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Interrupted)
	assert.NotEqual(t, uuid.Nil, result.RunID)
	assert.Equal(t, uint64(42), result.Seed)
	assert.Equal(t, cfg.Agents*cfg.RequestsPerAgent, result.TotalRequests())
	assert.Equal(t, int64(result.TotalRequests()), result.Committed+result.Failed)
	assert.Positive(t, result.Elapsed)

	for _, outcome := range result.Outcomes {
		if outcome.Succeeded() {
			assert.Equal(t, domain.ReasonNone, outcome.Reason)
		} else {
			assert.NotEqual(t, domain.ReasonNone, outcome.Reason)
		}
	}

	initial := totalOf(result.InitialBalances)
	final := totalOf(result.FinalBalances)
	assert.True(t, final.Equal(initial), "expected total %s, got %s", initial, final)
	for id, balance := range result.FinalBalances {
		assert.False(t, balance.IsNegative(), "account %d went negative: %s", id, balance)
	}
}

func TestOrchestrator_RunAccountsForEveryRequest(t *testing.T) {
	cfg := testConfig()
	orch, err := New(cfg, nil)
	require.NoError(t, err)

	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	// Every request either reached a teller or gave up without one, so the
	// teller tallies and the channel-unavailable count partition the total.
	var served int64
	for id, count := range result.TellerServed {
		served += count
		assert.Len(t, result.TellerIntervals[id], int(count))
	}
	expected := int64(result.TotalRequests()) - result.FailuresByReason[domain.ReasonChannelUnavailable]
	assert.Equal(t, expected, served)

	var failures int64
	for _, count := range result.FailuresByReason {
		failures += count
	}
	assert.Equal(t, result.Failed, failures)
}

func TestOrchestrator_RunConservesTotalUnderContention(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = 8
	cfg.RequestsPerAgent = 10
	cfg.WorkDelay = 200 * time.Microsecond
	cfg.LockTimeout = 250 * time.Millisecond
	cfg.ChannelAttempts = 4
	cfg.RetryPause = 2 * time.Millisecond
	cfg.Seed = 0

	orch, err := New(cfg, nil)
	require.NoError(t, err)

	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Interrupted)
	assert.NotZero(t, result.Seed)
	assert.Equal(t, 80, result.TotalRequests())

	initial := totalOf(result.InitialBalances)
	final := totalOf(result.FinalBalances)
	assert.True(t, final.Equal(initial), "expected total %s, got %s", initial, final)
	for id, balance := range result.FinalBalances {
		assert.False(t, balance.IsNegative(), "account %d went negative: %s", id, balance)
	}
}

func TestOrchestrator_CanceledRunReturnsPartialResult(t *testing.T) {
	cfg := testConfig()
	cfg.Accounts = cfg.Accounts[:2]
	cfg.Tellers = 1
	cfg.Agents = 2
	cfg.RequestsPerAgent = 1000
	cfg.ThinkTime = 2 * time.Millisecond

	orch, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result, err := orch.Run(ctx)
	require.NoError(t, err)

	assert.True(t, result.Interrupted)
	assert.NotEmpty(t, result.Outcomes)
	assert.Less(t, result.TotalRequests(), 2000)
	assert.Equal(t, int64(result.TotalRequests()), result.Committed+result.Failed)

	initial := totalOf(result.InitialBalances)
	final := totalOf(result.FinalBalances)
	assert.True(t, final.Equal(initial), "expected total %s, got %s", initial, final)
}
