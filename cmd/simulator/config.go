package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlab/transfersim/internal/usecase/orchestrator"
)

const (
	defaultBalances         = "1000,1000,1000,1000,1000"
	defaultTellers          = 4
	defaultAgents           = 10
	defaultRequestsPerAgent = 20
	defaultMaxAmount        = "100"
	defaultLockTimeout      = time.Second
	defaultMaxRetries       = 5
	defaultBackoffBase      = 50 * time.Millisecond
	defaultWorkDelay        = 5 * time.Millisecond
	defaultThinkTime        = 10 * time.Millisecond
	defaultChannelAttempts  = 3
	defaultRetryPause       = 10 * time.Millisecond
	defaultLoadDeviation    = 50.0
)

// cliConfig holds everything parsed from the command line.
type cliConfig struct {
	Run              orchestrator.Config
	MaxLoadDeviation float64
	LogLevel         string
	JSONOutput       bool
}

// parseFlags parses command line flags and returns the configuration.
func parseFlags() (cliConfig, error) {
	var (
		balances        = flag.String("balances", defaultBalances, "Comma-separated initial account balances")
		tellers         = flag.Int("tellers", defaultTellers, "Number of service channels")
		agents          = flag.Int("agents", defaultAgents, "Number of concurrent agents")
		requests        = flag.Int("requests", defaultRequestsPerAgent, "Requests issued by each agent")
		maxAmount       = flag.String("max-amount", defaultMaxAmount, "Largest single transfer amount")
		lockTimeout     = flag.Duration("lock-timeout", defaultLockTimeout, "Bound on each account lock acquisition")
		maxRetries      = flag.Int("max-retries", defaultMaxRetries, "Transfer retries before giving up on lock contention")
		backoffBase     = flag.Duration("backoff-base", defaultBackoffBase, "Base delay for contention backoff")
		workDelay       = flag.Duration("work-delay", defaultWorkDelay, "Artificial processing time inside account locks")
		thinkTime       = flag.Duration("think-time", defaultThinkTime, "Upper bound on the random pause between an agent's requests")
		channelAttempts = flag.Int("channel-attempts", defaultChannelAttempts, "Tries to find a free teller before giving up")
		retryPause      = flag.Duration("retry-pause", defaultRetryPause, "Base pause between teller attempts")
		seed            = flag.Uint64("seed", 0, "Randomness seed, 0 derives one from the clock")
		progress        = flag.Duration("progress", time.Second, "Progress report interval")
		loadDeviation   = flag.Float64("max-load-deviation", defaultLoadDeviation, "Largest acceptable teller load deviation in percent")
		logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		jsonOutput      = flag.Bool("json", false, "Write the report as JSON to stdout")
	)

	flag.Parse()

	accounts, err := parseBalances(*balances)
	if err != nil {
		return cliConfig{}, fmt.Errorf("invalid balances %q: %w", *balances, err)
	}

	amount, err := decimal.NewFromString(*maxAmount)
	if err != nil {
		return cliConfig{}, fmt.Errorf("invalid max amount %q: %w", *maxAmount, err)
	}

	return cliConfig{
		Run: orchestrator.Config{
			Accounts:         accounts,
			Tellers:          *tellers,
			Agents:           *agents,
			RequestsPerAgent: *requests,
			MaxAmount:        amount,
			LockTimeout:      *lockTimeout,
			MaxRetries:       *maxRetries,
			BackoffBase:      *backoffBase,
			WorkDelay:        *workDelay,
			ThinkTime:        *thinkTime,
			ChannelAttempts:  *channelAttempts,
			RetryPause:       *retryPause,
			Seed:             *seed,
			ProgressInterval: *progress,
		},
		MaxLoadDeviation: *loadDeviation,
		LogLevel:         *logLevel,
		JSONOutput:       *jsonOutput,
	}, nil
}

// parseBalances turns a comma-separated list of amounts into account specs
// with IDs assigned in order, starting at 1.
func parseBalances(balancesStr string) ([]orchestrator.AccountSpec, error) {
	parts := strings.Split(balancesStr, ",")
	specs := make([]orchestrator.AccountSpec, 0, len(parts))
	for i, part := range parts {
		balance, err := decimal.NewFromString(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("balance %d: %w", i+1, err)
		}
		specs = append(specs, orchestrator.AccountSpec{
			ID:      int64(i + 1),
			Balance: balance,
		})
	}
	return specs, nil
}
