package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ledgerlab/transfersim/internal/adapter/report"
	"github.com/ledgerlab/transfersim/internal/usecase/orchestrator"
	"github.com/ledgerlab/transfersim/internal/usecase/validator"
)

const (
	exitValidationFailed = 1
	exitConfigError      = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	defer func() {
		_ = logger.Sync()
	}()

	orch, err := orchestrator.New(cfg.Run, logger)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return exitConfigError
	}

	// SIGINT or SIGTERM winds the run down early; whatever completed is
	// still validated and reported.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := orch.Run(ctx)
	if err != nil {
		logger.Error("simulation failed", zap.Error(err))
		return exitValidationFailed
	}

	checks := validator.New(logger,
		validator.WithMaxLoadDeviation(cfg.MaxLoadDeviation),
	).Check(result)

	summary := report.Build(result, checks)
	if cfg.JSONOutput {
		if err := report.WriteJSON(os.Stdout, summary); err != nil {
			logger.Error("writing report", zap.Error(err))
			return exitValidationFailed
		}
	} else {
		report.Log(logger, summary)
	}

	if !checks.Passed() {
		return exitValidationFailed
	}
	return 0
}

// newLogger builds the process logger. Console encoding goes to stderr so
// JSON reports on stdout stay clean.
func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
