// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/qrng/cmd/qrng/config"
	"github.com/AleutianAI/qrng/pkg/logging"
	"github.com/AleutianAI/qrng/pkg/qrng"
	"github.com/AleutianAI/qrng/pkg/telemetry"
	"github.com/AleutianAI/qrng/pkg/ux"
)

const (
	// annotationSetup set to "skip" runs a command without loading config.
	annotationSetup = "setup"

	// annotationTelemetry marks commands that always initialize telemetry.
	annotationTelemetry = "telemetry"
)

// Retry pacing for context creation on retryable codes.
var (
	initRetryAttempts = 4
	initRetryInterval = 250 * time.Millisecond
)

// app is the state shared by all commands of one invocation.
type app struct {
	configPath string
	logLevel   string
	logJSON    bool
	metrics    string

	cfg      config.File
	logger   *logging.Logger
	provider  *telemetry.Provider
	observer  *telemetry.Metrics

	// newContext builds engine contexts; nil means qrng.New.
	newContext func(...qrng.Option) (*qrng.Context, error)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "qrng",
		Short: "Quantum-inspired random number generator",
		Long: `qrng draws random numbers from an entropy pool mixed through a
health-tested, continuously rekeyed stream generator.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.qrng/qrng.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&a.logJSON, "log-json", false, "log to stderr as JSON")
	flags.StringVar(&a.metrics, "metrics", "", "metric exporter: prometheus, stdout, none")

	root.AddCommand(
		newGenerateCmd(a),
		newBytesCmd(a),
		newEntangleCmd(a),
		newMeasureCmd(a),
		newDemoCmd(a),
		newDiceCmd(a),
		newBenchCmd(a),
		newServeCmd(a),
		newErrorsCmd(),
		newVersionCmd(),
		newConfigCmd(a),
	)
	return root
}

// setup loads the configuration, builds the logger and, when requested,
// the telemetry stack.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationSetup] == "skip" {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	levelName := cfg.Logging.Level
	if cmd.Flags().Changed("log-level") {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}

	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "qrng",
		JSON:    a.logJSON || cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})

	metricsFlag := cmd.Flags().Changed("metrics")
	if metricsFlag {
		cfg.Telemetry.MetricExporter = a.metrics
	}
	a.cfg = cfg

	if !metricsFlag && cmd.Annotations[annotationTelemetry] == "" {
		return nil
	}
	provider, err := telemetry.Start(cmd.Context(), cfg.Telemetry, cfg.Engine)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.provider = provider
	a.observer = provider.Metrics()
	return nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.provider != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		errs = append(errs, a.provider.Shutdown(shutdownCtx))
		cancel()
		a.provider = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

// engineOptions builds the Context options shared by every command.
func (a *app) engineOptions(seed string, deterministic bool) ([]qrng.Option, error) {
	opts := []qrng.Option{
		qrng.WithConfig(a.cfg.Engine),
		qrng.WithLogger(a.logger.Slog()),
	}
	if a.observer != nil {
		opts = append(opts, qrng.WithObserver(a.observer))
	}
	switch {
	case deterministic && seed == "":
		return nil, errors.New("--deterministic requires --seed")
	case deterministic:
		opts = append(opts, qrng.WithDeterministicSeed([]byte(seed)))
	case seed != "":
		opts = append(opts, qrng.WithSeed([]byte(seed)))
	}
	return opts, nil
}

// openContext creates a Context, retrying retryable failures with a paced
// backoff that halves the attempt rate after every failure.
func (a *app) openContext(ctx context.Context, seed string, deterministic bool) (*qrng.Context, error) {
	opts, err := a.engineOptions(seed, deterministic)
	if err != nil {
		return nil, err
	}

	newContext := a.newContext
	if newContext == nil {
		newContext = qrng.New
	}

	limiter := rate.NewLimiter(rate.Every(initRetryInterval), 1)
	// Drain the initial token so the first retry waits a full interval.
	limiter.Allow()
	for attempt := 1; ; attempt++ {
		c, err := newContext(opts...)
		if err == nil {
			return c, nil
		}
		if !qrng.CodeOf(err).Retryable() || attempt >= initRetryAttempts {
			return nil, err
		}

		a.logger.Warn("Context creation failed, retrying",
			"attempt", attempt,
			"code", qrng.CodeOf(err).String(),
			"error", err,
		)
		if attempt > 1 {
			limiter.SetLimit(limiter.Limit() / 2)
		}
		if werr := limiter.Wait(ctx); werr != nil {
			return nil, err
		}
	}
}

// printer writes styled output to terminals and plain text elsewhere.
func printer(cmd *cobra.Command) *ux.Printer {
	out := cmd.OutOrStdout()
	mode := ux.ModePlain
	if f, ok := out.(*os.File); ok {
		mode = ux.DetectMode(f)
	}
	return ux.NewPrinter(out, mode)
}
