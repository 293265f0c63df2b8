// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/della-wonders/wonders/forwarder"
	"github.com/della-wonders/wonders/lib/version"
	"github.com/della-wonders/wonders/rendezvous"
	"github.com/della-wonders/wonders/security"
)

// blockDomainFlag accumulates values from repeated flag occurrences.
// Usage: --block-domain evil.test --block-domain also-evil.test
type blockDomainFlag []string

func (f *blockDomainFlag) String() string { return strings.Join(*f, ", ") }
func (f *blockDomainFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		sharedDir     string
		configPath    string
		workers       int
		sweepInterval time.Duration
		maxAge        time.Duration
		verbose       bool
		showVersion   bool
		blockDomains  blockDomainFlag
	)

	flag.StringVar(&sharedDir, "shared-dir", defaultSharedDir(), "rendezvous directory shared with the proxy")
	flag.StringVar(&configPath, "config", "", "optional YAML config file (see forwarder.FileConfig)")
	flag.IntVar(&workers, "workers", forwarder.DefaultWorkers, "number of concurrent claim-and-process workers")
	flag.DurationVar(&sweepInterval, "sweep-interval", forwarder.DefaultSweepInterval, "how often the orphan sweeper runs")
	flag.DurationVar(&maxAge, "max-age", forwarder.DefaultMaxAge, "how old an unanswered request must be before the sweeper synthesizes an error response")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Var(&blockDomains, "block-domain", "domain to block outbound requests to (repeatable)")
	flag.Parse()

	if showVersion {
		fmt.Printf("start_wonders %s\n", version.Info())
		return nil
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var fileConfig forwarder.FileConfig
	if configPath != "" {
		loaded, err := forwarder.LoadFileConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		fileConfig = *loaded

		if !flagWasSet("workers") && fileConfig.Workers > 0 {
			workers = fileConfig.Workers
		}
		if !flagWasSet("sweep-interval") {
			if d, err := fileConfig.SweepIntervalDuration(sweepInterval); err == nil {
				sweepInterval = d
			} else {
				return err
			}
		}
		if !flagWasSet("max-age") {
			if d, err := fileConfig.MaxAgeDuration(maxAge); err == nil {
				maxAge = d
			} else {
				return err
			}
		}
	}

	store, err := rendezvous.Open(sharedDir, rendezvous.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("opening rendezvous directory %s: %w", sharedDir, err)
	}
	logger.Info("start_wonders: rendezvous directory ready", "path", sharedDir)

	filter := security.New(fileConfig.SecurityConfig([]string(blockDomains)))

	fwd := forwarder.New(forwarder.Config{
		Store:         store,
		Filter:        filter,
		Workers:       workers,
		SweepInterval: sweepInterval,
		MaxAge:        maxAge,
		Logger:        logger,
	})

	logger.Info("start_wonders: starting",
		"version", version.Info(),
		"workers", workers,
		"sweep_interval", sweepInterval,
		"max_age", maxAge,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fwd.Run(ctx)
	logger.Info("start_wonders: shutdown complete")
	return nil
}

// flagWasSet reports whether name was explicitly passed on the command
// line, so a config file value isn't clobbered by a flag's default.
func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func defaultSharedDir() string {
	if dir := os.Getenv("DELLA_SHARED_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "shared")
}
