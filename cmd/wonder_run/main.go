// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/della-wonders/wonders/launcher"
	"github.com/della-wonders/wonders/lib/version"
	"github.com/della-wonders/wonders/proxy"
	"github.com/della-wonders/wonders/rendezvous"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		sharedDir   string
		proxyPort   int
		persistCA   bool
		verbose     bool
		showVersion bool
	)

	flag.StringVar(&sharedDir, "shared-dir", defaultSharedDir(), "rendezvous directory shared with the forwarder")
	flag.IntVar(&proxyPort, "proxy-port", defaultProxyPort(), "loopback port for the intercepting proxy")
	flag.BoolVar(&persistCA, "persist-ca", false, "persist the interception CA under <shared-dir>/ca instead of generating a fresh one per launch")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("wonder_run %s\n", version.Info())
		return 0
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: wonder_run [flags] <program> [args...]")
		return 127
	}
	program := flag.Arg(0)
	programArgs := flag.Args()[1:]

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := rendezvous.Open(sharedDir, rendezvous.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open rendezvous directory: %v\n", err)
		return 2
	}

	ca, err := loadCA(persistCA, sharedDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	server, err := proxy.NewServer(proxy.Config{
		ListenAddr:    fmt.Sprintf("127.0.0.1:%d", proxyPort),
		Store:         store,
		CA:            ca,
		SourceProcess: program,
		ProxyVersion:  version.Short(),
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: create proxy: %v\n", err)
		return 2
	}

	l := launcher.New(launcher.Config{
		Proxy:  server,
		CADir:  filepath.Join(sharedDir, "ca-runtime"),
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exitCode, err := l.Run(ctx, program, programArgs)
	if err != nil {
		if errors.Is(err, launcher.ErrProxyStart) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 127
	}
	return exitCode
}

func loadCA(persist bool, sharedDir string) (*proxy.CertAuthority, error) {
	if !persist {
		return proxy.NewEphemeralCA()
	}
	return proxy.LoadOrCreateCA(filepath.Join(sharedDir, "ca"))
}

func defaultSharedDir() string {
	if dir := os.Getenv("DELLA_SHARED_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "shared")
}

func defaultProxyPort() int {
	if port := os.Getenv("DELLA_PROXY_PORT"); port != "" {
		if parsed, err := parsePort(port); err == nil {
			return parsed
		}
	}
	return 9025
}

func parsePort(s string) (int, error) {
	var port int
	_, err := fmt.Sscanf(s, "%d", &port)
	return port, err
}
