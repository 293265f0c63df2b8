// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/della-wonders/wonders/lib/version"
	"github.com/della-wonders/wonders/rendezvous"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		sharedDir   string
		showVersion bool
	)

	flag.StringVar(&sharedDir, "shared-dir", defaultSharedDir(), "rendezvous directory shared with the proxy and forwarder")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("wonder_status %s\n", version.Info())
		return 0
	}

	store, err := rendezvous.Open(sharedDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open rendezvous directory: %v\n", err)
		return 1
	}

	stats, err := store.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Printf("shared dir:        %s\n", sharedDir)
	fmt.Printf("pending requests:  %d\n", stats.PendingRequests)
	fmt.Printf("pending responses: %d\n", stats.PendingResponses)
	fmt.Printf("processed:         %d\n", stats.Processed)
	if stats.PendingRequests > 0 {
		fmt.Printf("oldest pending:    %s\n", stats.OldestPendingAge.Round(time.Second))
	} else {
		fmt.Printf("oldest pending:    n/a\n")
	}
	return 0
}

func defaultSharedDir() string {
	if dir := os.Getenv("DELLA_SHARED_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "shared")
}
