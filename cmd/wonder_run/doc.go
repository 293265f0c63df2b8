// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

// Wonder_run starts the intercepting proxy, points a spawned program at
// it via the standard proxy and trust-store environment variables, and
// exits with the program's own exit code.
package main
