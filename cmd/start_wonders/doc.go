// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

// Start_wonders runs the forwarder daemon: it claims pending requests
// from the rendezvous directory, applies the security policy, executes
// the outbound HTTP call, and publishes the reply. It runs until
// signaled.
package main
