// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

// Wonder_status prints a one-shot summary of a rendezvous directory:
// how many requests are awaiting a forwarder, how many responses are
// awaiting the proxy, how many requests have been archived, and how
// long the oldest pending request has been waiting.
package main
