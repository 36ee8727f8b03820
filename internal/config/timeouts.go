// Package config provides configuration types and utilities for slimmon.
// Centralized timeout and interval constants keep the wire-contract numbers
// out of the component code.
package config

import "time"

// Server-type detection
const (
	// DetectAttemptTimeout bounds a single serverstatus probe attempt.
	DetectAttemptTimeout = 5 * time.Second

	// DetectMaxAttempts is the number of probe attempts before defaulting
	// to the standard-server classification.
	DetectMaxAttempts = 3

	// DetectRetryDelay is the fixed delay between probe attempts.
	DetectRetryDelay = 1 * time.Second
)

// Status refresh
const (
	// DefaultDebounceWindow coalesces bursts of notifications into a
	// single refresh.
	DefaultDebounceWindow = 200 * time.Millisecond

	// DefaultPollInterval is the polling-mode refresh period.
	DefaultPollInterval = 1 * time.Second
)

// CLI notification connection
const (
	// CLIDialTimeout bounds the initial TCP connect to the CLI port.
	CLIDialTimeout = 5 * time.Second

	// CLIWriteTimeout bounds login/subscribe command writes.
	CLIWriteTimeout = 5 * time.Second
)

// WebSocket bridge
const (
	// WSWriteWait is the max time allowed to write a frame to a client.
	WSWriteWait = 10 * time.Second

	// WSPongWait is how long to wait for a pong before dropping a client.
	WSPongWait = 60 * time.Second

	// WSPingPeriod is the keepalive ping interval. Must be below WSPongWait.
	WSPingPeriod = (WSPongWait * 9) / 10
)

// Event bus channel buffering
const (
	// EventChannelBufferSize buffers per-subscriber event channels so
	// publishers never block on a slow consumer.
	EventChannelBufferSize = 64
)
