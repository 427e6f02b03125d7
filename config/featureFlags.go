package config

import "time"

// InvoiceForwardOnly rejects backward invoice status moves outside of an explicit reopen.
//
// Set via env:
// - INVOICE_FORWARD_ONLY=true
func InvoiceForwardOnly() bool {
	return boolFromEnv("INVOICE_FORWARD_ONLY")
}

// MatrixLockTimeout bounds how long a request waits for the per-Matrix lock.
//
// Set via env:
// - MATRIX_LOCK_TIMEOUT_SECONDS (default 10; values <= 0 use the default)
func MatrixLockTimeout() time.Duration {
	seconds := intFromEnv("MATRIX_LOCK_TIMEOUT_SECONDS", 10)
	if seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

// OutboxEnabled is true when a Pub/Sub topic is configured for domain events.
func OutboxEnabled() bool {
	return PubSubTopic() != ""
}

// RateLimit returns the per-client request budget, or ok=false when limiting is off.
//
// Set via env:
// - RATE_LIMIT_ENABLED=true
// - RATE_LIMIT_WINDOW_SECONDS=60
// - RATE_LIMIT_MAX_REQUESTS=600
func RateLimit() (limit int64, window time.Duration, ok bool) {
	if !boolFromEnv("RATE_LIMIT_ENABLED") {
		return 0, 0, false
	}
	limit = int64(intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600))
	if limit <= 0 {
		limit = 600
	}
	seconds := intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)
	if seconds <= 0 {
		seconds = 60
	}
	return limit, time.Duration(seconds) * time.Second, true
}

// OutboxDirectProcessing delivers outbox events straight to the in-process notifier when
// no Pub/Sub topic is configured.
//
// Set via env:
// - OUTBOX_DIRECT_PROCESSING=true
func OutboxDirectProcessing() bool {
	return boolFromEnv("OUTBOX_DIRECT_PROCESSING")
}
