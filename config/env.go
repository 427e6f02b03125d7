package config

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// .env is optional; Cloud Run injects the real environment.
func init() {
	_ = godotenv.Load()
}

// retryConnect calls open until it succeeds or ctx ends, sleeping with backoff
// between attempts. Connectors run after the HTTP server is listening, so a slow
// dependency never blocks the health check.
func retryConnect[T any](ctx context.Context, what string, open func() (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		v, err := open()
		if err == nil {
			log.Printf("%s ready (attempt=%d)", what, attempt)
			return v, nil
		}
		sleep := backoff(attempt)
		log.Printf("%s unavailable (attempt=%d): %v; retrying in %s", what, attempt, err, sleep)
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// listFromEnv splits a comma separated variable, dropping blanks.
func listFromEnv(key string) []string {
	raw := os.Getenv(key)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func backoff(attempt int) time.Duration {
	sleep := time.Second * time.Duration(1<<min(attempt, 5))
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}

// Port returns the HTTP listen port.
func Port() string {
	return stringFromEnv("PORT", "8080")
}

func IsProduction() bool {
	return strings.EqualFold(os.Getenv("GO_ENV"), "production")
}

func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS")
}

func CorsAllowedOrigins() []string {
	return listFromEnv("CORS_ALLOWED_ORIGINS")
}

func FinanceRecipients() []string {
	return listFromEnv("NOTIFY_FINANCEIRO_EMAILS")
}

func OpecRecipients() []string {
	return listFromEnv("NOTIFY_OPEC_EMAILS")
}

// MaxUploadBytes limits a single invoice attachment. MAX_UPLOAD_MB, default 20.
func MaxUploadBytes() int64 {
	return int64(intFromEnv("MAX_UPLOAD_MB", 20)) << 20
}
