package config

import (
	"context"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListFromEnv(t *testing.T) {
	t.Setenv("NOTIFY_OPEC_EMAILS", " a@example.com,, b@example.com ,")
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, OpecRecipients())

	t.Setenv("NOTIFY_OPEC_EMAILS", "")
	assert.Empty(t, OpecRecipients())
}

func TestRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	_, _, ok := RateLimit()
	assert.False(t, ok)

	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "-3")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")
	limit, window, ok := RateLimit()
	assert.True(t, ok)
	assert.EqualValues(t, 600, limit)
	assert.Equal(t, 30*time.Second, window)
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("MAX_UPLOAD_MB", "")
	t.Setenv("MATRIX_LOCK_TIMEOUT_SECONDS", "nope")
	t.Setenv("PORT", "")
	assert.EqualValues(t, 20<<20, MaxUploadBytes())
	assert.Equal(t, 10*time.Second, MatrixLockTimeout())
	assert.Equal(t, "8080", Port())

	for _, v := range []string{"0", "-5"} {
		t.Setenv("MATRIX_LOCK_TIMEOUT_SECONDS", v)
		assert.Equal(t, 10*time.Second, MatrixLockTimeout(), v)
	}
	t.Setenv("MATRIX_LOCK_TIMEOUT_SECONDS", "3")
	assert.Equal(t, 3*time.Second, MatrixLockTimeout())

	t.Setenv("INVOICE_FORWARD_ONLY", "Yes")
	assert.True(t, InvoiceForwardOnly())
}

func TestBackoffIsCapped(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 30*time.Second, backoff(9))
}

func TestOrderingKey(t *testing.T) {
	assert.Equal(t, "invoices:42", OrderingKey(EventMessage{ReferenceType: "invoices", ReferenceId: 42}))
}

func TestPubSubPublisher_RequiresTopic(t *testing.T) {
	_, err := NewPubSubPublisher("").Publish(context.Background(), EventMessage{})
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	t.Setenv("DB_USER", "adops")
	t.Setenv("DB_PASSWORD", "p@ss")
	t.Setenv("DB_NAME", "adops")
	t.Setenv("DB_HOST", "10.0.0.5")
	t.Setenv("DB_PORT", "")

	cfg, err := mysqldriver.ParseDSN(DSN())
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "10.0.0.5:3306", cfg.Addr)
	assert.Equal(t, "p@ss", cfg.Passwd)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "'READ-COMMITTED'", cfg.Params["transaction_isolation"])

	t.Setenv("DB_HOST", "/cloudsql/proj:region:db")
	cfg, err = mysqldriver.ParseDSN(DSN())
	require.NoError(t, err)
	assert.Equal(t, "unix", cfg.Net)
	assert.Equal(t, "/cloudsql/proj:region:db", cfg.Addr)
}
