package offqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffFormula(t *testing.T) {
	cfg := DefaultConfig()

	// delay = min(5min, 5s * 2^retries)
	expected := []time.Duration{
		5 * time.Second,   // n=0
		10 * time.Second,  // n=1
		20 * time.Second,  // n=2
		40 * time.Second,  // n=3
		80 * time.Second,  // n=4
		160 * time.Second, // n=5
	}
	for n, want := range expected {
		require.Equal(t, want, cfg.backoffDelay(n), "retries=%d", n)
	}

	// Cap engages at n >= 6 (5s * 2^6 = 320s > 300s)
	for n := 6; n <= 12; n++ {
		require.Equal(t, 5*time.Minute, cfg.backoffDelay(n), "retries=%d", n)
	}
}

func TestBackoffCustomConfig(t *testing.T) {
	cfg := &Config{BackoffBase: time.Second, BackoffMax: 3 * time.Second}
	require.Equal(t, time.Second, cfg.backoffDelay(0))
	require.Equal(t, 2*time.Second, cfg.backoffDelay(1))
	require.Equal(t, 3*time.Second, cfg.backoffDelay(2))
	require.Equal(t, 3*time.Second, cfg.backoffDelay(20))
}
