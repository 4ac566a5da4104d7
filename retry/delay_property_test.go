package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// Property: for any configuration and attempt index, the computed delay stays
// within [100ms, maxDelay*(1+jitterFactor)].
func TestCalculateDelay_Bounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		baseMs := rapid.Int64Range(1, 10_000).Draw(t, "baseMs")
		maxMs := rapid.Int64Range(baseMs, 120_000).Draw(t, "maxMs")
		jitter := rapid.Float64Range(0, 0.5).Draw(t, "jitter")
		attempt := rapid.IntRange(0, 40).Draw(t, "attempt")

		e := New(&Config{
			MaxRetries:   3,
			BaseDelay:    time.Duration(baseMs) * time.Millisecond,
			MaxDelay:     time.Duration(maxMs) * time.Millisecond,
			JitterFactor: jitter,
		}, zap.NewNop())

		delay := e.calculateDelay(attempt)

		if delay < minDelay {
			t.Fatalf("delay %v below floor %v", delay, minDelay)
		}
		upper := time.Duration(float64(e.config.MaxDelay) * (1 + jitter))
		if delay > upper {
			t.Fatalf("delay %v above bound %v (attempt=%d)", delay, upper, attempt)
		}
	})
}

// Without jitter the delay doubles per attempt until clamped at MaxDelay.
func TestCalculateDelay_MonotonicWithoutJitter(t *testing.T) {
	e := New(&Config{
		MaxRetries:   5,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		JitterFactor: 0,
	}, zap.NewNop())

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := e.calculateDelay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 3*time.Second)
		prev = d
	}

	assert.Equal(t, 200*time.Millisecond, e.calculateDelay(0))
	assert.Equal(t, 400*time.Millisecond, e.calculateDelay(1))
	assert.Equal(t, 3*time.Second, e.calculateDelay(9))
}
