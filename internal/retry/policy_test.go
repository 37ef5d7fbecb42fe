package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelaySchedule(t *testing.T) {
	p := Policy{Base: time.Minute, Max: 30 * time.Minute}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 16 * time.Minute},
		{6, 30 * time.Minute}, // capped
		{7, 30 * time.Minute},
		{0, time.Minute}, // clamped to first attempt
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDelayMonotonic(t *testing.T) {
	p := DefaultPolicy()
	prev := time.Duration(0)
	for n := 1; n <= 12; n++ {
		d := p.Delay(n)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing")
		assert.LessOrEqual(t, d, p.Max)
		prev = d
	}
}

func TestNextRetryAt(t *testing.T) {
	p := Policy{Base: time.Second, Max: time.Hour}
	now := time.Now()
	assert.Equal(t, now.Add(2*time.Second), p.NextRetryAt(now, 2))
}
