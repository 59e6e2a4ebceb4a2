package backoff_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/backoff"
	"github.com/stretchr/testify/assert"
)

func TestSchedule_DurationNeverExceedsJitteredCap(t *testing.T) {
	s := backoff.Default20pct(time.Second, 30*time.Second, 2)
	rng := rand.New(rand.NewSource(1))

	for attempt := 0; attempt < 10; attempt++ {
		d := s.Duration(attempt, rng)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		// allow jitter: cap bound should never be exceeded by more than jitter frac
		assert.LessOrEqual(t, d, time.Duration(float64(s.Cap)*(1+s.JitterFrac))+time.Millisecond)
	}
}

func TestSchedule_JitterWithinBounds(t *testing.T) {
	s := backoff.Default20pct(time.Second, 60*time.Second, 2)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		d := s.Duration(0, rng)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestSchedule_ReporterDefaults(t *testing.T) {
	// base 1s, factor 2, cap 60s
	s := backoff.Default20pct(time.Second, 60*time.Second, 2)
	rng := rand.New(rand.NewSource(7))
	d3 := s.Duration(3, rng)
	// base*2^3 = 8s, +/-20% => [6.4s, 9.6s]
	assert.GreaterOrEqual(t, d3, 6400*time.Millisecond)
	assert.LessOrEqual(t, d3, 9600*time.Millisecond)
}
