package clock_test

import (
	"testing"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_AdvanceFiresAfter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(start)

	ch := fc.After(3 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before the clock advanced")
	default:
	}

	fc.Advance(2 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired early")
	default:
	}

	fc.Advance(1 * time.Second)
	select {
	case got := <-ch:
		require.Equal(t, start.Add(3*time.Second), got)
	default:
		t.Fatal("After did not fire once due")
	}
}

func TestFakeClock_SleepAdvancesNow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(start)
	fc.Sleep(5 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), fc.Now())
}

func TestFakeClock_AfterZeroOrPastFiresImmediately(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(start)
	ch := fc.After(0)
	select {
	case <-ch:
	default:
		t.Fatal("zero-delay After should fire immediately")
	}
}
