package flood

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestGuard() *Guard {
	return NewGuard(Config{
		Window:        10 * time.Second,
		WarnThreshold: 4,
		Threshold:     5,
	})
}

// TestBurstFloods: six messages inside the window flood on the sixth.
func TestBurstFloods(t *testing.T) {
	g := newTestGuard()

	verdicts := make([]Verdict, 0, 6)
	for i := 0; i < 6; i++ {
		verdicts = append(verdicts, g.Observe(-100, 1, base.Add(time.Duration(i)*time.Second)))
	}

	assert.Equal(t, VerdictOK, verdicts[0])
	assert.Equal(t, VerdictWarn, verdicts[4], "fifth message crosses the warn threshold")
	assert.Equal(t, VerdictFlood, verdicts[5], "sixth message crosses the flood threshold")
}

// TestSpreadNeverFloods: the same six messages spread at 3s intervals keep
// falling out of the window and never flood.
func TestSpreadNeverFloods(t *testing.T) {
	g := newTestGuard()

	for i := 0; i < 6; i++ {
		v := g.Observe(-100, 1, base.Add(time.Duration(3*i)*time.Second))
		assert.NotEqual(t, VerdictFlood, v, "message %d", i)
	}
}

// TestWindowBoundaryExclusive: a timestamp exactly Window old is evicted.
func TestWindowBoundaryExclusive(t *testing.T) {
	g := NewGuard(Config{Window: 10 * time.Second, WarnThreshold: 1, Threshold: 2})

	assert.Equal(t, VerdictOK, g.Observe(-100, 1, base))
	// Exactly 10s later the first entry must be gone, so the count is back
	// to 1 and the verdict stays ok.
	assert.Equal(t, VerdictOK, g.Observe(-100, 1, base.Add(10*time.Second)))
}

func TestKeysIndependent(t *testing.T) {
	g := newTestGuard()

	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		g.Observe(-100, 1, ts)
		assert.Equal(t, VerdictOK, g.Observe(-100, 2, ts), "second user must not inherit the first user's window")
	}
}

func TestRepeat(t *testing.T) {
	g := newTestGuard()

	for i := 0; i < 6; i++ {
		g.Observe(-100, 1, base.Add(time.Duration(i)*time.Second))
	}

	now := base.Add(30 * time.Minute)
	assert.True(t, g.Repeat(-100, 1, now, time.Hour))
	assert.False(t, g.Repeat(-100, 1, base.Add(2*time.Hour), time.Hour))
	assert.False(t, g.Repeat(-100, 2, now, time.Hour))
}

// TestIdleWindowsSwept: keys idle beyond twice the window are dropped once
// another observation triggers a sweep.
func TestIdleWindowsSwept(t *testing.T) {
	g := newTestGuard()

	g.Observe(-100, 1, base)
	g.Observe(-100, 2, base.Add(15*time.Second))
	assert.Equal(t, 2, g.Tracked())

	// User 1 has been idle for more than 20s by now; the next observation
	// sweeps it away.
	g.Observe(-100, 2, base.Add(40*time.Second))
	assert.Equal(t, 1, g.Tracked())
}

// TestWindowCountProperty: the retained count after any observation sequence
// never exceeds the number of observations within the window span.
func TestWindowCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		windowSecs := rapid.IntRange(2, 60).Draw(t, "windowSecs")
		threshold := rapid.IntRange(1, 20).Draw(t, "threshold")
		g := NewGuard(Config{
			Window:        time.Duration(windowSecs) * time.Second,
			WarnThreshold: threshold - 1,
			Threshold:     threshold,
		})

		numMsgs := rapid.IntRange(1, 100).Draw(t, "numMsgs")
		ts := base
		times := make([]time.Time, 0, numMsgs)
		for i := 0; i < numMsgs; i++ {
			ts = ts.Add(time.Duration(rapid.IntRange(0, 30).Draw(t, "gap")) * time.Second)
			times = append(times, ts)
			verdict := g.Observe(-1, 7, ts)

			// Recompute the expected in-window count from first principles.
			cutoff := ts.Add(-time.Duration(windowSecs) * time.Second)
			expected := 0
			for _, prev := range times {
				if prev.After(cutoff) {
					expected++
				}
			}

			var want Verdict
			switch {
			case expected > threshold:
				want = VerdictFlood
			case expected > threshold-1:
				want = VerdictWarn
			default:
				want = VerdictOK
			}
			if verdict != want {
				t.Fatalf("observation %d: got %v, want %v (in-window=%d, threshold=%d)",
					i, verdict, want, expected, threshold)
			}
		}
	})
}
