// Package flood implements per-user sliding-window flood detection.
// Windows live purely in memory and are rebuilt from scratch on restart.
package flood

import (
	"sync"
	"time"

	"telegram-forum-bot/internal/model"
)

// Verdict is the flood decision for a single observation.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictWarn
	VerdictFlood
)

func (v Verdict) String() string {
	switch v {
	case VerdictWarn:
		return "warn"
	case VerdictFlood:
		return "flood"
	default:
		return "ok"
	}
}

// Config holds the window parameters. WarnThreshold must be lower than
// Threshold; crossing it is for logging only.
type Config struct {
	Window        time.Duration
	WarnThreshold int
	Threshold     int
}

// window holds recent message timestamps for one (chat, user) key.
type window struct {
	mu          sync.Mutex
	times       []time.Time
	lastSeen    time.Time
	lastFloodAt time.Time
}

// Guard tracks message timestamps per (chat, user) key and decides whether an
// incoming message constitutes flooding.
type Guard struct {
	cfg     Config
	windows sync.Map // map[model.UserKey]*window

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewGuard creates a flood guard with the given thresholds.
func NewGuard(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Observe records a message timestamp and returns the verdict for it.
// Entries exactly Window old are evicted: the window is exclusive.
func (g *Guard) Observe(chatID, userID int64, ts time.Time) Verdict {
	key := model.UserKey{ChatID: chatID, UserID: userID}

	v, ok := g.windows.Load(key)
	if !ok {
		v, _ = g.windows.LoadOrStore(key, &window{})
	}
	w := v.(*window)

	w.mu.Lock()
	cutoff := ts.Add(-g.cfg.Window)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = append(kept, ts)
	w.lastSeen = ts
	count := len(w.times)

	verdict := VerdictOK
	switch {
	case count > g.cfg.Threshold:
		verdict = VerdictFlood
		w.lastFloodAt = ts
	case count > g.cfg.WarnThreshold:
		verdict = VerdictWarn
	}
	w.mu.Unlock()

	g.maybeSweep(ts)

	return verdict
}

// Repeat reports whether the key already flooded within the given span before
// now. Used to escalate the penalty for repeat offenders.
func (g *Guard) Repeat(chatID, userID int64, now time.Time, span time.Duration) bool {
	v, ok := g.windows.Load(model.UserKey{ChatID: chatID, UserID: userID})
	if !ok {
		return false
	}
	w := v.(*window)

	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.lastFloodAt.IsZero() && now.Sub(w.lastFloodAt) < span
}

// maybeSweep drops windows idle beyond twice the window length. Runs at most
// once per window length so the cost stays amortized.
func (g *Guard) maybeSweep(now time.Time) {
	g.sweepMu.Lock()
	if now.Sub(g.lastSweep) < g.cfg.Window {
		g.sweepMu.Unlock()
		return
	}
	g.lastSweep = now
	g.sweepMu.Unlock()

	idle := 2 * g.cfg.Window
	g.windows.Range(func(key, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		stale := now.Sub(w.lastSeen) > idle
		w.mu.Unlock()
		if stale {
			g.windows.Delete(key)
		}
		return true
	})
}

// Tracked returns the number of keys currently held. Used by tests and the
// metrics gauge.
func (g *Guard) Tracked() int {
	n := 0
	g.windows.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
