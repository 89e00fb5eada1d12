// Package scheduler drives the bot's periodic work: game deadline sweeps,
// stats flushes, leaderboard and daily summary posts, liveness heartbeats.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"telegram-forum-bot/internal/game/blackjack"
)

// TickKind identifies one periodic job.
type TickKind string

const (
	TickGameSweep    TickKind = "game_sweep"
	TickStatsFlush   TickKind = "stats_flush"
	TickLeaderboard  TickKind = "leaderboard"
	TickDailySummary TickKind = "daily_summary"
	TickHeartbeat    TickKind = "heartbeat"
)

// GameEngine is the sweep side of the blackjack engine.
type GameEngine interface {
	Sweep(ctx context.Context, now time.Time) []blackjack.Snapshot
}

// StatsFlusher drains pending topic counters to storage.
type StatsFlusher interface {
	Flush(ctx context.Context) error
}

// Publisher renders scheduler-driven output into the forum.
type Publisher interface {
	PublishTableUpdate(ctx context.Context, snap blackjack.Snapshot)
	PublishLeaderboard(ctx context.Context)
}

// SummaryPublisher posts the daily topic activity digest.
type SummaryPublisher interface {
	PublishDailySummary(ctx context.Context)
}

// Heartbeats records liveness.
type Heartbeats interface {
	Heartbeat(now time.Time)
}

// Intervals configures how often each job runs. Zero disables a job.
type Intervals struct {
	GameSweep    time.Duration
	StatsFlush   time.Duration
	Leaderboard  time.Duration
	DailySummary time.Duration
	Heartbeat    time.Duration
}

// Dispatcher fans ticks out to the engines. It owns no domain state of its
// own: every transition happens inside the engine it calls, under the same
// locks user actions take.
type Dispatcher struct {
	games     GameEngine
	stats     StatsFlusher
	publisher Publisher
	summary   SummaryPublisher
	beats     Heartbeats
	intervals Intervals
	now       func() time.Time
}

// NewDispatcher wires the periodic jobs.
func NewDispatcher(games GameEngine, stats StatsFlusher, publisher Publisher, summary SummaryPublisher, beats Heartbeats, intervals Intervals, now func() time.Time) *Dispatcher {
	return &Dispatcher{
		games:     games,
		stats:     stats,
		publisher: publisher,
		summary:   summary,
		beats:     beats,
		intervals: intervals,
		now:       now,
	}
}

// OnTick runs one job immediately. Exposed so tests and the run loop share
// one dispatch path.
func (d *Dispatcher) OnTick(ctx context.Context, kind TickKind) {
	switch kind {
	case TickGameSweep:
		for _, snap := range d.games.Sweep(ctx, d.now()) {
			d.publisher.PublishTableUpdate(ctx, snap)
		}
	case TickStatsFlush:
		if err := d.stats.Flush(ctx); err != nil {
			log.Warn().Err(err).Msg("Stats flush failed")
		}
	case TickLeaderboard:
		d.publisher.PublishLeaderboard(ctx)
	case TickDailySummary:
		d.summary.PublishDailySummary(ctx)
	case TickHeartbeat:
		d.beats.Heartbeat(d.now())
		log.Debug().Msg("Heartbeat")
	}
}

// Run blocks running all enabled jobs until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	jobs := []struct {
		kind     TickKind
		interval time.Duration
	}{
		{TickGameSweep, d.intervals.GameSweep},
		{TickStatsFlush, d.intervals.StatsFlush},
		{TickLeaderboard, d.intervals.Leaderboard},
		{TickDailySummary, d.intervals.DailySummary},
		{TickHeartbeat, d.intervals.Heartbeat},
	}

	for _, job := range jobs {
		if job.interval <= 0 {
			continue
		}
		g.Go(func() error {
			ticker := time.NewTicker(job.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					d.OnTick(ctx, job.kind)
				}
			}
		})
	}

	log.Info().
		Dur("game_sweep", d.intervals.GameSweep).
		Dur("stats_flush", d.intervals.StatsFlush).
		Dur("leaderboard", d.intervals.Leaderboard).
		Dur("daily_summary", d.intervals.DailySummary).
		Dur("heartbeat", d.intervals.Heartbeat).
		Msg("Scheduler started")
	return g.Wait()
}
