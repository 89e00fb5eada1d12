// Package metrics exposes operational counters and the health endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the bot's Prometheus instruments.
type Metrics struct {
	MessagesSeen      prometheus.Counter
	FloodVerdicts     *prometheus.CounterVec
	StrikesIssued     *prometheus.CounterVec
	Restrictions      *prometheus.CounterVec
	TablesResolved    prometheus.Counter
	SettlementRetries prometheus.Counter

	registry      *prometheus.Registry
	lastHeartbeat atomic.Int64
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		MessagesSeen: factory.NewCounter(prometheus.CounterOpts{
			Name: "forumbot_messages_seen_total",
			Help: "messages observed on the moderation pipeline",
		}),
		FloodVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forumbot_flood_verdicts_total",
			Help: "flood detector verdicts by kind",
		}, []string{"verdict"}),
		StrikesIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forumbot_strikes_issued_total",
			Help: "strikes issued by source",
		}, []string{"source"}),
		Restrictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forumbot_restrictions_total",
			Help: "restrictions applied by kind",
		}, []string{"kind"}),
		TablesResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "forumbot_tables_resolved_total",
			Help: "blackjack tables settled",
		}),
		SettlementRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "forumbot_settlement_retries_total",
			Help: "settlement write retries",
		}),
	}
	// Construction counts as the first heartbeat, so a freshly started
	// process reports healthy until the scheduler's first tick is due.
	m.Heartbeat(time.Now())
	return m
}

// Heartbeat records that the scheduler is alive. The health endpoint goes
// unhealthy when heartbeats stop arriving.
func (m *Metrics) Heartbeat(now time.Time) {
	m.lastHeartbeat.Store(now.UnixNano())
}

// Healthy reports whether a heartbeat arrived within maxAge.
func (m *Metrics) Healthy(now time.Time, maxAge time.Duration) bool {
	last := m.lastHeartbeat.Load()
	if last == 0 {
		return false
	}
	return now.Sub(time.Unix(0, last)) <= maxAge
}

// Server serves /metrics and /healthz.
type Server struct {
	metrics *Metrics
	srv     *http.Server
	maxAge  time.Duration
}

// NewServer builds the HTTP listener for the metric set. maxAge bounds how
// stale the last heartbeat may be before /healthz reports failure.
func NewServer(m *Metrics, addr string, maxAge time.Duration) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if m.Healthy(time.Now(), maxAge) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no recent heartbeat"))
	})

	return &Server{
		metrics: m,
		maxAge:  maxAge,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("Metrics listener started")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
