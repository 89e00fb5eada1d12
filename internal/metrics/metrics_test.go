package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatHealth(t *testing.T) {
	m := New()

	// New seeds a heartbeat, so a fresh process is healthy right away.
	assert.True(t, m.Healthy(time.Now(), time.Minute))

	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	m.Heartbeat(now)
	assert.True(t, m.Healthy(now.Add(30*time.Second), time.Minute))
	assert.False(t, m.Healthy(now.Add(2*time.Minute), time.Minute))
}

func TestCountersRegistered(t *testing.T) {
	m := New()
	m.MessagesSeen.Inc()
	m.FloodVerdicts.WithLabelValues("flood").Inc()
	m.StrikesIssued.WithLabelValues("profanity").Add(2)
	m.Restrictions.WithLabelValues("mute").Inc()
	m.TablesResolved.Inc()
	m.SettlementRetries.Inc()

	rec := httptest.NewRecorder()
	handler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "forumbot_messages_seen_total 1")
	assert.Contains(t, body, `forumbot_flood_verdicts_total{verdict="flood"} 1`)
	assert.Contains(t, body, `forumbot_strikes_issued_total{source="profanity"} 2`)
	assert.Contains(t, body, `forumbot_tables_resolved_total 1`)
}
