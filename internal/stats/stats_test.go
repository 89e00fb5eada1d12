package stats

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type memStore struct {
	mu     sync.Mutex
	writes map[TopicKey]int64
	keys   []string
	resets []int64
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{writes: make(map[TopicKey]int64)}
}

func (m *memStore) AddTopicActivity(_ context.Context, chatID, topicID int64, dateKey string, messages int64, _ time.Time, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return assert.AnError
	}
	m.writes[TopicKey{ChatID: chatID, TopicID: topicID}] += messages
	m.keys = append(m.keys, dateKey)
	return nil
}

func (m *memStore) ResetTopicStats(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, chatID)
	return nil
}

func testAggregator(store Store) (*Aggregator, time.Time) {
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return NewAggregator(store, func() time.Time { return base }), base
}

func TestSnapshotOrdering(t *testing.T) {
	agg, _ := testAggregator(newMemStore())

	for i := 0; i < 3; i++ {
		agg.Record(1, 50, "in topic 50")
	}
	agg.Record(1, 10, "in topic 10")
	agg.Record(1, 30, "tie with 10")
	agg.Record(2, 99, "other chat")

	snap := agg.Snapshot(1)
	require.Len(t, snap, 3)
	assert.Equal(t, int64(50), snap[0].TopicID)
	assert.Equal(t, int64(3), snap[0].Messages)
	// Equal counts break ties on topic ID ascending.
	assert.Equal(t, int64(10), snap[1].TopicID)
	assert.Equal(t, int64(30), snap[2].TopicID)
	assert.Equal(t, "in topic 10", snap[1].LastMessage)
}

func TestSnippetTruncation(t *testing.T) {
	agg, base := testAggregator(newMemStore())

	long := strings.Repeat("ы", 300)
	agg.Record(1, 5, long)

	snap := agg.Snapshot(1)
	require.Len(t, snap, 1)
	assert.Equal(t, 200, len([]rune(snap[0].LastMessage)))
	assert.Equal(t, base, snap[0].LastActive)
}

func TestFlushDrainsPending(t *testing.T) {
	store := newMemStore()
	agg, _ := testAggregator(store)

	agg.Record(1, 5, "a")
	agg.Record(1, 5, "b")
	agg.Record(1, 7, "c")

	require.NoError(t, agg.Flush(context.Background()))
	assert.Equal(t, int64(2), store.writes[TopicKey{ChatID: 1, TopicID: 5}])
	assert.Equal(t, int64(1), store.writes[TopicKey{ChatID: 1, TopicID: 7}])
	for _, key := range store.keys {
		assert.Equal(t, "2026-03-04", key)
	}

	// A second flush with no new activity writes nothing.
	store.mu.Lock()
	store.keys = nil
	store.mu.Unlock()
	require.NoError(t, agg.Flush(context.Background()))
	assert.Empty(t, store.keys)

	// Totals survive the flush.
	snap := agg.Snapshot(1)
	require.Len(t, snap, 2)
	assert.Equal(t, int64(2), snap[0].Messages)
}

func TestFlushFailureKeepsDelta(t *testing.T) {
	store := newMemStore()
	agg, _ := testAggregator(store)

	agg.Record(1, 5, "a")
	store.fail = true
	require.Error(t, agg.Flush(context.Background()))

	store.fail = false
	require.NoError(t, agg.Flush(context.Background()))
	assert.Equal(t, int64(1), store.writes[TopicKey{ChatID: 1, TopicID: 5}])
}

func TestResetClearsChatOnly(t *testing.T) {
	store := newMemStore()
	agg, _ := testAggregator(store)

	agg.Record(1, 5, "a")
	agg.Record(2, 5, "b")

	require.NoError(t, agg.Reset(context.Background(), 1))
	assert.Empty(t, agg.Snapshot(1))
	assert.Len(t, agg.Snapshot(2), 1)
	assert.Equal(t, []int64{1}, store.resets)
}

func TestSeedMergesStoredTotals(t *testing.T) {
	agg, base := testAggregator(newMemStore())

	agg.Seed(1, 5, 40, base.Add(-time.Hour), "from before restart")
	agg.Record(1, 5, "fresh")

	snap := agg.Snapshot(1)
	require.Len(t, snap, 1)
	assert.Equal(t, int64(41), snap[0].Messages)
	assert.Equal(t, "fresh", snap[0].LastMessage)
}

func TestSnapshotDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		agg, _ := testAggregator(newMemStore())
		n := rapid.IntRange(1, 50).Draw(t, "messages")
		for i := 0; i < n; i++ {
			topic := rapid.Int64Range(1, 6).Draw(t, "topic")
			agg.Record(1, topic, "msg")
		}

		first := agg.Snapshot(1)
		second := agg.Snapshot(1)
		if len(first) != len(second) {
			t.Fatalf("snapshot length changed: %d vs %d", len(first), len(second))
		}
		var total int64
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("snapshot order unstable at %d", i)
			}
			if i > 0 {
				prev, cur := first[i-1], first[i]
				if cur.Messages > prev.Messages ||
					(cur.Messages == prev.Messages && cur.TopicID < prev.TopicID) {
					t.Fatalf("ordering violated at %d", i)
				}
			}
			total += first[i].Messages
		}
		if total != int64(n) {
			t.Fatalf("message count %d, recorded %d", total, n)
		}
	})
}
