// Package stats keeps per-topic activity counters for a forum chat. Counters
// accumulate in memory on the hot path and flush to the store on a timer, so
// a message never waits on a database write.
package stats

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-forum-bot/internal/model"
)

// snippetLimit caps the stored preview of the last message in a topic.
const snippetLimit = 200

// TopicKey identifies one forum topic within a chat.
type TopicKey struct {
	ChatID  int64
	TopicID int64
}

// Store persists flushed counter deltas.
type Store interface {
	// AddTopicActivity increments the stored counters for one topic on the
	// given day key (YYYY-MM-DD).
	AddTopicActivity(ctx context.Context, chatID, topicID int64, dateKey string, messages int64, lastActive time.Time, lastMessage string) error

	// ResetTopicStats clears all stored counters for a chat.
	ResetTopicStats(ctx context.Context, chatID int64) error
}

// entry is the live counter set for one topic.
type entry struct {
	total       int64
	pending     int64
	lastActive  time.Time
	lastMessage string
}

// Aggregator accumulates topic activity. Record is O(1) under a single
// mutex; the pending deltas are drained by Flush.
type Aggregator struct {
	store Store
	now   func() time.Time

	mu     sync.Mutex
	topics map[TopicKey]*entry
}

// NewAggregator creates an aggregator flushing into store.
func NewAggregator(store Store, now func() time.Time) *Aggregator {
	return &Aggregator{
		store:  store,
		now:    now,
		topics: make(map[TopicKey]*entry),
	}
}

// Record counts one message in a topic. The text is kept as the topic's
// last-message snippet, truncated to a fixed rune length.
func (a *Aggregator) Record(chatID, topicID int64, text string) {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	key := TopicKey{ChatID: chatID, TopicID: topicID}
	e, ok := a.topics[key]
	if !ok {
		e = &entry{}
		a.topics[key] = e
	}
	e.total++
	e.pending++
	e.lastActive = now
	e.lastMessage = truncate(text, snippetLimit)
}

// Seed preloads a topic's total from the store so snapshots survive a
// restart. Pending deltas are unaffected.
func (a *Aggregator) Seed(chatID, topicID, total int64, lastActive time.Time, lastMessage string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := TopicKey{ChatID: chatID, TopicID: topicID}
	e, ok := a.topics[key]
	if !ok {
		e = &entry{}
		a.topics[key] = e
	}
	e.total += total
	if lastActive.After(e.lastActive) {
		e.lastActive = lastActive
		e.lastMessage = truncate(lastMessage, snippetLimit)
	}
}

// Snapshot returns the chat's topics ordered by message count descending,
// topic ID ascending on ties. The same counter state always produces the
// same order.
func (a *Aggregator) Snapshot(chatID int64) []model.TopicStat {
	a.mu.Lock()
	out := make([]model.TopicStat, 0, len(a.topics))
	for key, e := range a.topics {
		if key.ChatID != chatID {
			continue
		}
		out = append(out, model.TopicStat{
			ChatID:      key.ChatID,
			TopicID:     key.TopicID,
			Messages:    e.total,
			LastActive:  e.lastActive,
			LastMessage: e.lastMessage,
		})
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Messages != out[j].Messages {
			return out[i].Messages > out[j].Messages
		}
		return out[i].TopicID < out[j].TopicID
	})
	return out
}

// Flush writes all pending deltas to the store. A topic whose write fails
// keeps its delta for the next flush.
func (a *Aggregator) Flush(ctx context.Context) error {
	type delta struct {
		key         TopicKey
		pending     int64
		lastActive  time.Time
		lastMessage string
	}

	a.mu.Lock()
	deltas := make([]delta, 0, len(a.topics))
	for key, e := range a.topics {
		if e.pending == 0 {
			continue
		}
		deltas = append(deltas, delta{key, e.pending, e.lastActive, e.lastMessage})
		e.pending = 0
	}
	a.mu.Unlock()

	dateKey := a.now().Format("2006-01-02")
	var firstErr error
	for _, d := range deltas {
		err := a.store.AddTopicActivity(ctx, d.key.ChatID, d.key.TopicID, dateKey, d.pending, d.lastActive, d.lastMessage)
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		log.Warn().
			Err(err).
			Int64("chat_id", d.key.ChatID).
			Int64("topic_id", d.key.TopicID).
			Msg("Failed to flush topic stats, keeping delta")

		a.mu.Lock()
		if e, ok := a.topics[d.key]; ok {
			e.pending += d.pending
		}
		a.mu.Unlock()
	}
	if firstErr != nil {
		return fmt.Errorf("failed to flush topic stats: %w", firstErr)
	}
	return nil
}

// Reset drops the chat's counters in memory and in the store.
func (a *Aggregator) Reset(ctx context.Context, chatID int64) error {
	a.mu.Lock()
	for key := range a.topics {
		if key.ChatID == chatID {
			delete(a.topics, key)
		}
	}
	a.mu.Unlock()

	if err := a.store.ResetTopicStats(ctx, chatID); err != nil {
		return fmt.Errorf("failed to reset topic stats: %w", err)
	}
	return nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
