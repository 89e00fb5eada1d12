package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"telegram-forum-bot/internal/model"
)

// TestSameKeySerialization checks that concurrent read-modify-write sequences
// on one key produce the same result as sequential execution.
func TestSameKeySerialization(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numOps := rapid.IntRange(2, 30).Draw(t, "numOps")
		key := model.UserKey{
			ChatID: rapid.Int64Range(-1000000, -1).Draw(t, "chatID"),
			UserID: rapid.Int64Range(1, 1000000).Draw(t, "userID"),
		}

		amounts := make([]int64, numOps)
		var expected int64
		for i := range amounts {
			amounts[i] = rapid.Int64Range(-500, 500).Draw(t, "amount")
			expected += amounts[i]
		}

		locks := New[model.UserKey]()
		var counter int64

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, amount := range amounts {
			go func(amount int64) {
				defer wg.Done()
				locks.Lock(key)
				defer locks.Unlock(key)
				counter += amount
			}(amount)
		}
		wg.Wait()

		if counter != expected {
			t.Fatalf("lost update: expected %d, got %d", expected, counter)
		}
	})
}

// TestDifferentKeysIndependent checks that holding one key's lock does not
// block another key.
func TestDifferentKeysIndependent(t *testing.T) {
	locks := New[int64]()

	locks.Lock(1)
	defer locks.Unlock(1)

	assert.True(t, locks.TryLock(2), "unrelated key must not be blocked")
	locks.Unlock(2)
}

func TestTryLockHeldKey(t *testing.T) {
	locks := New[int64]()

	locks.Lock(7)
	assert.False(t, locks.TryLock(7))
	locks.Unlock(7)
	assert.True(t, locks.TryLock(7))
	locks.Unlock(7)
}

func TestWithLock(t *testing.T) {
	locks := New[model.UserKey]()
	key := model.UserKey{ChatID: -100, UserID: 42}

	var n int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locks.WithLock(key, func() error {
				n++
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, n)
}
