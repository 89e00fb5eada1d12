package bot

import (
	"testing"

	"pgregory.net/rapid"

	"telegram-forum-bot/internal/config"
)

// The admin gate must admit exactly the configured IDs, nothing else.
func TestAdminCheckMatchesConfiguredIDs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numAdmins := rapid.IntRange(1, 10).Draw(t, "numAdmins")
		adminIDs := make([]int64, numAdmins)
		adminSet := make(map[int64]bool)
		for i := 0; i < numAdmins; i++ {
			adminIDs[i] = rapid.Int64Range(1, 1_000_000_000).Draw(t, "adminID")
			adminSet[adminIDs[i]] = true
		}

		cfg := &config.Config{
			Admin: config.AdminConfig{IDs: adminIDs},
		}

		userID := rapid.Int64Range(1, 1_000_000_000).Draw(t, "userID")
		if got := cfg.IsAdmin(userID); got != adminSet[userID] {
			t.Fatalf("IsAdmin(%d) = %v, admin set %v", userID, got, adminIDs)
		}
	})
}

func TestAdminCheckKnownAdmin(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numAdmins := rapid.IntRange(1, 10).Draw(t, "numAdmins")
		adminIDs := make([]int64, numAdmins)
		for i := 0; i < numAdmins; i++ {
			adminIDs[i] = rapid.Int64Range(1, 1_000_000_000).Draw(t, "adminID")
		}

		cfg := &config.Config{
			Admin: config.AdminConfig{IDs: adminIDs},
		}

		idx := rapid.IntRange(0, numAdmins-1).Draw(t, "idx")
		if !cfg.IsAdmin(adminIDs[idx]) {
			t.Fatalf("configured admin %d not recognized, set %v", adminIDs[idx], adminIDs)
		}
	})
}

func TestAdminCheckEmptyList(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := &config.Config{}
		userID := rapid.Int64Range(1, 1_000_000_000).Draw(t, "userID")
		if cfg.IsAdmin(userID) {
			t.Fatalf("empty admin list admitted user %d", userID)
		}
	})
}
