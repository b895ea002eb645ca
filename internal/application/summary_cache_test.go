package application

import (
	"testing"
	"time"

	"github.com/example/attendance-attest/internal/attendance"
)

func TestSummaryCacheStoresAndReturnsCopies(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	current := fixed
	cache := newSummaryCache(time.Minute, 4, func() time.Time { return current })

	original := PublicSummary{SessionID: "session-1", Events: []PublicEvent{{Type: attendance.EventCheckIn}}}
	cache.Store("token", original)

	original.Events[0].Type = attendance.EventStatusChange

	cached, ok := cache.Get("token")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if cached.Events[0].Type != attendance.EventCheckIn {
		t.Fatalf("expected cached event to remain unchanged, got %s", cached.Events[0].Type)
	}

	cached.Events[0].Type = attendance.EventCheckOut
	again, ok := cache.Get("token")
	if !ok {
		t.Fatalf("expected cache hit on second read")
	}
	if again.Events[0].Type != attendance.EventCheckIn {
		t.Fatalf("expected cache to return independent copy, got %s", again.Events[0].Type)
	}
}

func TestSummaryCacheExpiresEntries(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	current := fixed
	cache := newSummaryCache(time.Second, 4, func() time.Time { return current })

	cache.Store("token", PublicSummary{SessionID: "session-1"})
	if _, ok := cache.Get("token"); !ok {
		t.Fatalf("expected cache hit before expiry")
	}

	current = current.Add(2 * time.Second)
	if _, ok := cache.Get("token"); ok {
		t.Fatalf("expected cache entry to expire")
	}
}

func TestSummaryCacheHonoursTokenExpiry(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	current := fixed
	cache := newSummaryCache(time.Hour, 4, func() time.Time { return current })

	cache.Store("token", PublicSummary{SessionID: "session-1", ExpiresAt: fixed.Add(time.Minute)})

	current = current.Add(time.Minute)
	if _, ok := cache.Get("token"); ok {
		t.Fatalf("expected entry to expire with its token")
	}
}

func TestSummaryCacheEvictsWhenFull(t *testing.T) {
	cache := newSummaryCache(time.Minute, 2, time.Now)
	cache.Store("a", PublicSummary{SessionID: "a"})
	cache.Store("b", PublicSummary{SessionID: "b"})
	cache.Store("c", PublicSummary{SessionID: "c"})

	if len(cache.entries) != 2 {
		t.Fatalf("expected cache to stay bounded, got %d entries", len(cache.entries))
	}
	if _, ok := cache.Get("c"); !ok {
		t.Fatalf("expected newest entry to be present")
	}
}
