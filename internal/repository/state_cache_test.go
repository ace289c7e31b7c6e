package repository

import (
	"testing"
	"time"

	"trading-backend/internal/domain"
)

func TestSetCooldownWritesThrough(t *testing.T) {
	cooldowns := NewInMemoryCooldownRepository()
	cache := NewStateCache(cooldowns, NewInMemoryStreakRepository(), time.Second)

	ts := time.Now()
	cache.SetCooldown("BTCUSDT", domain.OpenLong, ts)

	if got, ok := cache.LastAction("BTCUSDT", domain.OpenLong); !ok || !got.Equal(ts) {
		t.Fatalf("cache miss after write, got %v ok=%v", got, ok)
	}
	if got, ok := cooldowns.Get("BTCUSDT", domain.OpenLong); !ok || !got.Equal(ts) {
		t.Fatalf("durable store miss after write, got %v ok=%v", got, ok)
	}
}

func TestSetCooldownNewestWins(t *testing.T) {
	cache := NewStateCache(NewInMemoryCooldownRepository(), NewInMemoryStreakRepository(), time.Second)

	newer := time.Now()
	older := newer.Add(-time.Hour)
	cache.SetCooldown("BTCUSDT", domain.OpenLong, newer)
	cache.SetCooldown("BTCUSDT", domain.OpenLong, older)

	if got, _ := cache.LastAction("BTCUSDT", domain.OpenLong); !got.Equal(newer) {
		t.Fatalf("older write must not regress the cooldown, got %v", got)
	}
}

func TestLoadWarmsFromDurableStore(t *testing.T) {
	cooldowns := NewInMemoryCooldownRepository()
	streaks := NewInMemoryStreakRepository()

	ts := time.Now()
	if err := cooldowns.Upsert("ETHUSDT", domain.OpenShort, ts); err != nil {
		t.Fatal(err)
	}
	if err := streaks.Save(&domain.StopLossStreak{Symbol: "ETHUSDT", Count: 2}); err != nil {
		t.Fatal(err)
	}

	cache := NewStateCache(cooldowns, streaks, time.Second)
	cache.Load()

	if got, ok := cache.LastAction("ETHUSDT", domain.OpenShort); !ok || !got.Equal(ts) {
		t.Fatalf("expected warmed cooldown, got %v ok=%v", got, ok)
	}
	if streak := cache.Streak("ETHUSDT"); streak.Count != 2 {
		t.Fatalf("expected warmed streak 2, got %d", streak.Count)
	}
}

func TestRecordStopLossPausesAtThreshold(t *testing.T) {
	cache := NewStateCache(NewInMemoryCooldownRepository(), NewInMemoryStreakRepository(), time.Second)

	cache.RecordStopLoss("BTCUSDT", 3, time.Hour)
	cache.RecordStopLoss("BTCUSDT", 3, time.Hour)
	if streak := cache.Streak("BTCUSDT"); streak.Paused(time.Now()) {
		t.Fatal("no pause below the threshold")
	}

	cache.RecordStopLoss("BTCUSDT", 3, time.Hour)
	streak := cache.Streak("BTCUSDT")
	if streak.Count != 3 {
		t.Fatalf("expected count 3, got %d", streak.Count)
	}
	if !streak.Paused(time.Now()) {
		t.Fatal("expected a pause at the threshold")
	}
	if streak.Paused(time.Now().Add(2 * time.Hour)) {
		t.Fatal("pause must lapse after its duration")
	}
}

func TestResetStreakClearsCountAndPause(t *testing.T) {
	cache := NewStateCache(NewInMemoryCooldownRepository(), NewInMemoryStreakRepository(), time.Second)

	for i := 0; i < 3; i++ {
		cache.RecordStopLoss("BTCUSDT", 3, time.Hour)
	}
	cache.ResetStreak("BTCUSDT")

	streak := cache.Streak("BTCUSDT")
	if streak.Count != 0 || streak.Paused(time.Now()) {
		t.Fatalf("expected a clean streak, got %+v", streak)
	}
}

func TestPositionCacheExpiresAndInvalidates(t *testing.T) {
	cache := NewStateCache(NewInMemoryCooldownRepository(), NewInMemoryStreakRepository(), 50*time.Millisecond)

	positions := []domain.Position{{Symbol: "BTCUSDT", Side: "LONG", Quantity: 1}}
	cache.StorePositions("BTCUSDT", positions)

	if got, ok := cache.CachedPositions("BTCUSDT"); !ok || len(got) != 1 {
		t.Fatal("expected a fresh cache hit")
	}

	cache.InvalidatePositions("BTCUSDT")
	if _, ok := cache.CachedPositions("BTCUSDT"); ok {
		t.Fatal("invalidation must drop the entry")
	}

	cache.StorePositions("BTCUSDT", positions)
	time.Sleep(60 * time.Millisecond)
	if _, ok := cache.CachedPositions("BTCUSDT"); ok {
		t.Fatal("entry must expire after the TTL")
	}
}

func TestInvalidateSymbolAlsoDropsAllSymbolsEntry(t *testing.T) {
	cache := NewStateCache(NewInMemoryCooldownRepository(), NewInMemoryStreakRepository(), time.Second)

	all := []domain.Position{
		{Symbol: "BTCUSDT", Side: "LONG", Quantity: 1},
		{Symbol: "ETHUSDT", Side: "SHORT", Quantity: 2},
	}
	cache.StorePositions("", all)
	cache.InvalidatePositions("BTCUSDT")

	if _, ok := cache.CachedPositions(""); ok {
		t.Fatal("the all-symbols entry covers the invalidated symbol and must go too")
	}
}

func TestCachedPositionsReturnsCopies(t *testing.T) {
	cache := NewStateCache(NewInMemoryCooldownRepository(), NewInMemoryStreakRepository(), time.Second)

	cache.StorePositions("BTCUSDT", []domain.Position{{Symbol: "BTCUSDT", Side: "LONG", Quantity: 1}})
	got, _ := cache.CachedPositions("BTCUSDT")
	got[0].Quantity = 99

	again, _ := cache.CachedPositions("BTCUSDT")
	if again[0].Quantity != 1 {
		t.Fatal("callers must not be able to mutate the cached slice")
	}
}
