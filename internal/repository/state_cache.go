package repository

import (
	"log"
	"sync"
	"time"

	"trading-backend/internal/domain"
)

// StateCache is the in-memory, write-through mirror of cooldowns and
// stop-loss streaks, plus a short-TTL cache of exchange positions. The
// durable repositories stay authoritative; the cache exists for low-latency
// checks and as the fallback when a read against the store fails.
type StateCache struct {
	cooldownRepo domain.CooldownRepository
	streakRepo   domain.StreakRepository

	mu        sync.RWMutex
	cooldowns map[string]time.Time
	streaks   map[string]*domain.StopLossStreak

	posMu       sync.RWMutex
	positions   map[string]cachedPositions
	positionTTL time.Duration
}

type cachedPositions struct {
	positions []domain.Position
	fetchedAt time.Time
}

func NewStateCache(cooldownRepo domain.CooldownRepository, streakRepo domain.StreakRepository, positionTTL time.Duration) *StateCache {
	return &StateCache{
		cooldownRepo: cooldownRepo,
		streakRepo:   streakRepo,
		cooldowns:    make(map[string]time.Time),
		streaks:      make(map[string]*domain.StopLossStreak),
		positions:    make(map[string]cachedPositions),
		positionTTL:  positionTTL,
	}
}

// Load warms the cache from durable storage at startup.
func (c *StateCache) Load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.cooldownRepo.All() {
		c.cooldowns[cooldownKey(rec.Symbol, rec.Direction)] = rec.LastTrade
	}
	for _, streak := range c.streakRepo.All() {
		cp := *streak
		c.streaks[streak.Symbol] = &cp
	}
	log.Printf("StateCache: loaded %d cooldowns, %d streaks", len(c.cooldowns), len(c.streaks))
}

// SetCooldown records an action timestamp write-through; the newest
// timestamp wins in both layers.
func (c *StateCache) SetCooldown(symbol string, direction domain.Direction, ts time.Time) {
	c.mu.Lock()
	key := cooldownKey(symbol, direction)
	if existing, ok := c.cooldowns[key]; !ok || ts.After(existing) {
		c.cooldowns[key] = ts
	}
	c.mu.Unlock()

	if err := c.cooldownRepo.Upsert(symbol, direction, ts); err != nil {
		// The in-memory value still protects this process; only durability
		// across restarts is at risk.
		log.Printf("StateCache: cooldown persist failed for %s %s: %v", symbol, direction, err)
	}
}

// LastAction returns the newest known action timestamp, preferring the
// durable store and falling back to the in-memory value on read failure.
func (c *StateCache) LastAction(symbol string, direction domain.Direction) (time.Time, bool) {
	c.mu.RLock()
	cached, cachedOK := c.cooldowns[cooldownKey(symbol, direction)]
	c.mu.RUnlock()

	stored, storedOK := c.cooldownRepo.Get(symbol, direction)
	if storedOK && (!cachedOK || stored.After(cached)) {
		return stored, true
	}
	return cached, cachedOK
}

// Streak returns a copy of the streak state for the symbol.
func (c *StateCache) Streak(symbol string) *domain.StopLossStreak {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if streak, ok := c.streaks[symbol]; ok {
		cp := *streak
		return &cp
	}
	return &domain.StopLossStreak{Symbol: symbol}
}

// RecordStopLoss increments the streak and opens the pause window at the
// threshold. Write-through.
func (c *StateCache) RecordStopLoss(symbol string, threshold int, pause time.Duration) *domain.StopLossStreak {
	c.mu.Lock()
	streak, ok := c.streaks[symbol]
	if !ok {
		streak = &domain.StopLossStreak{Symbol: symbol}
		c.streaks[symbol] = streak
	}
	streak.Count++
	if threshold > 0 && streak.Count >= threshold {
		until := time.Now().Add(pause)
		streak.PauseUntil = &until
	}
	cp := *streak
	c.mu.Unlock()

	if err := c.streakRepo.Save(&cp); err != nil {
		log.Printf("StateCache: streak persist failed for %s: %v", symbol, err)
	}
	return &cp
}

// ResetStreak zeroes the counter after a winning exit. Write-through.
func (c *StateCache) ResetStreak(symbol string) {
	c.mu.Lock()
	streak := &domain.StopLossStreak{Symbol: symbol}
	c.streaks[symbol] = streak
	cp := *streak
	c.mu.Unlock()

	if err := c.streakRepo.Save(&cp); err != nil {
		log.Printf("StateCache: streak reset persist failed for %s: %v", symbol, err)
	}
}

// CachedPositions returns positions for the symbol if fetched within TTL.
func (c *StateCache) CachedPositions(symbol string) ([]domain.Position, bool) {
	c.posMu.RLock()
	defer c.posMu.RUnlock()

	entry, ok := c.positions[symbol]
	if !ok || time.Since(entry.fetchedAt) > c.positionTTL {
		return nil, false
	}
	cp := make([]domain.Position, len(entry.positions))
	copy(cp, entry.positions)
	return cp, true
}

// StorePositions caches a fresh gateway read.
func (c *StateCache) StorePositions(symbol string, positions []domain.Position) {
	c.posMu.Lock()
	defer c.posMu.Unlock()

	cp := make([]domain.Position, len(positions))
	copy(cp, positions)
	c.positions[symbol] = cachedPositions{positions: cp, fetchedAt: time.Now()}
}

// InvalidatePositions drops the cached read right after a locally-initiated
// order so the same call chain cannot act on stale data.
func (c *StateCache) InvalidatePositions(symbol string) {
	c.posMu.Lock()
	defer c.posMu.Unlock()

	if symbol == "" {
		c.positions = make(map[string]cachedPositions)
		return
	}
	delete(c.positions, symbol)
	delete(c.positions, "")
}
