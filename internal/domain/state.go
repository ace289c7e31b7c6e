package domain

import "time"

// CooldownRecord holds the last action timestamp for one (symbol, direction)
// pair. Rows are overwritten, never deleted; the newest timestamp wins
// across restarts.
type CooldownRecord struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	LastTrade  time.Time `json:"lastTrade"`
}

// StopLossStreak counts consecutive stop-loss fills per symbol. At the
// configured threshold new opens are suspended until PauseUntil.
type StopLossStreak struct {
	Symbol     string     `json:"symbol"`
	Count      int        `json:"count"`
	PauseUntil *time.Time `json:"pauseUntil,omitempty"`
}

// Paused reports whether the pause window is still running at t.
func (s *StopLossStreak) Paused(t time.Time) bool {
	return s.PauseUntil != nil && t.Before(*s.PauseUntil)
}

// CooldownRepository persists cooldown timestamps.
type CooldownRepository interface {
	// Upsert keeps the newer of the stored and given timestamps.
	Upsert(symbol string, direction Direction, ts time.Time) error
	Get(symbol string, direction Direction) (time.Time, bool)
	All() []*CooldownRecord
}

// StreakRepository persists consecutive stop-loss counters.
type StreakRepository interface {
	Get(symbol string) (*StopLossStreak, bool)
	Save(streak *StopLossStreak) error
	All() []*StopLossStreak
}

// JobLockRepository implements the distributed job lock on the shared store:
// one row per job with a self-expiring TTL. Acquire returns false against a
// live holder; infrastructure errors default to acquired (the lock avoids
// duplicate work across instances, it is not a hard safety mechanism).
type JobLockRepository interface {
	Acquire(jobID, holder string, ttl time.Duration) bool
	Release(jobID, holder string) error
}
