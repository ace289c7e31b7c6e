package domain

import "time"

// Config carries every policy number the core uses. It is resolved once at
// startup and passed through constructors; components never re-read the
// environment mid-operation.
type Config struct {
	// Instrument universe
	AllowedSymbols []string
	MajorSymbols   []string // tighter confidence tier applies to the rest
	Leverage       int
	MarginMode     string // CROSSED or ISOLATED

	// Sizing
	FixedNotionalCap     float64 // max USDT notional per order
	BalanceUtilization   float64 // fraction of available balance considered
	MaxDailyNotional     float64
	MaxDailyTrades       int
	MaxPositionNotional  float64 // fixed same-side exposure cap
	MaxPositionEquityPct float64 // same-side cap as percent of equity

	// Confidence policy
	MinConfidenceMajor float64
	MinConfidenceAlt   float64
	FlipConfidence     float64

	// Cooldowns
	Cooldown                 time.Duration
	VolatilityCooldownFactor float64 // stretch multiplier during a volatility spike
	StopLossReentryFactor    float64 // extra stretch re-opening right after a stop loss

	// Stop-loss pause
	PauseThreshold int
	PauseDuration  time.Duration

	// Protection
	TakeProfitPct       float64
	StopLossPct         float64
	TrailingCallbackPct float64
	MinHold             time.Duration
	MaxHold             time.Duration // force close with no/negative profit beyond this
	WeakHold            time.Duration // recycle capital out of negligible winners
	WeakProfitPct       float64
	ProtectionInterval  time.Duration
	SweepInterval       time.Duration

	// Risk gate
	DrawdownCeilingPct    float64
	EmergencyStopMultiple float64 // hard multiple of the ceiling that triggers emergency stop
	ConsecutiveIncorrectN int
	VolWindow             int
	VolSpikeMultiplier    float64
	VolDowngrade          float64
	CorrelatedCluster     []string
	CorrelationEquityPct  float64
	LossStreakCaution     int
	LossStreakHalt        int
	LossStreakStep        float64 // downgrade added per loss beyond caution
	DowngradeCap          float64

	// Runtime
	PositionCacheTTL time.Duration
	JobLockTTL       time.Duration
	ShutdownGrace    time.Duration
}

// DefaultConfig returns conservative defaults; main overrides from env.
func DefaultConfig() Config {
	return Config{
		AllowedSymbols: []string{"BTCUSDT", "ETHUSDT"},
		MajorSymbols:   []string{"BTCUSDT", "ETHUSDT"},
		Leverage:       5,
		MarginMode:     "CROSSED",

		FixedNotionalCap:     200,
		BalanceUtilization:   0.3,
		MaxDailyNotional:     2000,
		MaxDailyTrades:       20,
		MaxPositionNotional:  600,
		MaxPositionEquityPct: 30,

		MinConfidenceMajor: 60,
		MinConfidenceAlt:   70,
		FlipConfidence:     85,

		Cooldown:                 30 * time.Minute,
		VolatilityCooldownFactor: 1.5,
		StopLossReentryFactor:    2.0,

		PauseThreshold: 3,
		PauseDuration:  4 * time.Hour,

		TakeProfitPct:       2.0,
		StopLossPct:         1.2,
		TrailingCallbackPct: 0.8,
		MinHold:             15 * time.Minute,
		MaxHold:             24 * time.Hour,
		WeakHold:            8 * time.Hour,
		WeakProfitPct:       0.3,
		ProtectionInterval:  30 * time.Second,
		SweepInterval:       5 * time.Minute,

		DrawdownCeilingPct:    5,
		EmergencyStopMultiple: 2,
		ConsecutiveIncorrectN: 4,
		VolWindow:             20,
		VolSpikeMultiplier:    2.5,
		VolDowngrade:          15,
		CorrelatedCluster:     []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		CorrelationEquityPct:  40,
		LossStreakCaution:     2,
		LossStreakHalt:        5,
		LossStreakStep:        10,
		DowngradeCap:          40,

		PositionCacheTTL: 5 * time.Second,
		JobLockTTL:       2 * time.Minute,
		ShutdownGrace:    30 * time.Second,
	}
}

// IsMajor reports whether the looser confidence tier applies.
func (c *Config) IsMajor(symbol string) bool {
	for _, s := range c.MajorSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Allowed reports whether the symbol is on the allow-list.
func (c *Config) Allowed(symbol string) bool {
	for _, s := range c.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// MinConfidence returns the tier threshold for the symbol before the
// historical-accuracy adjustment.
func (c *Config) MinConfidence(symbol string) float64 {
	if c.IsMajor(symbol) {
		return c.MinConfidenceMajor
	}
	return c.MinConfidenceAlt
}
