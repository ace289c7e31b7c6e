package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"trading-backend/internal/domain"
)

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// configFromEnv overlays environment values on the defaults.
func configFromEnv() domain.Config {
	cfg := domain.DefaultConfig()

	cfg.AllowedSymbols = getEnvList("ALLOWED_SYMBOLS", cfg.AllowedSymbols)
	cfg.MajorSymbols = getEnvList("MAJOR_SYMBOLS", cfg.MajorSymbols)
	cfg.Leverage = getEnvInt("LEVERAGE", cfg.Leverage)
	cfg.MarginMode = getEnv("MARGIN_MODE", cfg.MarginMode)

	cfg.FixedNotionalCap = getEnvFloat("FIXED_NOTIONAL_CAP", cfg.FixedNotionalCap)
	cfg.BalanceUtilization = getEnvFloat("BALANCE_UTILIZATION", cfg.BalanceUtilization)
	cfg.MaxDailyNotional = getEnvFloat("MAX_DAILY_NOTIONAL", cfg.MaxDailyNotional)
	cfg.MaxDailyTrades = getEnvInt("MAX_DAILY_TRADES", cfg.MaxDailyTrades)
	cfg.MaxPositionNotional = getEnvFloat("MAX_POSITION_NOTIONAL", cfg.MaxPositionNotional)
	cfg.MaxPositionEquityPct = getEnvFloat("MAX_POSITION_EQUITY_PCT", cfg.MaxPositionEquityPct)

	cfg.MinConfidenceMajor = getEnvFloat("MIN_CONFIDENCE_MAJOR", cfg.MinConfidenceMajor)
	cfg.MinConfidenceAlt = getEnvFloat("MIN_CONFIDENCE_ALT", cfg.MinConfidenceAlt)
	cfg.FlipConfidence = getEnvFloat("FLIP_CONFIDENCE", cfg.FlipConfidence)

	cfg.Cooldown = getEnvDuration("COOLDOWN", cfg.Cooldown)
	cfg.VolatilityCooldownFactor = getEnvFloat("VOLATILITY_COOLDOWN_FACTOR", cfg.VolatilityCooldownFactor)
	cfg.StopLossReentryFactor = getEnvFloat("STOP_LOSS_REENTRY_FACTOR", cfg.StopLossReentryFactor)

	cfg.PauseThreshold = getEnvInt("PAUSE_THRESHOLD", cfg.PauseThreshold)
	cfg.PauseDuration = getEnvDuration("PAUSE_DURATION", cfg.PauseDuration)

	cfg.TakeProfitPct = getEnvFloat("TAKE_PROFIT_PCT", cfg.TakeProfitPct)
	cfg.StopLossPct = getEnvFloat("STOP_LOSS_PCT", cfg.StopLossPct)
	cfg.TrailingCallbackPct = getEnvFloat("TRAILING_CALLBACK_PCT", cfg.TrailingCallbackPct)
	cfg.MinHold = getEnvDuration("MIN_HOLD", cfg.MinHold)
	cfg.MaxHold = getEnvDuration("MAX_HOLD", cfg.MaxHold)
	cfg.WeakHold = getEnvDuration("WEAK_HOLD", cfg.WeakHold)
	cfg.WeakProfitPct = getEnvFloat("WEAK_PROFIT_PCT", cfg.WeakProfitPct)
	cfg.ProtectionInterval = getEnvDuration("PROTECTION_INTERVAL", cfg.ProtectionInterval)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", cfg.SweepInterval)

	cfg.DrawdownCeilingPct = getEnvFloat("DRAWDOWN_CEILING_PCT", cfg.DrawdownCeilingPct)
	cfg.EmergencyStopMultiple = getEnvFloat("EMERGENCY_STOP_MULTIPLE", cfg.EmergencyStopMultiple)
	cfg.ConsecutiveIncorrectN = getEnvInt("CONSECUTIVE_INCORRECT_N", cfg.ConsecutiveIncorrectN)
	cfg.VolWindow = getEnvInt("VOL_WINDOW", cfg.VolWindow)
	cfg.VolSpikeMultiplier = getEnvFloat("VOL_SPIKE_MULTIPLIER", cfg.VolSpikeMultiplier)
	cfg.VolDowngrade = getEnvFloat("VOL_DOWNGRADE", cfg.VolDowngrade)
	cfg.CorrelatedCluster = getEnvList("CORRELATED_CLUSTER", cfg.CorrelatedCluster)
	cfg.CorrelationEquityPct = getEnvFloat("CORRELATION_EQUITY_PCT", cfg.CorrelationEquityPct)
	cfg.LossStreakCaution = getEnvInt("LOSS_STREAK_CAUTION", cfg.LossStreakCaution)
	cfg.LossStreakHalt = getEnvInt("LOSS_STREAK_HALT", cfg.LossStreakHalt)
	cfg.LossStreakStep = getEnvFloat("LOSS_STREAK_STEP", cfg.LossStreakStep)
	cfg.DowngradeCap = getEnvFloat("DOWNGRADE_CAP", cfg.DowngradeCap)

	cfg.PositionCacheTTL = getEnvDuration("POSITION_CACHE_TTL", cfg.PositionCacheTTL)
	cfg.JobLockTTL = getEnvDuration("JOB_LOCK_TTL", cfg.JobLockTTL)
	cfg.ShutdownGrace = getEnvDuration("SHUTDOWN_GRACE", cfg.ShutdownGrace)

	return cfg
}
