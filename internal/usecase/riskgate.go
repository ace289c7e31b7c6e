package usecase

import (
	"fmt"
	"log"
	"strings"
	"time"

	"trading-backend/internal/domain"
)

// RiskContext is the account/market context one evaluation runs against.
type RiskContext struct {
	Intent           *domain.TradingIntent
	Equity           float64 // total wallet balance; 0 when unavailable
	ProposedNotional float64 // what this intent would add if executed
	Now              time.Time
}

// RiskCheck is one independent, composable gate check. A check must contain
// its own data-access failures and default to PASS for itself; only the
// aggregate fails safe to HOLD.
type RiskCheck interface {
	Name() string
	Check(ctx *RiskContext) domain.RiskDecision
}

// RiskGate runs every check and aggregates: any HOLD dominates; otherwise
// DOWNGRADE reductions sum capped; otherwise PASS.
type RiskGate struct {
	cfg    domain.Config
	checks []RiskCheck
}

func NewRiskGate(cfg domain.Config, ledger domain.TradeLedger, vol *VolatilityTracker) *RiskGate {
	return &RiskGate{
		cfg: cfg,
		checks: []RiskCheck{
			&drawdownCheck{cfg: cfg, ledger: ledger},
			&consecutiveIncorrectCheck{cfg: cfg, ledger: ledger},
			&volatilitySpikeCheck{cfg: cfg, vol: vol},
			&correlatedExposureCheck{cfg: cfg, ledger: ledger},
			&lossStreakCheck{cfg: cfg, ledger: ledger},
		},
	}
}

// Evaluate aggregates all checks. If evaluation itself blows up the gate
// returns HOLD: at the top level safety wins over availability, the inverse
// of the per-check default.
func (g *RiskGate) Evaluate(ctx *RiskContext) (decision domain.RiskDecision) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("RiskGate: CRITICAL: evaluation panic, holding: %v", r)
			decision = domain.RiskDecision{
				Action: domain.RiskHold,
				Reason: fmt.Sprintf("risk evaluation failure: %v", r),
			}
		}
	}()

	var reduction float64
	var reasons []string

	for _, check := range g.checks {
		d := runCheck(check, ctx)
		switch d.Action {
		case domain.RiskHold:
			return domain.RiskDecision{
				Action: domain.RiskHold,
				Reason: fmt.Sprintf("%s: %s", check.Name(), d.Reason),
			}
		case domain.RiskDowngrade:
			reduction += d.ConfidenceReduction
			reasons = append(reasons, fmt.Sprintf("%s: %s", check.Name(), d.Reason))
		}
	}

	if reduction > 0 {
		if reduction > g.cfg.DowngradeCap {
			reduction = g.cfg.DowngradeCap
		}
		return domain.RiskDecision{
			Action:              domain.RiskDowngrade,
			Reason:              strings.Join(reasons, "; "),
			ConfidenceReduction: reduction,
		}
	}
	return domain.RiskDecision{Action: domain.RiskPass}
}

// runCheck isolates one check: a panic inside it becomes PASS for that
// check only, so one broken data source cannot veto the rest.
func runCheck(check RiskCheck, ctx *RiskContext) (decision domain.RiskDecision) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("RiskGate: check %s panicked, passing it: %v", check.Name(), r)
			decision = domain.RiskDecision{Action: domain.RiskPass}
		}
	}()
	return check.Check(ctx)
}

// drawdownCheck holds trading once same-day realized losses exceed a
// percentage of reference equity.
type drawdownCheck struct {
	cfg    domain.Config
	ledger domain.TradeLedger
}

func (c *drawdownCheck) Name() string { return "drawdown" }

func (c *drawdownCheck) Check(ctx *RiskContext) domain.RiskDecision {
	if ctx.Equity <= 0 {
		// No reference equity available; this check cannot judge.
		return domain.RiskDecision{Action: domain.RiskPass}
	}

	pnl := c.ledger.RealizedPnLSince(startOfDay(ctx.Now))
	if pnl >= 0 {
		return domain.RiskDecision{Action: domain.RiskPass}
	}

	lossPct := -pnl / ctx.Equity * 100
	if lossPct >= c.cfg.DrawdownCeilingPct {
		return domain.RiskDecision{
			Action: domain.RiskHold,
			Reason: fmt.Sprintf("daily realized loss %.2f%% >= ceiling %.2f%%", lossPct, c.cfg.DrawdownCeilingPct),
		}
	}
	return domain.RiskDecision{Action: domain.RiskPass}
}

// consecutiveIncorrectCheck holds after N losing directional outcomes in a
// row across all instruments, walked newest-first.
type consecutiveIncorrectCheck struct {
	cfg    domain.Config
	ledger domain.TradeLedger
}

func (c *consecutiveIncorrectCheck) Name() string { return "consecutive-incorrect" }

func (c *consecutiveIncorrectCheck) Check(ctx *RiskContext) domain.RiskDecision {
	n := c.cfg.ConsecutiveIncorrectN
	if n <= 0 {
		return domain.RiskDecision{Action: domain.RiskPass}
	}

	recent := c.ledger.RecentClosed("", "", n)
	if len(recent) < n {
		return domain.RiskDecision{Action: domain.RiskPass}
	}
	for _, rec := range recent {
		if rec.RealizedPnL == nil || *rec.RealizedPnL >= 0 {
			return domain.RiskDecision{Action: domain.RiskPass}
		}
	}
	return domain.RiskDecision{
		Action: domain.RiskHold,
		Reason: fmt.Sprintf("last %d directional outcomes all incorrect", n),
	}
}

// volatilitySpikeCheck attenuates when the newest volatility sample jumps
// over the window mean. No decision while the window is warming up.
type volatilitySpikeCheck struct {
	cfg domain.Config
	vol *VolatilityTracker
}

func (c *volatilitySpikeCheck) Name() string { return "volatility-spike" }

func (c *volatilitySpikeCheck) Check(ctx *RiskContext) domain.RiskDecision {
	ratio, ok := c.vol.SpikeRatio(ctx.Intent.Symbol)
	if !ok {
		return domain.RiskDecision{Action: domain.RiskPass}
	}
	if ratio >= c.cfg.VolSpikeMultiplier {
		return domain.RiskDecision{
			Action:              domain.RiskDowngrade,
			Reason:              fmt.Sprintf("volatility %.2fx window mean", ratio),
			ConfidenceReduction: c.cfg.VolDowngrade,
		}
	}
	return domain.RiskDecision{Action: domain.RiskPass}
}

// correlatedExposureCheck attenuates when two or more cluster members
// already lean the same direction and the aggregate (existing plus this
// intent's hypothetical notional) exceeds a share of equity.
type correlatedExposureCheck struct {
	cfg    domain.Config
	ledger domain.TradeLedger
}

func (c *correlatedExposureCheck) Name() string { return "correlated-exposure" }

func (c *correlatedExposureCheck) Check(ctx *RiskContext) domain.RiskDecision {
	if !ctx.Intent.Direction.IsOpen() || ctx.Equity <= 0 {
		return domain.RiskDecision{Action: domain.RiskPass}
	}

	inCluster := false
	for _, s := range c.cfg.CorrelatedCluster {
		if s == ctx.Intent.Symbol {
			inCluster = true
			break
		}
	}
	if !inCluster {
		return domain.RiskDecision{Action: domain.RiskPass}
	}

	side := ctx.Intent.Direction.Side()
	members := 0
	aggregate := ctx.ProposedNotional
	for _, symbol := range c.cfg.CorrelatedCluster {
		if symbol == ctx.Intent.Symbol {
			continue
		}
		if open, ok := c.ledger.LastOpen(symbol, side); ok {
			members++
			aggregate += open.QuoteAmount
		}
	}

	limit := ctx.Equity * c.cfg.CorrelationEquityPct / 100
	if members >= 1 && aggregate >= limit {
		// The intent itself is the second same-direction member.
		return domain.RiskDecision{
			Action:              domain.RiskDowngrade,
			Reason:              fmt.Sprintf("correlated %s exposure %.0f >= %.0f", side, aggregate, limit),
			ConfidenceReduction: c.cfg.VolDowngrade,
		}
	}
	return domain.RiskDecision{Action: domain.RiskPass}
}

// lossStreakCheck walks realized trades backward for instrument+direction
// while consecutive losses continue: below caution nothing, at caution a
// growing capped DOWNGRADE, at halt a HOLD.
type lossStreakCheck struct {
	cfg    domain.Config
	ledger domain.TradeLedger
}

func (c *lossStreakCheck) Name() string { return "loss-streak" }

func (c *lossStreakCheck) Check(ctx *RiskContext) domain.RiskDecision {
	if !ctx.Intent.Direction.IsOpen() {
		return domain.RiskDecision{Action: domain.RiskPass}
	}

	recent := c.ledger.RecentClosed(ctx.Intent.Symbol, ctx.Intent.Direction.Side(), c.cfg.LossStreakHalt+1)
	streak := 0
	for _, rec := range recent {
		if rec.RealizedPnL != nil && *rec.RealizedPnL < 0 {
			streak++
			continue
		}
		break
	}

	switch {
	case c.cfg.LossStreakHalt > 0 && streak >= c.cfg.LossStreakHalt:
		return domain.RiskDecision{
			Action: domain.RiskHold,
			Reason: fmt.Sprintf("%d consecutive losses on %s %s", streak, ctx.Intent.Symbol, ctx.Intent.Direction.Side()),
		}
	case c.cfg.LossStreakCaution > 0 && streak >= c.cfg.LossStreakCaution:
		reduction := float64(streak-c.cfg.LossStreakCaution+1) * c.cfg.LossStreakStep
		if reduction > c.cfg.DowngradeCap {
			reduction = c.cfg.DowngradeCap
		}
		return domain.RiskDecision{
			Action:              domain.RiskDowngrade,
			Reason:              fmt.Sprintf("loss streak %d on %s %s", streak, ctx.Intent.Symbol, ctx.Intent.Direction.Side()),
			ConfidenceReduction: reduction,
		}
	}
	return domain.RiskDecision{Action: domain.RiskPass}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
