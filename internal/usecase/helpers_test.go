package usecase

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"trading-backend/internal/domain"
	"trading-backend/internal/repository"
)

// fakeGateway records orders instead of hitting a venue. Individual calls
// can be primed to fail.
type fakeGateway struct {
	mu sync.Mutex

	balance      domain.AccountBalance
	balanceErr   error
	positions    []domain.Position
	positionsErr error
	markPrice    float64
	markPriceErr error

	placed      []domain.OrderRequest
	canceled    []int64
	nextOrderID int64
	calls       int // every gateway method bumps this

	failOrderTypes  map[domain.OrderType]bool
	allowBeforeFail int // let this many PlaceOrder calls through first
	failNextOrders  int // then fail this many, then succeed again
}

// failAfterSuccesses primes the gateway to accept n orders, reject the next
// m, and accept everything after.
func (g *fakeGateway) failAfterSuccesses(n, m int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowBeforeFail = n
	g.failNextOrders = m
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		balance:        domain.AccountBalance{TotalBalance: 1000, AvailableBalance: 1000},
		markPrice:      100,
		nextOrderID:    1000,
		failOrderTypes: make(map[domain.OrderType]bool),
	}
}

func (g *fakeGateway) bump() {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
}

func (g *fakeGateway) callsMade() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGateway) FetchBalance() (*domain.AccountBalance, error) {
	g.bump()
	if g.balanceErr != nil {
		return nil, g.balanceErr
	}
	b := g.balance
	return &b, nil
}

func (g *fakeGateway) FetchPositions(symbol string) ([]domain.Position, error) {
	g.bump()
	if g.positionsErr != nil {
		return nil, g.positionsErr
	}
	if symbol == "" {
		out := make([]domain.Position, len(g.positions))
		copy(out, g.positions)
		return out, nil
	}
	var out []domain.Position
	for _, p := range g.positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (g *fakeGateway) FetchOpenOrders(symbol string) ([]domain.OpenOrder, error) {
	g.bump()
	return nil, nil
}

func (g *fakeGateway) PlaceOrder(req *domain.OrderRequest) (*domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++

	if g.allowBeforeFail > 0 {
		g.allowBeforeFail--
	} else if g.failNextOrders > 0 {
		g.failNextOrders--
		return nil, errors.New("order rejected")
	}
	if g.failOrderTypes[req.Type] {
		return nil, errors.New("order type rejected")
	}

	g.placed = append(g.placed, *req)
	g.nextOrderID++
	return &domain.OrderResult{
		OrderID:       g.nextOrderID,
		Status:        "FILLED",
		ExecutedQty:   req.Quantity,
		ExecutedPrice: g.markPrice,
	}, nil
}

func (g *fakeGateway) CancelOrder(symbol string, orderID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.canceled = append(g.canceled, orderID)
	return nil
}

func (g *fakeGateway) SetLeverage(symbol string, leverage int) error { g.bump(); return nil }
func (g *fakeGateway) SetMarginMode(symbol, mode string) error       { g.bump(); return nil }

func (g *fakeGateway) MarkPrice(symbol string) (float64, error) {
	g.bump()
	if g.markPriceErr != nil {
		return 0, g.markPriceErr
	}
	return g.markPrice, nil
}

func (g *fakeGateway) RoundPrice(symbol string, price float64) float64 { return price }
func (g *fakeGateway) RoundQuantity(symbol string, qty float64) float64 {
	return qty
}

func (g *fakeGateway) placedOrders() []domain.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.OrderRequest, len(g.placed))
	copy(out, g.placed)
	return out
}

var _ domain.ExchangeGateway = (*fakeGateway)(nil)

// testEnv wires the trading core onto in-memory storage and the fake
// gateway. Position cache TTL is zero so every read hits the gateway.
type testEnv struct {
	cfg        domain.Config
	gw         *fakeGateway
	ledger     *repository.InMemoryTradeLedger
	state      *repository.StateCache
	sets       *repository.InMemoryProtectiveOrderRepository
	locks      *repository.InMemoryJobLockRepository
	vol        *VolatilityTracker
	gate       *RiskGate
	protection *ProtectionMonitor
	executor   *SignalExecutor
}

func newTestEnv(cfg domain.Config) *testEnv {
	gw := newFakeGateway()
	ledger := repository.NewInMemoryTradeLedger()
	state := repository.NewStateCache(
		repository.NewInMemoryCooldownRepository(),
		repository.NewInMemoryStreakRepository(),
		0,
	)
	sets := repository.NewInMemoryProtectiveOrderRepository()
	locks := repository.NewInMemoryJobLockRepository()
	vol := NewVolatilityTracker(cfg.VolWindow)
	notifier := NewNotifier(nil, repository.NewTokenRepository())
	gate := NewRiskGate(cfg, ledger, vol)
	protection := NewProtectionMonitor(cfg, gw, ledger, sets, state, locks, notifier)
	executor := NewSignalExecutor(cfg, gw, ledger, state, gate, protection, notifier, vol)

	return &testEnv{
		cfg:        cfg,
		gw:         gw,
		ledger:     ledger,
		state:      state,
		sets:       sets,
		locks:      locks,
		vol:        vol,
		gate:       gate,
		protection: protection,
		executor:   executor,
	}
}

func floatPtr(v float64) *float64 { return &v }

var recCounter int

// fillClosed seeds one filled close record. Successive calls get strictly
// increasing timestamps so newest-first queries stay deterministic.
func fillClosed(ledger *repository.InMemoryTradeLedger, symbol, side string, pnl float64) {
	recCounter++
	rec := &domain.TradeRecord{
		ID:           fmt.Sprintf("%s-%s-%d", symbol, side, recCounter),
		Symbol:       symbol,
		Side:         "SELL",
		PositionSide: side,
		Quantity:     1,
		Price:        100,
		Status:       domain.TradeFilled,
		RealizedPnL:  floatPtr(pnl),
		Source:       domain.SourceSystem,
		IsOpen:       false,
		CreatedAt:    time.Now().Add(time.Duration(recCounter) * time.Millisecond),
	}
	if err := ledger.Insert(rec); err != nil {
		panic(err)
	}
}
