package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"trading-backend/internal/domain"
)

// InMemoryTradeLedger keeps the ledger in memory with the same merge
// semantics as the Postgres implementation. Used by tests and as a fallback
// when no database is configured.
type InMemoryTradeLedger struct {
	mu      sync.RWMutex
	records []*domain.TradeRecord
	byOrder map[int64]*domain.TradeRecord
}

func NewInMemoryTradeLedger() *InMemoryTradeLedger {
	return &InMemoryTradeLedger{
		records: make([]*domain.TradeRecord, 0),
		byOrder: make(map[int64]*domain.TradeRecord),
	}
}

func (r *InMemoryTradeLedger) Insert(rec *domain.TradeRecord) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *rec
	r.records = append(r.records, &cp)
	if cp.ExchangeOrderID != nil {
		r.byOrder[*cp.ExchangeOrderID] = &cp
	}
	return nil
}

func (r *InMemoryTradeLedger) UpsertByOrderID(rec *domain.TradeRecord) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}
	if rec.ExchangeOrderID == nil {
		return r.Insert(rec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byOrder[*rec.ExchangeOrderID]
	if !ok {
		cp := *rec
		r.records = append(r.records, &cp)
		r.byOrder[*cp.ExchangeOrderID] = &cp
		return nil
	}

	// Merge: filled wins over pending, longer reason wins, missing numeric
	// fields are backfilled from the newer write.
	if existing.Status != domain.TradeFilled {
		existing.Status = rec.Status
	}
	if len(rec.Reason) > len(existing.Reason) {
		existing.Reason = rec.Reason
	}
	if existing.Quantity == 0 {
		existing.Quantity = rec.Quantity
	}
	if existing.Price == 0 {
		existing.Price = rec.Price
	}
	if existing.QuoteAmount == 0 {
		existing.QuoteAmount = rec.QuoteAmount
	}
	if rec.Commission > existing.Commission {
		existing.Commission = rec.Commission
	}
	if rec.RealizedPnL != nil {
		existing.RealizedPnL = rec.RealizedPnL
	}
	return nil
}

func (r *InMemoryTradeLedger) FindByOrderID(orderID int64) (*domain.TradeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byOrder[orderID]
	if !ok {
		return nil, fmt.Errorf("record for order %d not found", orderID)
	}
	cp := *rec
	return &cp, nil
}

func (r *InMemoryTradeLedger) Query(f domain.TradeFilter) []*domain.TradeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.TradeRecord, 0)
	for _, rec := range r.records {
		if f.Symbol != "" && rec.Symbol != f.Symbol {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && rec.CreatedAt.Before(f.From) {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result
}

func (r *InMemoryTradeLedger) RecentClosed(symbol, positionSide string, limit int) []*domain.TradeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.TradeRecord, 0)
	for _, rec := range r.records {
		if rec.Status != domain.TradeFilled || rec.IsOpen {
			continue
		}
		if symbol != "" && rec.Symbol != symbol {
			continue
		}
		if positionSide != "" && rec.PositionSide != positionSide {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (r *InMemoryTradeLedger) LastOpen(symbol, positionSide string) (*domain.TradeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var lastOpen *domain.TradeRecord
	for _, rec := range r.records {
		if rec.Symbol != symbol || rec.PositionSide != positionSide || rec.Status != domain.TradeFilled {
			continue
		}
		if !rec.IsOpen {
			continue
		}
		if lastOpen == nil || rec.CreatedAt.After(lastOpen.CreatedAt) {
			lastOpen = rec
		}
	}
	if lastOpen == nil {
		return nil, false
	}

	for _, rec := range r.records {
		if rec.Symbol == symbol && rec.PositionSide == positionSide &&
			rec.Status == domain.TradeFilled && !rec.IsOpen && rec.CreatedAt.After(lastOpen.CreatedAt) {
			return nil, false
		}
	}
	cp := *lastOpen
	return &cp, true
}

func (r *InMemoryTradeLedger) OpenedNotionalSince(from time.Time) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0.0
	for _, rec := range r.records {
		if rec.IsOpen && rec.Status == domain.TradeFilled && rec.Source == domain.SourceSystem && !rec.CreatedAt.Before(from) {
			total += rec.QuoteAmount
		}
	}
	return total
}

func (r *InMemoryTradeLedger) OpenedCountSince(from time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, rec := range r.records {
		if rec.IsOpen && rec.Status == domain.TradeFilled && rec.Source == domain.SourceSystem && !rec.CreatedAt.Before(from) {
			count++
		}
	}
	return count
}

func (r *InMemoryTradeLedger) RealizedPnLSince(from time.Time) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0.0
	for _, rec := range r.records {
		if rec.RealizedPnL != nil && rec.Status == domain.TradeFilled && !rec.CreatedAt.Before(from) {
			total += *rec.RealizedPnL
		}
	}
	return total
}

func (r *InMemoryTradeLedger) Statistics(from time.Time) domain.TradeStatistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.TradeStatistics
	wins := 0
	for _, rec := range r.records {
		if rec.IsOpen || rec.Status != domain.TradeFilled || rec.RealizedPnL == nil || rec.CreatedAt.Before(from) {
			continue
		}
		stats.TotalTrades++
		stats.TotalPnL += *rec.RealizedPnL
		if *rec.RealizedPnL > 0 {
			wins++
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(wins) / float64(stats.TotalTrades) * 100
	}
	return stats
}

// InMemoryCooldownRepository mirrors the Postgres cooldown semantics.
type InMemoryCooldownRepository struct {
	mu    sync.RWMutex
	times map[string]time.Time
}

func NewInMemoryCooldownRepository() *InMemoryCooldownRepository {
	return &InMemoryCooldownRepository{times: make(map[string]time.Time)}
}

func cooldownKey(symbol string, direction domain.Direction) string {
	return symbol + "|" + string(direction)
}

func (r *InMemoryCooldownRepository) Upsert(symbol string, direction domain.Direction, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cooldownKey(symbol, direction)
	if existing, ok := r.times[key]; !ok || ts.After(existing) {
		r.times[key] = ts
	}
	return nil
}

func (r *InMemoryCooldownRepository) Get(symbol string, direction domain.Direction) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts, ok := r.times[cooldownKey(symbol, direction)]
	return ts, ok
}

func (r *InMemoryCooldownRepository) All() []*domain.CooldownRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*domain.CooldownRecord, 0, len(r.times))
	for key, ts := range r.times {
		var symbol string
		var direction string
		for i := 0; i < len(key); i++ {
			if key[i] == '|' {
				symbol, direction = key[:i], key[i+1:]
				break
			}
		}
		records = append(records, &domain.CooldownRecord{
			Symbol:    symbol,
			Direction: domain.Direction(direction),
			LastTrade: ts,
		})
	}
	return records
}

// InMemoryStreakRepository keeps stop-loss streaks in memory.
type InMemoryStreakRepository struct {
	mu      sync.RWMutex
	streaks map[string]*domain.StopLossStreak
}

func NewInMemoryStreakRepository() *InMemoryStreakRepository {
	return &InMemoryStreakRepository{streaks: make(map[string]*domain.StopLossStreak)}
}

func (r *InMemoryStreakRepository) Get(symbol string) (*domain.StopLossStreak, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	streak, ok := r.streaks[symbol]
	if !ok {
		return nil, false
	}
	cp := *streak
	return &cp, true
}

func (r *InMemoryStreakRepository) Save(streak *domain.StopLossStreak) error {
	if streak == nil {
		return fmt.Errorf("nil streak")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *streak
	r.streaks[streak.Symbol] = &cp
	return nil
}

func (r *InMemoryStreakRepository) All() []*domain.StopLossStreak {
	r.mu.RLock()
	defer r.mu.RUnlock()

	streaks := make([]*domain.StopLossStreak, 0, len(r.streaks))
	for _, streak := range r.streaks {
		cp := *streak
		streaks = append(streaks, &cp)
	}
	return streaks
}

// InMemoryProtectiveOrderRepository keeps protective sets in memory.
type InMemoryProtectiveOrderRepository struct {
	mu   sync.RWMutex
	sets map[string]*domain.ProtectiveOrderSet
}

func NewInMemoryProtectiveOrderRepository() *InMemoryProtectiveOrderRepository {
	return &InMemoryProtectiveOrderRepository{sets: make(map[string]*domain.ProtectiveOrderSet)}
}

func (r *InMemoryProtectiveOrderRepository) Create(set *domain.ProtectiveOrderSet) error {
	if set == nil {
		return fmt.Errorf("nil set")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sets[set.ID]; exists {
		return fmt.Errorf("set with ID %s already exists", set.ID)
	}
	cp := *set
	r.sets[set.ID] = &cp
	return nil
}

func (r *InMemoryProtectiveOrderRepository) Update(set *domain.ProtectiveOrderSet) error {
	if set == nil {
		return fmt.Errorf("nil set")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sets[set.ID]; !exists {
		return fmt.Errorf("set not found")
	}
	cp := *set
	r.sets[set.ID] = &cp
	return nil
}

func (r *InMemoryProtectiveOrderRepository) GetActive() []*domain.ProtectiveOrderSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]*domain.ProtectiveOrderSet, 0)
	for _, set := range r.sets {
		if set.IsActive {
			cp := *set
			active = append(active, &cp)
		}
	}
	return active
}

func (r *InMemoryProtectiveOrderRepository) GetActiveBySymbolSide(symbol, side string) (*domain.ProtectiveOrderSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, set := range r.sets {
		if set.IsActive && set.Symbol == symbol && set.Side == side {
			cp := *set
			return &cp, true
		}
	}
	return nil, false
}

func (r *InMemoryProtectiveOrderRepository) FindByOrderID(orderID int64) (*domain.ProtectiveOrderSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, set := range r.sets {
		if !set.IsActive {
			continue
		}
		for _, id := range set.OrderIDs() {
			if id == orderID {
				cp := *set
				return &cp, true
			}
		}
	}
	return nil, false
}

func (r *InMemoryProtectiveOrderRepository) Deactivate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.sets[id]
	if !exists {
		return fmt.Errorf("set not found")
	}
	now := time.Now()
	set.IsActive = false
	set.DeactivatedAt = &now
	return nil
}

// InMemoryJobLockRepository mirrors the TTL lock for single-process runs
// and tests.
type InMemoryJobLockRepository struct {
	mu    sync.Mutex
	locks map[string]jobLockRow
}

type jobLockRow struct {
	holder     string
	acquiredAt time.Time
	ttl        time.Duration
}

func NewInMemoryJobLockRepository() *InMemoryJobLockRepository {
	return &InMemoryJobLockRepository{locks: make(map[string]jobLockRow)}
}

func (r *InMemoryJobLockRepository) Acquire(jobID, holder string, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if row, ok := r.locks[jobID]; ok {
		if now.Before(row.acquiredAt.Add(row.ttl)) && row.holder != holder {
			return false
		}
	}
	r.locks[jobID] = jobLockRow{holder: holder, acquiredAt: now, ttl: ttl}
	return true
}

func (r *InMemoryJobLockRepository) Release(jobID, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if row, ok := r.locks[jobID]; ok && row.holder == holder {
		delete(r.locks, jobID)
	}
	return nil
}

// compile-time checks
var (
	_ domain.TradeLedger               = (*InMemoryTradeLedger)(nil)
	_ domain.CooldownRepository        = (*InMemoryCooldownRepository)(nil)
	_ domain.StreakRepository          = (*InMemoryStreakRepository)(nil)
	_ domain.ProtectiveOrderRepository = (*InMemoryProtectiveOrderRepository)(nil)
	_ domain.JobLockRepository         = (*InMemoryJobLockRepository)(nil)
)
