package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"trading-backend/internal/domain"
)

const tradeColumns = `id, symbol, side, position_side, quantity, price, quote_amount,
	commission, status, exchange_order_id, realized_pnl, source, is_open, reason, created_at`

// PostgresTradeLedger stores the trade ledger in Postgres. The partial
// unique index on exchange_order_id makes UpsertByOrderID the single
// de-duplication point for executor, push reconciler and sweep.
type PostgresTradeLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresTradeLedger(pool *pgxpool.Pool) *PostgresTradeLedger {
	return &PostgresTradeLedger{pool: pool}
}

func (r *PostgresTradeLedger) Insert(rec *domain.TradeRecord) error {
	if rec == nil {
		return errors.New("nil record")
	}

	_, err := r.pool.Exec(context.Background(), `
		insert into trade_ledger(`+tradeColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		rec.ID,
		rec.Symbol,
		rec.Side,
		rec.PositionSide,
		rec.Quantity,
		rec.Price,
		rec.QuoteAmount,
		rec.Commission,
		string(rec.Status),
		nullableInt64(rec.ExchangeOrderID),
		nullableFloat(rec.RealizedPnL),
		string(rec.Source),
		rec.IsOpen,
		rec.Reason,
		rec.CreatedAt,
	)
	return err
}

// UpsertByOrderID merges with any prior row carrying the same exchange order
// id: filled status wins over pending, the longer reason wins, and missing
// price/quantity/pnl fields are backfilled from the newer write.
func (r *PostgresTradeLedger) UpsertByOrderID(rec *domain.TradeRecord) error {
	if rec == nil {
		return errors.New("nil record")
	}
	if rec.ExchangeOrderID == nil {
		return r.Insert(rec)
	}

	_, err := r.pool.Exec(context.Background(), `
		insert into trade_ledger(`+tradeColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		on conflict (exchange_order_id) where exchange_order_id is not null
		do update set
			status = case when trade_ledger.status = 'filled' then trade_ledger.status else excluded.status end,
			reason = case when length(excluded.reason) > length(trade_ledger.reason) then excluded.reason else trade_ledger.reason end,
			quantity = case when trade_ledger.quantity > 0 then trade_ledger.quantity else excluded.quantity end,
			price = case when trade_ledger.price > 0 then trade_ledger.price else excluded.price end,
			quote_amount = case when trade_ledger.quote_amount > 0 then trade_ledger.quote_amount else excluded.quote_amount end,
			commission = greatest(trade_ledger.commission, excluded.commission),
			realized_pnl = coalesce(excluded.realized_pnl, trade_ledger.realized_pnl)
	`,
		rec.ID,
		rec.Symbol,
		rec.Side,
		rec.PositionSide,
		rec.Quantity,
		rec.Price,
		rec.QuoteAmount,
		rec.Commission,
		string(rec.Status),
		nullableInt64(rec.ExchangeOrderID),
		nullableFloat(rec.RealizedPnL),
		string(rec.Source),
		rec.IsOpen,
		rec.Reason,
		rec.CreatedAt,
	)
	return err
}

func (r *PostgresTradeLedger) FindByOrderID(orderID int64) (*domain.TradeRecord, error) {
	row := r.pool.QueryRow(context.Background(), `
		select `+tradeColumns+` from trade_ledger where exchange_order_id = $1
	`, orderID)

	rec, err := scanTradeRecord(row)
	if err != nil {
		return nil, fmt.Errorf("record for order %d not found", orderID)
	}
	return rec, nil
}

func (r *PostgresTradeLedger) Query(f domain.TradeFilter) []*domain.TradeRecord {
	query := `select ` + tradeColumns + ` from trade_ledger where 1=1`
	args := []any{}
	n := 0

	if f.Symbol != "" {
		n++
		query += fmt.Sprintf(" and symbol = $%d", n)
		args = append(args, f.Symbol)
	}
	if f.Status != "" {
		n++
		query += fmt.Sprintf(" and status = $%d", n)
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		n++
		query += fmt.Sprintf(" and created_at >= $%d", n)
		args = append(args, f.From)
	}
	query += " order by created_at desc"
	if f.Limit > 0 {
		n++
		query += fmt.Sprintf(" limit $%d", n)
		args = append(args, f.Limit)
	}

	rows, err := r.pool.Query(context.Background(), query, args...)
	if err != nil {
		return []*domain.TradeRecord{}
	}
	defer rows.Close()

	records := make([]*domain.TradeRecord, 0)
	for rows.Next() {
		rec, scanErr := scanTradeRecord(rows)
		if scanErr != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (r *PostgresTradeLedger) RecentClosed(symbol, positionSide string, limit int) []*domain.TradeRecord {
	query := `select ` + tradeColumns + ` from trade_ledger
		where status = 'filled' and not is_open`
	args := []any{}
	n := 0

	if symbol != "" {
		n++
		query += fmt.Sprintf(" and symbol = $%d", n)
		args = append(args, symbol)
	}
	if positionSide != "" {
		n++
		query += fmt.Sprintf(" and position_side = $%d", n)
		args = append(args, positionSide)
	}
	n++
	query += fmt.Sprintf(" order by created_at desc limit $%d", n)
	args = append(args, limit)

	rows, err := r.pool.Query(context.Background(), query, args...)
	if err != nil {
		return []*domain.TradeRecord{}
	}
	defer rows.Close()

	records := make([]*domain.TradeRecord, 0)
	for rows.Next() {
		rec, scanErr := scanTradeRecord(rows)
		if scanErr != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (r *PostgresTradeLedger) LastOpen(symbol, positionSide string) (*domain.TradeRecord, bool) {
	row := r.pool.QueryRow(context.Background(), `
		select `+tradeColumns+` from trade_ledger
		where symbol = $1 and position_side = $2 and status = 'filled' and is_open
		order by created_at desc limit 1
	`, symbol, positionSide)

	rec, err := scanTradeRecord(row)
	if err != nil {
		return nil, false
	}

	// An open followed by a close is no longer the live open.
	var closedAfter int
	err = r.pool.QueryRow(context.Background(), `
		select count(*) from trade_ledger
		where symbol = $1 and position_side = $2 and status = 'filled' and not is_open and created_at > $3
	`, symbol, positionSide, rec.CreatedAt).Scan(&closedAfter)
	if err != nil || closedAfter > 0 {
		return nil, false
	}
	return rec, true
}

func (r *PostgresTradeLedger) OpenedNotionalSince(from time.Time) float64 {
	var total float64
	err := r.pool.QueryRow(context.Background(), `
		select coalesce(sum(quote_amount), 0) from trade_ledger
		where is_open and status = 'filled' and source = 'system' and created_at >= $1
	`, from).Scan(&total)
	if err != nil {
		return 0
	}
	return total
}

func (r *PostgresTradeLedger) OpenedCountSince(from time.Time) int {
	var count int
	err := r.pool.QueryRow(context.Background(), `
		select count(*) from trade_ledger
		where is_open and status = 'filled' and source = 'system' and created_at >= $1
	`, from).Scan(&count)
	if err != nil {
		return 0
	}
	return count
}

func (r *PostgresTradeLedger) RealizedPnLSince(from time.Time) float64 {
	var total float64
	err := r.pool.QueryRow(context.Background(), `
		select coalesce(sum(realized_pnl), 0) from trade_ledger
		where realized_pnl is not null and status = 'filled' and created_at >= $1
	`, from).Scan(&total)
	if err != nil {
		return 0
	}
	return total
}

func (r *PostgresTradeLedger) Statistics(from time.Time) domain.TradeStatistics {
	var stats domain.TradeStatistics

	var wins int
	err := r.pool.QueryRow(context.Background(), `
		select count(*),
			count(*) filter (where realized_pnl > 0),
			coalesce(sum(realized_pnl), 0)
		from trade_ledger
		where status = 'filled' and not is_open and realized_pnl is not null and created_at >= $1
	`, from).Scan(&stats.TotalTrades, &wins, &stats.TotalPnL)
	if err != nil || stats.TotalTrades == 0 {
		return stats
	}
	stats.WinRate = float64(wins) / float64(stats.TotalTrades) * 100

	var avgSeconds float64
	err = r.pool.QueryRow(context.Background(), `
		select coalesce(avg(extract(epoch from (c.created_at - o.created_at))), 0)
		from trade_ledger c
		join lateral (
			select created_at from trade_ledger o
			where o.symbol = c.symbol and o.position_side = c.position_side
				and o.is_open and o.status = 'filled' and o.created_at < c.created_at
			order by o.created_at desc limit 1
		) o on true
		where not c.is_open and c.status = 'filled' and c.created_at >= $1
	`, from).Scan(&avgSeconds)
	if err == nil {
		stats.AvgDuration = int(avgSeconds)
	}
	return stats
}

// Helpers shared by the Postgres repositories.

type scanner interface {
	Scan(dest ...any) error
}

func scanTradeRecord(s scanner) (*domain.TradeRecord, error) {
	var rec domain.TradeRecord
	var status, source string
	var orderID pgtype.Int8
	var realizedPnL pgtype.Float8

	if err := s.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.Side,
		&rec.PositionSide,
		&rec.Quantity,
		&rec.Price,
		&rec.QuoteAmount,
		&rec.Commission,
		&status,
		&orderID,
		&realizedPnL,
		&source,
		&rec.IsOpen,
		&rec.Reason,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.Status = domain.TradeStatus(status)
	rec.Source = domain.TradeSource(source)
	if orderID.Valid {
		v := orderID.Int64
		rec.ExchangeOrderID = &v
	}
	if realizedPnL.Valid {
		v := realizedPnL.Float64
		rec.RealizedPnL = &v
	}
	return &rec, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return pgtype.Float8{Valid: false}
	}
	return pgtype.Float8{Valid: true, Float64: *v}
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Valid: true, Time: *v}
}

func nullableInt64(v *int64) any {
	if v == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Valid: true, Int64: *v}
}

// compile-time check
var _ domain.TradeLedger = (*PostgresTradeLedger)(nil)
