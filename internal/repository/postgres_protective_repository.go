package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"trading-backend/internal/domain"
)

const protectiveColumns = `id, symbol, side, tp_order_id, sl_order_id, trailing_order_id,
	quantity, entry_price, tp_pct, sl_pct, leverage, peak_price, ratchet_tier,
	is_active, created_at, deactivated_at`

// PostgresProtectiveOrderRepository stores protective-order metadata.
// Active sets: is_active=true, at most one per (symbol, side).
type PostgresProtectiveOrderRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresProtectiveOrderRepository(pool *pgxpool.Pool) *PostgresProtectiveOrderRepository {
	return &PostgresProtectiveOrderRepository{pool: pool}
}

func (r *PostgresProtectiveOrderRepository) Create(set *domain.ProtectiveOrderSet) error {
	if set == nil {
		return errors.New("nil set")
	}

	_, err := r.pool.Exec(context.Background(), `
		insert into protective_order_sets(`+protectiveColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		set.ID,
		set.Symbol,
		set.Side,
		nullableInt64(set.TPOrderID),
		nullableInt64(set.SLOrderID),
		nullableInt64(set.TrailingOrderID),
		set.Quantity,
		set.EntryPrice,
		set.TPPct,
		set.SLPct,
		set.Leverage,
		set.PeakPrice,
		set.RatchetTier,
		set.IsActive,
		set.CreatedAt,
		nullableTime(set.DeactivatedAt),
	)
	return err
}

func (r *PostgresProtectiveOrderRepository) Update(set *domain.ProtectiveOrderSet) error {
	if set == nil {
		return errors.New("nil set")
	}

	_, err := r.pool.Exec(context.Background(), `
		update protective_order_sets set
			tp_order_id=$2,
			sl_order_id=$3,
			trailing_order_id=$4,
			quantity=$5,
			entry_price=$6,
			tp_pct=$7,
			sl_pct=$8,
			leverage=$9,
			peak_price=$10,
			ratchet_tier=$11,
			is_active=$12,
			deactivated_at=$13
		where id=$1
	`,
		set.ID,
		nullableInt64(set.TPOrderID),
		nullableInt64(set.SLOrderID),
		nullableInt64(set.TrailingOrderID),
		set.Quantity,
		set.EntryPrice,
		set.TPPct,
		set.SLPct,
		set.Leverage,
		set.PeakPrice,
		set.RatchetTier,
		set.IsActive,
		nullableTime(set.DeactivatedAt),
	)
	return err
}

func (r *PostgresProtectiveOrderRepository) GetActive() []*domain.ProtectiveOrderSet {
	rows, err := r.pool.Query(context.Background(), `
		select `+protectiveColumns+` from protective_order_sets
		where is_active
		order by created_at desc
	`)
	if err != nil {
		return []*domain.ProtectiveOrderSet{}
	}
	defer rows.Close()

	sets := make([]*domain.ProtectiveOrderSet, 0)
	for rows.Next() {
		set, scanErr := scanProtectiveSet(rows)
		if scanErr != nil {
			continue
		}
		sets = append(sets, set)
	}
	return sets
}

func (r *PostgresProtectiveOrderRepository) GetActiveBySymbolSide(symbol, side string) (*domain.ProtectiveOrderSet, bool) {
	row := r.pool.QueryRow(context.Background(), `
		select `+protectiveColumns+` from protective_order_sets
		where is_active and symbol = $1 and side = $2
		order by created_at desc limit 1
	`, symbol, side)

	set, err := scanProtectiveSet(row)
	if err != nil {
		return nil, false
	}
	return set, true
}

func (r *PostgresProtectiveOrderRepository) FindByOrderID(orderID int64) (*domain.ProtectiveOrderSet, bool) {
	row := r.pool.QueryRow(context.Background(), `
		select `+protectiveColumns+` from protective_order_sets
		where is_active = true
		  and (tp_order_id = $1 or sl_order_id = $1 or trailing_order_id = $1)
		order by created_at desc limit 1
	`, orderID)

	set, err := scanProtectiveSet(row)
	if err != nil {
		return nil, false
	}
	return set, true
}

func (r *PostgresProtectiveOrderRepository) Deactivate(id string) error {
	_, err := r.pool.Exec(context.Background(), `
		update protective_order_sets set is_active = false, deactivated_at = $2 where id = $1
	`, id, time.Now())
	return err
}

func scanProtectiveSet(s scanner) (*domain.ProtectiveOrderSet, error) {
	var set domain.ProtectiveOrderSet
	var tpID, slID, trailingID pgtype.Int8
	var deactivatedAt pgtype.Timestamptz

	if err := s.Scan(
		&set.ID,
		&set.Symbol,
		&set.Side,
		&tpID,
		&slID,
		&trailingID,
		&set.Quantity,
		&set.EntryPrice,
		&set.TPPct,
		&set.SLPct,
		&set.Leverage,
		&set.PeakPrice,
		&set.RatchetTier,
		&set.IsActive,
		&set.CreatedAt,
		&deactivatedAt,
	); err != nil {
		return nil, err
	}

	if tpID.Valid {
		v := tpID.Int64
		set.TPOrderID = &v
	}
	if slID.Valid {
		v := slID.Int64
		set.SLOrderID = &v
	}
	if trailingID.Valid {
		v := trailingID.Int64
		set.TrailingOrderID = &v
	}
	if deactivatedAt.Valid {
		v := deactivatedAt.Time
		set.DeactivatedAt = &v
	}
	return &set, nil
}

// compile-time check
var _ domain.ProtectiveOrderRepository = (*PostgresProtectiveOrderRepository)(nil)
