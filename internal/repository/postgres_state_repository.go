package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"trading-backend/internal/domain"
)

// PostgresCooldownRepository stores one row per (symbol, direction), the
// newest timestamp winning on upsert so restarts cannot rewind cooldowns.
type PostgresCooldownRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresCooldownRepository(pool *pgxpool.Pool) *PostgresCooldownRepository {
	return &PostgresCooldownRepository{pool: pool}
}

func (r *PostgresCooldownRepository) Upsert(symbol string, direction domain.Direction, ts time.Time) error {
	_, err := r.pool.Exec(context.Background(), `
		insert into cooldowns(symbol, direction, last_trade_ts)
		values ($1, $2, $3)
		on conflict (symbol, direction)
		do update set last_trade_ts = greatest(cooldowns.last_trade_ts, excluded.last_trade_ts)
	`, symbol, string(direction), ts)
	return err
}

func (r *PostgresCooldownRepository) Get(symbol string, direction domain.Direction) (time.Time, bool) {
	var ts time.Time
	err := r.pool.QueryRow(context.Background(), `
		select last_trade_ts from cooldowns where symbol = $1 and direction = $2
	`, symbol, string(direction)).Scan(&ts)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (r *PostgresCooldownRepository) All() []*domain.CooldownRecord {
	rows, err := r.pool.Query(context.Background(), `
		select symbol, direction, last_trade_ts from cooldowns
	`)
	if err != nil {
		return []*domain.CooldownRecord{}
	}
	defer rows.Close()

	records := make([]*domain.CooldownRecord, 0)
	for rows.Next() {
		var rec domain.CooldownRecord
		var direction string
		if scanErr := rows.Scan(&rec.Symbol, &direction, &rec.LastTrade); scanErr != nil {
			continue
		}
		rec.Direction = domain.Direction(direction)
		records = append(records, &rec)
	}
	return records
}

// PostgresStreakRepository stores consecutive stop-loss counters.
type PostgresStreakRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresStreakRepository(pool *pgxpool.Pool) *PostgresStreakRepository {
	return &PostgresStreakRepository{pool: pool}
}

func (r *PostgresStreakRepository) Get(symbol string) (*domain.StopLossStreak, bool) {
	var streak domain.StopLossStreak
	var pauseUntil pgtype.Timestamptz

	err := r.pool.QueryRow(context.Background(), `
		select symbol, count, pause_until from stop_loss_streaks where symbol = $1
	`, symbol).Scan(&streak.Symbol, &streak.Count, &pauseUntil)
	if err != nil {
		return nil, false
	}
	if pauseUntil.Valid {
		v := pauseUntil.Time
		streak.PauseUntil = &v
	}
	return &streak, true
}

func (r *PostgresStreakRepository) Save(streak *domain.StopLossStreak) error {
	if streak == nil {
		return errors.New("nil streak")
	}

	_, err := r.pool.Exec(context.Background(), `
		insert into stop_loss_streaks(symbol, count, pause_until)
		values ($1, $2, $3)
		on conflict (symbol)
		do update set count = excluded.count, pause_until = excluded.pause_until
	`, streak.Symbol, streak.Count, nullableTime(streak.PauseUntil))
	return err
}

func (r *PostgresStreakRepository) All() []*domain.StopLossStreak {
	rows, err := r.pool.Query(context.Background(), `
		select symbol, count, pause_until from stop_loss_streaks
	`)
	if err != nil {
		return []*domain.StopLossStreak{}
	}
	defer rows.Close()

	streaks := make([]*domain.StopLossStreak, 0)
	for rows.Next() {
		var streak domain.StopLossStreak
		var pauseUntil pgtype.Timestamptz
		if scanErr := rows.Scan(&streak.Symbol, &streak.Count, &pauseUntil); scanErr != nil {
			continue
		}
		if pauseUntil.Valid {
			v := pauseUntil.Time
			streak.PauseUntil = &v
		}
		streaks = append(streaks, &streak)
	}
	return streaks
}

// compile-time checks
var (
	_ domain.CooldownRepository = (*PostgresCooldownRepository)(nil)
	_ domain.StreakRepository   = (*PostgresStreakRepository)(nil)
)
