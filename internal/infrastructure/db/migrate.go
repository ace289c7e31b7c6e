package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the minimal tables needed by the trading core.
// This keeps setup simple (no external migration tool), but still gives persistence.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`create table if not exists trade_ledger (
			id text primary key,
			symbol text not null,
			side text not null,
			position_side text not null default '',
			quantity double precision not null default 0,
			price double precision not null default 0,
			quote_amount double precision not null default 0,
			commission double precision not null default 0,
			status text not null,
			exchange_order_id bigint null,
			realized_pnl double precision null,
			source text not null default 'system',
			is_open boolean not null default false,
			reason text not null default '',
			created_at timestamptz not null default now()
		);`,
		`create unique index if not exists trade_ledger_order_id_uniq
			on trade_ledger(exchange_order_id) where exchange_order_id is not null;`,
		`create index if not exists trade_ledger_symbol_created_idx on trade_ledger(symbol, created_at desc);`,
		`create index if not exists trade_ledger_status_idx on trade_ledger(status);`,
		`create index if not exists trade_ledger_created_idx on trade_ledger(created_at desc);`,
		`create table if not exists cooldowns (
			symbol text not null,
			direction text not null,
			last_trade_ts timestamptz not null,
			primary key (symbol, direction)
		);`,
		`create table if not exists stop_loss_streaks (
			symbol text primary key,
			count int not null default 0,
			pause_until timestamptz null
		);`,
		`create table if not exists protective_order_sets (
			id text primary key,
			symbol text not null,
			side text not null,
			tp_order_id bigint null,
			sl_order_id bigint null,
			trailing_order_id bigint null,
			quantity double precision not null default 0,
			entry_price double precision not null default 0,
			tp_pct double precision not null default 0,
			sl_pct double precision not null default 0,
			leverage int not null default 1,
			peak_price double precision not null default 0,
			ratchet_tier int not null default 0,
			is_active boolean not null default true,
			created_at timestamptz not null default now(),
			deactivated_at timestamptz null
		);`,
		`create index if not exists protective_order_sets_active_idx on protective_order_sets(is_active);`,
		`create index if not exists protective_order_sets_symbol_side_idx on protective_order_sets(symbol, side);`,
		`create table if not exists job_locks (
			job_id text primary key,
			holder text not null,
			acquired_at timestamptz not null,
			ttl_seconds int not null
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
