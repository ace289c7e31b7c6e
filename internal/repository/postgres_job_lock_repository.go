package repository

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trading-backend/internal/domain"
)

// PostgresJobLockRepository implements the distributed job lock: one row per
// job with a self-expiring TTL. Expired rows are cleared before inserting;
// a conflicting live row means the lock is held elsewhere. Infrastructure
// errors default to acquired: the lock avoids duplicate work across
// instances, it is not a hard safety mechanism.
type PostgresJobLockRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobLockRepository(pool *pgxpool.Pool) *PostgresJobLockRepository {
	return &PostgresJobLockRepository{pool: pool}
}

func (r *PostgresJobLockRepository) Acquire(jobID, holder string, ttl time.Duration) bool {
	ctx := context.Background()

	_, err := r.pool.Exec(ctx, `
		delete from job_locks
		where job_id = $1 and acquired_at + make_interval(secs => ttl_seconds) < now()
	`, jobID)
	if err != nil {
		log.Printf("JobLock: cleanup error for %s, assuming acquired: %v", jobID, err)
		return true
	}

	tag, err := r.pool.Exec(ctx, `
		insert into job_locks(job_id, holder, acquired_at, ttl_seconds)
		values ($1, $2, now(), $3)
		on conflict (job_id) do nothing
	`, jobID, holder, int(ttl.Seconds()))
	if err != nil {
		log.Printf("JobLock: acquire error for %s, assuming acquired: %v", jobID, err)
		return true
	}
	if tag.RowsAffected() > 0 {
		return true
	}

	// The row may already be ours (e.g. a previous cycle that never released).
	var existing string
	err = r.pool.QueryRow(ctx, `select holder from job_locks where job_id = $1`, jobID).Scan(&existing)
	if err != nil {
		log.Printf("JobLock: holder check error for %s, assuming acquired: %v", jobID, err)
		return true
	}
	return existing == holder
}

func (r *PostgresJobLockRepository) Release(jobID, holder string) error {
	_, err := r.pool.Exec(context.Background(), `
		delete from job_locks where job_id = $1 and holder = $2
	`, jobID, holder)
	return err
}

// compile-time check
var _ domain.JobLockRepository = (*PostgresJobLockRepository)(nil)
