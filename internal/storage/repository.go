package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertObservationSQL = `INSERT INTO observations (
        token_symbol,
        token_name,
        metric_value
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (token_symbol, observed_at) DO NOTHING;`

	listCandidateTokensSQL = `SELECT token_symbol
    FROM observations
    GROUP BY token_symbol
    HAVING COUNT(*) >= 2
    ORDER BY token_symbol;`

	latestTwoSQL = `SELECT
        id,
        observed_at,
        token_symbol,
        token_name,
        metric_value
    FROM observations
    WHERE token_symbol = $1
    ORDER BY observed_at DESC, id DESC
    LIMIT 2;`

	deleteConsumedSQL = `DELETE FROM observations
    WHERE token_symbol = $1
      AND (observed_at < $2 OR (observed_at = $2 AND id < $3));`

	listWindowSQL = `SELECT
        id,
        observed_at,
        token_symbol,
        token_name,
        metric_value
    FROM observations
    ORDER BY observed_at DESC, id DESC
    LIMIT $1;`

	countObservationsSQL = `SELECT COUNT(*) FROM observations;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL observation store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// session locks die with the session; drop the connection instead of pooling it
			_ = conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

// InsertObservations appends a batch in one transaction. Rows that collide
// with an existing (token_symbol, observed_at) are skipped. It returns the
// number of rows actually inserted.
func (s *Store) InsertObservations(ctx context.Context, batch []NewObservation) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	queued := &pgx.Batch{}
	for _, obs := range batch {
		queued.Queue(insertObservationSQL, obs.Symbol, obs.Name, obs.Value)
	}

	results := tx.SendBatch(ctx, queued)
	var inserted int64
	for range batch {
		tag, execErr := results.Exec()
		if execErr != nil {
			_ = results.Close()
			return 0, fmt.Errorf("insert observation: %w", execErr)
		}
		inserted += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close insert batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return inserted, nil
}

// ListCandidateTokens returns tokens holding at least two unconsumed observations.
func (s *Store) ListCandidateTokens(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCandidateTokensSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list candidate tokens: %w", queryErr)
	}

	symbols, collectErr := pgx.CollectRows(rows, pgx.RowTo[string])
	if collectErr != nil {
		return nil, fmt.Errorf("scan candidate tokens: %w", collectErr)
	}
	return symbols, nil
}

// LatestTwo returns the two newest observations of a token ordered by
// observed_at, newest first. ok is false when fewer than two rows exist, which
// happens when a concurrent consumer pruned the token first.
func (s *Store) LatestTwo(ctx context.Context, symbol string) (Pair, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Pair{}, false, err
	}

	rows, queryErr := pool.Query(ctx, latestTwoSQL, symbol)
	if queryErr != nil {
		return Pair{}, false, fmt.Errorf("latest two for %s: %w", symbol, queryErr)
	}

	observations, collectErr := pgx.CollectRows(rows, scanObservation)
	if collectErr != nil {
		return Pair{}, false, fmt.Errorf("scan latest two for %s: %w", symbol, collectErr)
	}
	if len(observations) < 2 {
		return Pair{}, false, nil
	}
	return Pair{Current: observations[0], Previous: observations[1]}, true, nil
}

// DeleteConsumed removes every observation of the token strictly older than
// current, collapsing the window back to current alone. Re-running it is a no-op.
func (s *Store) DeleteConsumed(ctx context.Context, symbol string, current Observation) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var deleted int64
	txErr := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		tag, execErr := tx.Exec(ctx, deleteConsumedSQL, symbol, current.ObservedAt, current.ID)
		if execErr != nil {
			return execErr
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if txErr != nil {
		return 0, fmt.Errorf("delete consumed for %s: %w", symbol, txErr)
	}
	return deleted, nil
}

// ListWindow lists unconsumed observations, newest first.
func (s *Store) ListWindow(ctx context.Context, limit int) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWindowSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list window: %w", queryErr)
	}

	observations, collectErr := pgx.CollectRows(rows, scanObservation)
	if collectErr != nil {
		return nil, fmt.Errorf("scan window: %w", collectErr)
	}
	return observations, nil
}

// CountObservations counts stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

func scanObservation(row pgx.CollectableRow) (Observation, error) {
	var obs Observation
	if err := row.Scan(
		&obs.ID,
		&obs.ObservedAt,
		&obs.Symbol,
		&obs.Name,
		&obs.Value,
	); err != nil {
		return Observation{}, err
	}
	obs.ObservedAt = obs.ObservedAt.UTC()
	return obs, nil
}

var (
	_ ObservationStore = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
