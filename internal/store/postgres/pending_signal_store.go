package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfall/tradegate/internal/domain"
)

// PendingSignalStore implements domain.PendingSignalStore using PostgreSQL.
// The strategy signal itself is stored as JSONB so queued signals survive
// restarts intact.
type PendingSignalStore struct {
	pool *pgxpool.Pool
}

var _ domain.PendingSignalStore = (*PendingSignalStore)(nil)

// NewPendingSignalStore creates a new PendingSignalStore backed by the
// given connection pool.
func NewPendingSignalStore(pool *pgxpool.Pool) *PendingSignalStore {
	return &PendingSignalStore{pool: pool}
}

// Create inserts a pending signal.
func (s *PendingSignalStore) Create(ctx context.Context, ps domain.PendingSignal) error {
	signalJSON, err := json.Marshal(ps.Signal)
	if err != nil {
		return fmt.Errorf("postgres: marshal pending signal %s: %w", ps.ID, err)
	}

	const query = `
		INSERT INTO pending_signals (
			id, symbol, strategy_id, signal, status, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, query,
		ps.ID, ps.Symbol, ps.StrategyID, signalJSON, ps.Status, ps.CreatedAt, ps.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create pending signal %s: %w", ps.ID, err)
	}
	return nil
}

// GetByID returns a single pending signal.
func (s *PendingSignalStore) GetByID(ctx context.Context, id string) (domain.PendingSignal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, symbol, strategy_id, signal, status, created_at, expires_at, executed_at
		FROM pending_signals WHERE id = $1`, id)

	ps, err := scanPendingSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PendingSignal{}, fmt.Errorf("postgres: pending signal %s: %w", id, domain.ErrNotFound)
		}
		return domain.PendingSignal{}, fmt.Errorf("postgres: get pending signal %s: %w", id, err)
	}
	return ps, nil
}

// UpdateStatus moves a pending signal to a new status, optionally recording
// when it executed.
func (s *PendingSignalStore) UpdateStatus(ctx context.Context, id string, status domain.PendingStatus, executedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_signals SET status = $2, executed_at = COALESCE($3, executed_at) WHERE id = $1`,
		id, status, executedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update pending signal %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update pending signal %s status: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByStatus returns pending signals in the given status, oldest first.
func (s *PendingSignalStore) ListByStatus(ctx context.Context, status domain.PendingStatus) ([]domain.PendingSignal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, strategy_id, signal, status, created_at, expires_at, executed_at
		FROM pending_signals WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending signals by status: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingSignal
	for rows.Next() {
		ps, err := scanPendingSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pending signal: %w", err)
		}
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending signals rows: %w", err)
	}
	return out, nil
}

func scanPendingSignal(row pgx.Row) (domain.PendingSignal, error) {
	var ps domain.PendingSignal
	var signalJSON []byte
	if err := row.Scan(
		&ps.ID, &ps.Symbol, &ps.StrategyID, &signalJSON,
		&ps.Status, &ps.CreatedAt, &ps.ExpiresAt, &ps.ExecutedAt,
	); err != nil {
		return domain.PendingSignal{}, err
	}
	if err := json.Unmarshal(signalJSON, &ps.Signal); err != nil {
		return domain.PendingSignal{}, fmt.Errorf("unmarshal signal: %w", err)
	}
	return ps, nil
}
