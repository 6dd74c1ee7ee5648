package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/platform/retry"
)

// PostgresRepo reads option labels from the poll database.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

// Connect establishes a pgx pool and verifies it with a ping, retrying
// transient failures during startup.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database ping failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	if err := retry.DoVoid(ctx, policy, nil, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func (r *PostgresRepo) OptionLabel(ctx context.Context, topicID, optionID string) (string, error) {
	var label string
	err := r.pool.QueryRow(ctx,
		`SELECT label FROM poll_options WHERE poll_id = $1 AND option_id = $2`,
		topicID, optionID,
	).Scan(&label)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query option label: %w", err)
	}
	return label, nil
}

func (r *PostgresRepo) TopicOptions(ctx context.Context, topicID string) ([]Option, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT option_id, label FROM poll_options WHERE poll_id = $1 ORDER BY position`,
		topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic options: %w", err)
	}
	defer rows.Close()

	var options []Option
	for rows.Next() {
		var opt Option
		if err := rows.Scan(&opt.ID, &opt.Label); err != nil {
			return nil, fmt.Errorf("failed to scan option row: %w", err)
		}
		options = append(options, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read option rows: %w", err)
	}
	return options, nil
}
