package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailherd/mailherd/pkg/batch"
)

// Run is one invocation of a batch command.
type Run struct {
	ID         string
	Command    string
	RunKey     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Total      int
	Successful int
	Failed     int
	Skipped    int
	ExitError  string
}

// Item is one finished item within a run.
type Item struct {
	ID         string
	RunID      string
	ItemIndex  int
	ItemKey    string
	Status     batch.Status
	Error      string
	DurationMs int64
	FinishedAt time.Time
}

// Repository abstracts all database access for the audit trail.
type Repository interface {
	BeginRun(ctx context.Context, run *Run) error
	RecordItem(ctx context.Context, item *Item) error
	FinishRun(ctx context.Context, runID string, summary batch.Summary, runErr error) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the Repository interface.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) BeginRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO batch_runs
			(id, command, run_key, started_at, total, successful, failed, skipped, exit_error)
		VALUES
			($1, $2, $3, $4, 0, 0, 0, 0, '')
	`,
		run.ID, run.Command, run.RunKey, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	return nil
}

func (r *repository) RecordItem(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.FinishedAt.IsZero() {
		item.FinishedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO batch_items
			(id, run_id, item_index, item_key, status, error, duration_ms, finished_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		item.ID, item.RunID, item.ItemIndex, item.ItemKey,
		string(item.Status), item.Error, item.DurationMs, item.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record item for run %s: %w", item.RunID, err)
	}
	return nil
}

func (r *repository) FinishRun(ctx context.Context, runID string, summary batch.Summary, runErr error) error {
	exitError := ""
	if runErr != nil {
		exitError = runErr.Error()
	}
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE batch_runs
		SET finished_at = $1, total = $2, successful = $3, failed = $4, skipped = $5, exit_error = $6
		WHERE id = $7
	`, now, summary.Total, summary.Successful, summary.Failed, summary.Skipped, exitError, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

func (r *repository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, command, run_key, started_at, finished_at,
		       total, successful, failed, skipped, exit_error
		FROM batch_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// scanRun reads a run row from any pgx row type.
func scanRun(row interface {
	Scan(...any) error
}) (*Run, error) {
	var run Run
	err := row.Scan(
		&run.ID, &run.Command, &run.RunKey, &run.StartedAt, &run.FinishedAt,
		&run.Total, &run.Successful, &run.Failed, &run.Skipped, &run.ExitError,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &run, nil
}
