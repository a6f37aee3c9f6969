package resolution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// ErrRunNotFound is returned when a journal entry does not exist.
var ErrRunNotFound = errors.New("resolution run not found")

type runRepoPG struct{ pool *pgxpool.Pool }

// NewRunRepoPG returns a journal stored in the resolution_run table.
func NewRunRepoPG(pool *pgxpool.Pool) RunRepository {
	return &runRepoPG{pool: pool}
}

func (r *runRepoPG) conn() queryable {
	return r.pool
}

const runCols = `id, source, request_id, mode, status, error, studies,
	subjects_created, events_scheduled, started_at, finished_at`

func (r *runRepoPG) scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var mode string
	err := row.Scan(&run.ID, &run.Source, &run.RequestID, &mode, &run.Status, &run.Error, &run.Studies,
		&run.SubjectsCreated, &run.EventsScheduled, &run.StartedAt, &run.FinishedAt)
	run.Mode = Mode(mode)
	return &run, err
}

func (r *runRepoPG) Create(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := r.conn().Exec(ctx, `
		INSERT INTO resolution_run (id, source, request_id, mode, status, error, studies,
			subjects_created, events_scheduled, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		run.ID, run.Source, run.RequestID, string(run.Mode), run.Status, run.Error, run.Studies,
		run.SubjectsCreated, run.EventsScheduled, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert resolution run: %w", err)
	}
	return nil
}

func (r *runRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := r.scanRun(r.conn().QueryRow(ctx, `SELECT `+runCols+` FROM resolution_run WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *runRepoPG) List(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	var total int
	if err := r.conn().QueryRow(ctx, `SELECT COUNT(*) FROM resolution_run`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn().Query(ctx, `SELECT `+runCols+` FROM resolution_run ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Run
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, run)
	}
	return items, total, rows.Err()
}
