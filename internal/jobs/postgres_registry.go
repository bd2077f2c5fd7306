package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const runningJobsSchema = `
	CREATE TABLE IF NOT EXISTS running_jobs (
		worker_id  TEXT PRIMARY KEY,
		class      TEXT NOT NULL,
		args       JSONB NOT NULL DEFAULT '[]',
		owner      TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL
	)
`

// PostgresRegistry is a PostgreSQL implementation of Tracker, shared by every
// host in the fleet.
type PostgresRegistry struct {
	db *pgxpool.Pool
}

// NewPostgresRegistry creates a new PostgreSQL-backed registry.
func NewPostgresRegistry(db *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// EnsureSchema creates the running_jobs table if needed.
func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, runningJobsSchema)
	return err
}

// Track implements Tracker.
func (r *PostgresRegistry) Track(ctx context.Context, item WorkItem) error {
	raw, err := encodeArgs(item.Args)
	if err != nil {
		return fmt.Errorf("encode args for %s: %w", item.Class, err)
	}

	query := `
		INSERT INTO running_jobs (worker_id, class, args, owner, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (worker_id) DO UPDATE
		SET class = EXCLUDED.class, args = EXCLUDED.args,
		    owner = EXCLUDED.owner, started_at = EXCLUDED.started_at
	`
	_, err = r.db.Exec(ctx, query, item.WorkerID, item.Class, raw, item.Owner, item.StartedAt)
	return err
}

// Untrack implements Tracker.
func (r *PostgresRegistry) Untrack(ctx context.Context, workerID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM running_jobs WHERE worker_id = $1", workerID)
	return err
}

// Running implements Registry.
func (r *PostgresRegistry) Running(ctx context.Context) ([]WorkItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT worker_id, class, args, owner, started_at
		FROM running_jobs
		ORDER BY started_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		var (
			item WorkItem
			raw  []byte
		)
		if err := rows.Scan(&item.WorkerID, &item.Class, &raw, &item.Owner, &item.StartedAt); err != nil {
			return nil, err
		}
		if item.Args, err = decodeArgs(raw); err != nil {
			return nil, fmt.Errorf("decode args for %s: %w", item.WorkerID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func encodeArgs(args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	return json.Marshal(args)
}

// decodeArgs keeps numbers as json.Number so they print with their stored
// text and LockKey derives the same key the runner locked.
func decodeArgs(raw []byte) ([]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args []any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}
