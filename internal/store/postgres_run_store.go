package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/imagebench/internal/domain"
	_ "github.com/lib/pq"
)

const runSchemaSQL = `
CREATE TABLE IF NOT EXISTS benchmark_runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	file_name TEXT NOT NULL,
	operation JSONB NOT NULL,
	iterations INTEGER NOT NULL,
	backends JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS benchmark_results (
	run_id TEXT NOT NULL REFERENCES benchmark_runs (id) ON DELETE CASCADE,
	seq SERIAL,
	result JSONB NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

type PostgresRunStore struct {
	db *sql.DB
}

func NewPostgresRunStore(ctx context.Context, dsn string) (*PostgresRunStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresRunStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, runSchemaSQL); err != nil {
		return fmt.Errorf("ensure benchmark schema: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRunStore) Create(ctx context.Context, run domain.BenchmarkRun) error {
	operationJSON, err := json.Marshal(run.Operation)
	if err != nil {
		return fmt.Errorf("marshal run operation: %w", err)
	}
	backendsJSON, err := json.Marshal(run.Backends)
	if err != nil {
		return fmt.Errorf("marshal run backends: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO benchmark_runs (id, status, file_name, operation, iterations, backends, webhook_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID,
		run.Status,
		run.FileName,
		operationJSON,
		run.Iterations,
		backendsJSON,
		run.WebhookURL,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert benchmark run: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Get(ctx context.Context, id string) (domain.BenchmarkRun, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, file_name, operation, iterations, backends, webhook_url, created_at, updated_at
		 FROM benchmark_runs
		 WHERE id = $1`,
		id,
	)

	var (
		run           domain.BenchmarkRun
		operationJSON []byte
		backendsJSON  []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.Status,
		&run.FileName,
		&operationJSON,
		&run.Iterations,
		&backendsJSON,
		&run.WebhookURL,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BenchmarkRun{}, false, nil
		}
		return domain.BenchmarkRun{}, false, fmt.Errorf("query benchmark run: %w", err)
	}

	if err := json.Unmarshal(operationJSON, &run.Operation); err != nil {
		return domain.BenchmarkRun{}, false, fmt.Errorf("unmarshal run operation: %w", err)
	}
	if err := json.Unmarshal(backendsJSON, &run.Backends); err != nil {
		return domain.BenchmarkRun{}, false, fmt.Errorf("unmarshal run backends: %w", err)
	}

	results, err := s.results(ctx, id)
	if err != nil {
		return domain.BenchmarkRun{}, false, err
	}
	run.Results = results

	return run, true, nil
}

func (s *PostgresRunStore) UpdateStatus(ctx context.Context, id, status string) (domain.BenchmarkRun, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE benchmark_runs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.BenchmarkRun{}, fmt.Errorf("update benchmark run status: %w", err)
	}
	if err := requireRow(res); err != nil {
		return domain.BenchmarkRun{}, err
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresRunStore) AppendResult(ctx context.Context, id string, result domain.BackendResult) (domain.BenchmarkRun, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return domain.BenchmarkRun{}, fmt.Errorf("marshal backend result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.BenchmarkRun{}, fmt.Errorf("begin append result: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE benchmark_runs SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return domain.BenchmarkRun{}, fmt.Errorf("touch benchmark run: %w", err)
	}
	if err := requireRow(res); err != nil {
		return domain.BenchmarkRun{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO benchmark_results (run_id, result) VALUES ($1, $2)`, id, resultJSON); err != nil {
		return domain.BenchmarkRun{}, fmt.Errorf("insert backend result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.BenchmarkRun{}, fmt.Errorf("commit append result: %w", err)
	}

	return s.mustGet(ctx, id)
}

func (s *PostgresRunStore) results(ctx context.Context, id string) ([]domain.BackendResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT result FROM benchmark_results WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query backend results: %w", err)
	}
	defer rows.Close()

	results := []domain.BackendResult{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan backend result: %w", err)
		}
		var result domain.BackendResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal backend result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func (s *PostgresRunStore) mustGet(ctx context.Context, id string) (domain.BenchmarkRun, error) {
	run, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.BenchmarkRun{}, err
	}
	if !ok {
		return domain.BenchmarkRun{}, ErrRunNotFound
	}
	return run, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}
