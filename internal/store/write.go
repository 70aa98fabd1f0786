package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Phase is the lifecycle point an execution row records.
type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhaseExecuted  Phase = "executed"
	PhaseRejected  Phase = "rejected"
)

// Execution is one row of the execution trace.
type Execution struct {
	Seq            int64
	Path           string
	CellID         string
	Phase          Phase
	ExecutionCount *int
	Fingerprint    string
}

// WidgetUpdate is one correlated control update and the cells it re-ran.
type WidgetUpdate struct {
	Seq     int64
	Path    string
	ModelID string
	CellID  string
	Rerun   []string
}

// EnsureDocument registers path. Existing state is left untouched.
func (s *Store) EnsureDocument(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path) VALUES (?)
		ON CONFLICT(path) DO NOTHING
	`, path)
	if err != nil {
		return fmt.Errorf("ensure document %s: %w", path, err)
	}
	return nil
}

// SetExecuted records the document's shared executed flag at seq.
func (s *Store) SetExecuted(ctx context.Context, path string, executed bool, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, executed, updated_seq) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET executed = excluded.executed, updated_seq = excluded.updated_seq
	`, path, boolToInt(executed), seq)
	if err != nil {
		return fmt.Errorf("set executed %s: %w", path, err)
	}
	return nil
}

// WriteExecution appends an execution trace row. The document is
// registered on first use.
func (s *Store) WriteExecution(ctx context.Context, e Execution) error {
	return s.inTx(ctx, "write execution", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents (path) VALUES (?) ON CONFLICT(path) DO NOTHING`, e.Path); err != nil {
			return err
		}
		var count sql.NullInt64
		if e.ExecutionCount != nil {
			count = sql.NullInt64{Int64: int64(*e.ExecutionCount), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO executions (seq, path, cell_id, phase, execution_count, fingerprint)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.Seq, e.Path, e.CellID, string(e.Phase), count, e.Fingerprint)
		return err
	})
}

// WriteWidgetUpdate appends a widget update trace row.
func (s *Store) WriteWidgetUpdate(ctx context.Context, u WidgetUpdate) error {
	rerun, err := marshalCellIDs(u.Rerun)
	if err != nil {
		return fmt.Errorf("write widget update: %w", err)
	}
	return s.inTx(ctx, "write widget update", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents (path) VALUES (?) ON CONFLICT(path) DO NOTHING`, u.Path); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO widget_updates (seq, path, model_id, cell_id, rerun)
			VALUES (?, ?, ?, ?, ?)
		`, u.Seq, u.Path, u.ModelID, u.CellID, rerun)
		return err
	})
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback() // No-op after Commit

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
