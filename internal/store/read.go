package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TraceKind distinguishes the rows merged into a Trace.
type TraceKind string

const (
	TraceExecution    TraceKind = "execution"
	TraceWidgetUpdate TraceKind = "widget_update"
)

// TraceEntry is one row of a document's merged trace.
type TraceEntry struct {
	Seq            int64     `json:"seq" yaml:"seq"`
	Kind           TraceKind `json:"kind" yaml:"kind"`
	CellID         string    `json:"cell_id" yaml:"cell_id"`
	Phase          Phase     `json:"phase,omitempty" yaml:"phase,omitempty"`
	ExecutionCount *int      `json:"execution_count,omitempty" yaml:"execution_count,omitempty"`
	ModelID        string    `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	Rerun          []string  `json:"rerun,omitempty" yaml:"rerun,omitempty"`
}

// Executed returns the stored executed flag for path. found is false for
// an unknown document.
func (s *Store) Executed(ctx context.Context, path string) (executed, found bool, err error) {
	var v int
	err = s.db.QueryRowContext(ctx, `SELECT executed FROM documents WHERE path = ?`, path).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("read executed %s: %w", path, err)
	}
	return v == 1, true, nil
}

// Documents returns every registered document path in sorted order.
func (s *Store) Documents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM documents ORDER BY path ASC`)
	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ReadExecutions returns the execution rows for path.
// ORDER BY seq ASC, id ASC
func (s *Store) ReadExecutions(ctx context.Context, path string) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, path, cell_id, phase, execution_count, fingerprint
		FROM executions
		WHERE path = ?
		ORDER BY seq ASC, id ASC
	`, path)
	if err != nil {
		return nil, fmt.Errorf("read executions %s: %w", path, err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var phase string
		var count sql.NullInt64
		if err := rows.Scan(&e.Seq, &e.Path, &e.CellID, &phase, &count, &e.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Phase = Phase(phase)
		if count.Valid {
			n := int(count.Int64)
			e.ExecutionCount = &n
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReadWidgetUpdates returns the widget update rows for path.
// ORDER BY seq ASC, id ASC
func (s *Store) ReadWidgetUpdates(ctx context.Context, path string) ([]WidgetUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, path, model_id, cell_id, rerun
		FROM widget_updates
		WHERE path = ?
		ORDER BY seq ASC, id ASC
	`, path)
	if err != nil {
		return nil, fmt.Errorf("read widget updates %s: %w", path, err)
	}
	defer rows.Close()

	var out []WidgetUpdate
	for rows.Next() {
		var u WidgetUpdate
		var rerun string
		if err := rows.Scan(&u.Seq, &u.Path, &u.ModelID, &u.CellID, &rerun); err != nil {
			return nil, fmt.Errorf("scan widget update: %w", err)
		}
		if u.Rerun, err = unmarshalCellIDs(rerun); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Trace merges executions and widget updates for path into one list
// ordered by seq. Within a seq, executions sort before widget updates and
// rows keep insertion order.
func (s *Store) Trace(ctx context.Context, path string) ([]TraceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, cell_id, phase, execution_count, model_id, rerun FROM (
			SELECT seq, 0 AS ord, id, 'execution' AS kind, cell_id, phase, execution_count,
			       '' AS model_id, '' AS rerun
			FROM executions WHERE path = ?
			UNION ALL
			SELECT seq, 1 AS ord, id, 'widget_update' AS kind, cell_id, '' AS phase, NULL,
			       model_id, rerun
			FROM widget_updates WHERE path = ?
		)
		ORDER BY seq ASC, ord ASC, id ASC
	`, path, path)
	if err != nil {
		return nil, fmt.Errorf("read trace %s: %w", path, err)
	}
	defer rows.Close()

	var out []TraceEntry
	for rows.Next() {
		var e TraceEntry
		var kind, phase, rerun string
		var count sql.NullInt64
		if err := rows.Scan(&e.Seq, &kind, &e.CellID, &phase, &count, &e.ModelID, &rerun); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		e.Kind = TraceKind(kind)
		e.Phase = Phase(phase)
		if count.Valid {
			n := int(count.Int64)
			e.ExecutionCount = &n
		}
		if e.Kind == TraceWidgetUpdate {
			if e.Rerun, err = unmarshalCellIDs(rerun); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MaxSeq returns the highest seq recorded anywhere, so a restarted event
// loop can resume its clock after it.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT MAX(seq) AS seq FROM executions
			UNION ALL SELECT MAX(seq) FROM widget_updates
			UNION ALL SELECT MAX(updated_seq) FROM documents
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	return seq, nil
}
