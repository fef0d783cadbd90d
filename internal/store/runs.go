package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Run is one finished code execution.
type Run struct {
	ID         int64
	ProjectID  string
	EntryPoint string
	State      string
	ExitCode   *int
	Output     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

func (s *Store) RecordRun(r *Run) error {
	var exit sql.NullInt64
	if r.ExitCode != nil {
		exit = sql.NullInt64{Int64: int64(*r.ExitCode), Valid: true}
	}
	var finished sql.NullTime
	if r.FinishedAt != nil {
		finished = sql.NullTime{Time: r.FinishedAt.UTC(), Valid: true}
	}
	res, err := s.db.Exec(`INSERT INTO runs (project_id, entry_point, state, exit_code, output, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ProjectID, r.EntryPoint, r.State, exit, r.Output, r.StartedAt.UTC(), finished)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// Runs lists a project's runs, most recently recorded first. limit <= 0
// means all.
func (s *Store) Runs(projectID string, limit int) ([]*Run, error) {
	q := `SELECT id, project_id, entry_point, state, exit_code, output, started_at, finished_at
		FROM runs WHERE project_id = ? ORDER BY id DESC`
	args := []any{projectID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r := &Run{}
		var (
			exit     sql.NullInt64
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.EntryPoint, &r.State, &exit, &r.Output, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if exit.Valid {
			c := int(exit.Int64)
			r.ExitCode = &c
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneRuns drops all but the keep most recent runs of a project and reports
// how many were removed.
func (s *Store) PruneRuns(projectID string, keep int) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM runs WHERE project_id = ? AND id NOT IN (
		SELECT id FROM runs WHERE project_id = ? ORDER BY id DESC LIMIT ?)`,
		projectID, projectID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
