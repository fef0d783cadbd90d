package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/byteforge/forgelive/internal/workspace"
	"github.com/byteforge/forgelive/internal/ws"
)

// SaveSnapshot replaces the cached file list of a project. Local-only state
// such as unsaved edits is not persisted.
func (s *Store) SaveSnapshot(projectID string, nodes []workspace.FileNode) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM snapshots WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO snapshots (project_id, saved_at) VALUES (?, ?)", projectID, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO snapshot_files (project_id, file_id, name, path, type, parent_id, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()
	for _, n := range nodes {
		if n.Pending() {
			continue
		}
		var parent sql.NullInt64
		if n.ParentID != nil {
			parent = sql.NullInt64{Int64: int64(*n.ParentID), Valid: true}
		}
		var content sql.NullString
		if n.Content != nil {
			content = sql.NullString{String: *n.Content, Valid: true}
		}
		if _, err := stmt.Exec(projectID, int64(n.ID), n.Name, n.Path, string(n.Type), parent, content); err != nil {
			return fmt.Errorf("insert file %d: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// LoadSnapshot returns the cached file list and when it was saved. A project
// with no snapshot returns nil nodes and a zero time.
func (s *Store) LoadSnapshot(projectID string) ([]workspace.FileNode, time.Time, error) {
	var savedAt time.Time
	err := s.db.QueryRow("SELECT saved_at FROM snapshots WHERE project_id = ?", projectID).Scan(&savedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load snapshot: %w", err)
	}

	rows, err := s.db.Query(`SELECT file_id, name, path, type, parent_id, content
		FROM snapshot_files WHERE project_id = ? ORDER BY file_id`, projectID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load snapshot files: %w", err)
	}
	defer rows.Close()

	var nodes []workspace.FileNode
	for rows.Next() {
		var (
			id      int64
			n       workspace.FileNode
			typ     string
			parent  sql.NullInt64
			content sql.NullString
		)
		if err := rows.Scan(&id, &n.Name, &n.Path, &typ, &parent, &content); err != nil {
			return nil, time.Time{}, fmt.Errorf("scan snapshot file: %w", err)
		}
		n.ID = ws.ID(id)
		n.Type = workspace.NodeType(typ)
		if parent.Valid {
			p := ws.ID(parent.Int64)
			n.ParentID = &p
		}
		if content.Valid {
			c := content.String
			n.Content = &c
		}
		nodes = append(nodes, n)
	}
	return nodes, savedAt, rows.Err()
}
