package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/replaybox/internal/apperror"
	"github.com/sakif/replaybox/internal/model"
	"github.com/sakif/replaybox/internal/repository"
)

var _ repository.ScriptRepository = (*DB)(nil)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Create inserts a script. The ID and both timestamps are assigned here and
// written back into script.
func (db *DB) Create(ctx context.Context, script *model.Script) error {
	script.ID = xid.New().String()

	now := time.Now().UTC()
	script.CreatedAt = now
	script.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO scripts (id, name, description, code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		script.ID,
		script.Name,
		script.Description,
		script.Code,
		script.CreatedAt,
		script.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating script: %w", err)
	}
	return nil
}

// GetByID returns apperror.ErrNotFound when no script has the id.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Script, error) {
	var s model.Script
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, description, code, created_at, updated_at
		 FROM scripts
		 WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.Name, &s.Description, &s.Code, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("script", id)
		}
		return nil, fmt.Errorf("sqlite: getting script %s: %w", id, err)
	}
	return &s, nil
}

// List returns scripts newest first. A zero limit means the default page
// size; limits above the maximum are clamped.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Script, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := max(opts.Offset, 0)

	// The id breaks ties between scripts created within the same clock tick;
	// xids sort by creation time.
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, description, code, created_at, updated_at
		 FROM scripts
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing scripts: %w", err)
	}
	defer rows.Close()

	scripts := make([]model.Script, 0, limit)
	for rows.Next() {
		var s model.Script
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Code, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning script row: %w", err)
		}
		scripts = append(scripts, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating scripts: %w", err)
	}

	return scripts, nil
}

// Count returns the total number of saved scripts.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM scripts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting scripts: %w", err)
	}
	return n, nil
}

// Update overwrites name, description and code. id and created_at never
// change.
func (db *DB) Update(ctx context.Context, script *model.Script) error {
	script.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE scripts
		 SET name = ?, description = ?, code = ?, updated_at = ?
		 WHERE id = ?`,
		script.Name,
		script.Description,
		script.Code,
		script.UpdatedAt,
		script.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating script %s: %w", script.ID, err)
	}

	return expectOneRow(result, "script", script.ID)
}

// Delete removes a script by id.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM scripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting script %s: %w", id, err)
	}

	return expectOneRow(result, "script", id)
}

// expectOneRow turns "no rows affected" into apperror.ErrNotFound.
func expectOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
