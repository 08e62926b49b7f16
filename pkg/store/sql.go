package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// SetupSchema creates the templates table. It is idempotent and safe to call
// on an already-initialized database.
func SetupSchema(db *sql.DB) error {
	const schemaTemplates = `
CREATE TABLE IF NOT EXISTS templates (
    path TEXT PRIMARY KEY,
    body TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);
`
	if _, err := db.Exec(schemaTemplates); err != nil {
		return fmt.Errorf("could not create templates schema: %w", err)
	}
	return nil
}

// SQLLoader keeps templates in a database table. It holds prepared
// statements for every operation; call Close when done.
type SQLLoader struct {
	db         *sql.DB
	stmtGet    *sql.Stmt
	stmtUpsert *sql.Stmt
	stmtDelete *sql.Stmt
	stmtList   *sql.Stmt
}

// NewSQLLoader prepares the loader's statements. SetupSchema must have been
// called on db first.
func NewSQLLoader(db *sql.DB) (*SQLLoader, error) {
	queries := []string{
		`SELECT body FROM templates WHERE path = ?;`,
		`INSERT INTO templates (path, body, updated_at) VALUES (?, ?, ?) ON CONFLICT(path) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at;`,
		`DELETE FROM templates WHERE path = ?;`,
		`SELECT path FROM templates ORDER BY path;`,
	}
	stmts := make([]*sql.Stmt, 0, len(queries))
	for _, q := range queries {
		stmt, err := db.Prepare(q)
		if err != nil {
			for _, prepared := range stmts {
				_ = prepared.Close()
			}
			return nil, fmt.Errorf("failed to prepare template statement: %w", err)
		}
		stmts = append(stmts, stmt)
	}

	return &SQLLoader{
		db:         db,
		stmtGet:    stmts[0],
		stmtUpsert: stmts[1],
		stmtDelete: stmts[2],
		stmtList:   stmts[3],
	}, nil
}

// Close releases the prepared statements.
func (l *SQLLoader) Close() {
	_ = l.stmtGet.Close()
	_ = l.stmtUpsert.Close()
	_ = l.stmtDelete.Close()
	_ = l.stmtList.Close()
}

// Load returns the stored body for path.
func (l *SQLLoader) Load(ctx context.Context, path string) (string, error) {
	var body string
	err := l.stmtGet.QueryRowContext(ctx, path).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("template %q: %w", path, fs.ErrNotExist)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load template %q: %w", path, err)
	}
	return body, nil
}

// Save inserts or replaces the body for path.
func (l *SQLLoader) Save(ctx context.Context, path, text string) error {
	if path == "" {
		return errors.New("template path is empty")
	}
	if _, err := l.stmtUpsert.ExecContext(ctx, path, text, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save template %q: %w", path, err)
	}
	return nil
}

// Delete removes path. Deleting a path that does not exist fails with
// fs.ErrNotExist.
func (l *SQLLoader) Delete(ctx context.Context, path string) error {
	res, err := l.stmtDelete.ExecContext(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to delete template %q: %w", path, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("template %q: %w", path, fs.ErrNotExist)
	}
	return nil
}

// List returns all stored paths in order.
func (l *SQLLoader) List(ctx context.Context) ([]string, error) {
	rows, err := l.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var paths []string
	for rows.Next() {
		var p string
		if err = rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
