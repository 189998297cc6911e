// Package resume keeps a local SQLite ledger of multipart sessions that were
// opened but not finalized, so an interrupted upload of the same file can
// pick up where it stopped.
package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/client/resume/migrations"
	"github.com/dmitrijs2005/sharedrop/internal/dbx"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Key identifies one version of a local file. A changed size or mtime is a
// different file as far as resuming goes.
type Key struct {
	Path    string
	Size    int64
	ModTime time.Time
}

type Entry struct {
	Key
	SessionID string
	ObjectKey string
	CreatedAt time.Time
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (or creates) the ledger database at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger migrations: %w", err)
	}
	return db, nil
}

type SQLiteLedger struct {
	db dbx.DBTX
}

func NewSQLiteLedger(db dbx.DBTX) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

// Lookup returns nil without error when nothing is recorded for k.
func (l *SQLiteLedger) Lookup(ctx context.Context, k Key) (*Entry, error) {
	e := &Entry{Key: k}
	var created int64
	err := l.db.QueryRowContext(ctx, `
		SELECT session_id, object_key, created_at FROM uploads
		WHERE path = ? AND size = ? AND mod_time = ?`,
		k.Path, k.Size, k.ModTime.UnixNano(),
	).Scan(&e.SessionID, &e.ObjectKey, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", k.Path, err)
	}
	e.CreatedAt = time.Unix(0, created)
	return e, nil
}

func (l *SQLiteLedger) Save(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO uploads (path, size, mod_time, session_id, object_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path, size, mod_time) DO UPDATE SET
			session_id = excluded.session_id,
			object_key = excluded.object_key,
			created_at = excluded.created_at`,
		e.Path, e.Size, e.ModTime.UnixNano(), e.SessionID, e.ObjectKey, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", e.Path, err)
	}
	return nil
}

func (l *SQLiteLedger) Forget(ctx context.Context, k Key) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM uploads WHERE path = ? AND size = ? AND mod_time = ?`,
		k.Path, k.Size, k.ModTime.UnixNano())
	if err != nil {
		return fmt.Errorf("forget %s: %w", k.Path, err)
	}
	return nil
}

// List returns every open entry, oldest first.
func (l *SQLiteLedger) List(ctx context.Context) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT path, size, mod_time, session_id, object_key, created_at
		FROM uploads ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var mod, created int64
		if err := rows.Scan(&e.Path, &e.Size, &mod, &e.SessionID, &e.ObjectKey, &created); err != nil {
			return nil, fmt.Errorf("scan upload row: %w", err)
		}
		e.ModTime = time.Unix(0, mod)
		e.CreatedAt = time.Unix(0, created)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload rows: %w", err)
	}
	return out, nil
}
