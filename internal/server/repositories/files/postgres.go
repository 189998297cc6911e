// Package files provides the PostgreSQL-backed repository for file records.
package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/dbx"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/lib/pq"
)

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, transfer_id, position, filename, original_filename, file_size, file_type,
		storage_type, file_path, file_data, upload_status, created_at`

// Create inserts a file row and fills in its ID and creation time.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	kind, path, data := models.LocationColumns(file.Location)
	if kind == "" {
		return fmt.Errorf("file %q has no storage location", file.OriginalFilename)
	}

	query := `
		INSERT INTO files (transfer_id, position, filename, original_filename, file_size, file_type,
			storage_type, file_path, file_data, upload_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		file.TransferID, file.Position, file.Filename, file.OriginalFilename, file.Size, file.ContentType,
		kind, path, data, file.UploadStatus,
	).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByTransfer returns the files of a transfer in stored order.
func (r *PostgresRepository) ListByTransfer(ctx context.Context, transferID string) ([]*models.File, error) {
	query := `SELECT ` + selectColumns + ` FROM files
		WHERE transfer_id=$1
		ORDER BY position, created_at`
	return r.selectMany(ctx, query, transferID)
}

// GetByID returns a single file row.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + selectColumns + ` FROM files WHERE id=$1`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	return f, nil
}

// MarkUploaded marks the file as uploaded (upload_status='completed').
// Exactly one row must be affected.
func (r *PostgresRepository) MarkUploaded(ctx context.Context, id string) error {
	query := `update files set upload_status='completed' where id=$1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark uploaded: %w", err)
	}
	return dbx.ExpectOneRow(result)
}

// CountPending returns how many files of the transfer still wait for bytes.
func (r *PostgresRepository) CountPending(ctx context.Context, transferID string) (int, error) {
	query := `SELECT count(*) FROM files WHERE transfer_id=$1 AND upload_status='pending'`

	var n int
	if err := r.db.QueryRowContext(ctx, query, transferID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// SelectPendingOlderThan lists record-first files still pending after cutoff.
func (r *PostgresRepository) SelectPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.File, error) {
	query := `SELECT ` + selectColumns + ` FROM files
		WHERE upload_status='pending' AND created_at < $1
		ORDER BY created_at`
	return r.selectMany(ctx, query, cutoff)
}

// KnownObjectKeys reports which of keys are referenced by a file record.
func (r *PostgresRepository) KnownObjectKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	known := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return known, nil
	}

	query := `SELECT file_path FROM files WHERE storage_type='object' AND file_path = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		known[k] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return known, nil
}

func (r *PostgresRepository) selectMany(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	f := &models.File{}
	var kind string
	var path, data sql.NullString
	if err := s.Scan(&f.ID, &f.TransferID, &f.Position, &f.Filename, &f.OriginalFilename, &f.Size, &f.ContentType,
		&kind, &path, &data, &f.UploadStatus, &f.CreatedAt); err != nil {
		return nil, err
	}
	var dataPtr *string
	if data.Valid {
		dataPtr = &data.String
	}
	f.Location = models.LocationFromColumns(kind, path.String, dataPtr)
	return f, nil
}
