// Package transfers provides the PostgreSQL-backed repository for transfer
// records.
package transfers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/dbx"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/lib/pq"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, share_token, title, message, sender_email, recipient_emails,
		password_hash, password_protected, expires_at, download_limit, download_count,
		is_active, upload_status, created_at, updated_at`

// Create inserts t and fills in its ID and timestamps.
func (r *PostgresRepository) Create(ctx context.Context, t *models.Transfer) error {
	query :=
		`INSERT INTO transfers (share_token, title, message, sender_email, recipient_emails,
			password_hash, password_protected, expires_at, download_limit, download_count,
			is_active, upload_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at, updated_at
		 `

	recipients := t.RecipientEmails
	if recipients == nil {
		recipients = []string{}
	}

	err := r.db.QueryRowContext(ctx, query,
		t.ShareToken, t.Title, t.Message, t.SenderEmail, pq.Array(recipients),
		t.PasswordHash, t.PasswordProtected, t.ExpiresAt, t.DownloadLimit, t.DownloadCount,
		t.IsActive, t.UploadStatus,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByShareToken(ctx context.Context, token string) (*models.Transfer, error) {
	query := `SELECT ` + selectColumns + ` FROM transfers WHERE share_token = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, token))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Transfer, error) {
	query := `SELECT ` + selectColumns + ` FROM transfers WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Transfer, error) {
	t := &models.Transfer{}
	var hash sql.NullString
	err := row.Scan(&t.ID, &t.ShareToken, &t.Title, &t.Message, &t.SenderEmail, pq.Array(&t.RecipientEmails),
		&hash, &t.PasswordProtected, &t.ExpiresAt, &t.DownloadLimit, &t.DownloadCount,
		&t.IsActive, &t.UploadStatus, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if hash.Valid {
		t.PasswordHash = &hash.String
	}
	return t, nil
}

// IncrementDownloadCount bumps the counter in a single conditional statement,
// so concurrent confirmations can never push it past the limit. It returns
// common.ErrDownloadLimit when the limit has already been reached.
func (r *PostgresRepository) IncrementDownloadCount(ctx context.Context, id string) (int, error) {
	query :=
		`UPDATE transfers SET download_count = download_count + 1, updated_at = now()
		 WHERE id = $1 AND (download_limit = 0 OR download_count < download_limit)
		 RETURNING download_count
		 `

	var count int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrDownloadLimit
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

// ToggleActive flips is_active on a transfer owned by owner and returns the
// new value.
func (r *PostgresRepository) ToggleActive(ctx context.Context, id, owner string) (bool, error) {
	query :=
		`UPDATE transfers SET is_active = NOT is_active, updated_at = now()
		 WHERE id = $1 AND sender_email = $2
		 RETURNING is_active
		 `

	var active bool
	err := r.db.QueryRowContext(ctx, query, id, owner).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, common.ErrorNotFound
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return active, nil
}

// SetPassword replaces the verifier; a nil hash removes password protection.
func (r *PostgresRepository) SetPassword(ctx context.Context, id, owner string, hash *string) error {
	query :=
		`UPDATE transfers SET password_hash = $3, password_protected = $4, updated_at = now()
		 WHERE id = $1 AND sender_email = $2
		 `

	res, err := r.db.ExecContext(ctx, query, id, owner, hash, hash != nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) MarkReady(ctx context.Context, id string) error {
	query := `UPDATE transfers SET upload_status = 'ready', updated_at = now() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}
