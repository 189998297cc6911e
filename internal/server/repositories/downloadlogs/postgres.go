// Package downloadlogs provides a PostgreSQL-backed repository for the audit
// trail of confirmed downloads.
package downloadlogs

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/sharedrop/internal/dbx"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
)

// PostgresRepository implements download log persistence over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create appends a log row and fills in its ID and timestamp.
func (r *PostgresRepository) Create(ctx context.Context, entry *models.DownloadLog) error {
	query := `
		INSERT INTO download_logs (transfer_id, ip_address, user_agent)
		VALUES ($1, $2, $3)
		RETURNING id, downloaded_at
	`
	err := r.db.QueryRowContext(ctx, query, entry.TransferID, entry.IPAddress, entry.UserAgent).
		Scan(&entry.ID, &entry.DownloadedAt)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// CountByTransfer returns the number of logged downloads of a transfer.
func (r *PostgresRepository) CountByTransfer(ctx context.Context, transferID string) (int, error) {
	query := `SELECT count(*) FROM download_logs WHERE transfer_id = $1`

	var n int
	if err := r.db.QueryRowContext(ctx, query, transferID).Scan(&n); err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return n, nil
}
