package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, file *models.File) error
	ListByTransfer(ctx context.Context, transferID string) ([]*models.File, error)
	GetByID(ctx context.Context, id string) (*models.File, error)
	MarkUploaded(ctx context.Context, id string) error
	CountPending(ctx context.Context, transferID string) (int, error)
	SelectPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.File, error)
	KnownObjectKeys(ctx context.Context, keys []string) (map[string]bool, error)
}
