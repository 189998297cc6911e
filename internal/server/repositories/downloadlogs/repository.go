package downloadlogs

import (
	"context"

	"github.com/dmitrijs2005/sharedrop/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, entry *models.DownloadLog) error
	CountByTransfer(ctx context.Context, transferID string) (int, error)
}
