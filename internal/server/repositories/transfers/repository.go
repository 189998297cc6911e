package transfers

import (
	"context"

	"github.com/dmitrijs2005/sharedrop/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, t *models.Transfer) error
	GetByShareToken(ctx context.Context, token string) (*models.Transfer, error)
	GetByID(ctx context.Context, id string) (*models.Transfer, error)
	IncrementDownloadCount(ctx context.Context, id string) (int, error)
	ToggleActive(ctx context.Context, id, owner string) (bool, error)
	SetPassword(ctx context.Context, id, owner string, hash *string) error
	MarkReady(ctx context.Context, id string) error
}
