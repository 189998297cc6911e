// Package sessions keeps track of open multipart uploads between initiate and
// complete/abort, so later calls can be checked against the caller that
// started the upload.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/server/models"
)

// DefaultTTL bounds how long an abandoned session stays registered.
const DefaultTTL = 24 * time.Hour

type Registry interface {
	Put(ctx context.Context, s *models.UploadSession) error
	// Get returns common.ErrSessionNotFound when nothing is registered.
	Get(ctx context.Context, sessionID string) (*models.UploadSession, error)
	Delete(ctx context.Context, sessionID string) error
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]*models.UploadSession, error)
}
