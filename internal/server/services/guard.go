package services

import (
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
)

// Guard decides whether a transfer may be served. Expiry always wins over
// the download limit, so an expired transfer reports Gone even when it
// still has downloads left.
type Guard struct {
	Now func() time.Time
}

func NewGuard() Guard { return Guard{Now: time.Now} }

// Check runs every condition in order: expiry, download limit, active flag.
func (g Guard) Check(t *models.Transfer) error {
	if err := g.CheckExpiry(t); err != nil {
		return err
	}
	if t.DownloadLimit > 0 && t.DownloadCount >= t.DownloadLimit {
		return common.ErrDownloadLimit
	}
	if !t.IsActive {
		return common.ErrTransferInactive
	}
	return nil
}

// CheckAvailable skips the download limit. The byte endpoint uses it, since
// the limit was already charged by the confirmation that preceded it.
func (g Guard) CheckAvailable(t *models.Transfer) error {
	if err := g.CheckExpiry(t); err != nil {
		return err
	}
	if !t.IsActive {
		return common.ErrTransferInactive
	}
	return nil
}

func (g Guard) CheckExpiry(t *models.Transfer) error {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	if now().After(t.ExpiresAt) {
		return common.ErrTransferExpired
	}
	return nil
}
