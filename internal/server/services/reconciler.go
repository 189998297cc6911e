package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sharedrop/internal/server/sessions"
	"github.com/dmitrijs2005/sharedrop/internal/server/storage/objectstore"
)

// ObjectLister is the part of the object store the reconciler reads.
type ObjectLister interface {
	Head(ctx context.Context, key string) (*models.ObjectInfo, error)
	Walk(ctx context.Context, prefix string, fn func([]objectstore.ObjectSummary) error) error
}

// Report lists inconsistencies between the database, the object store and
// the session registry. Nothing is repaired.
type Report struct {
	// MissingObjects are pending file ids whose object never arrived.
	MissingObjects []string
	// UnconfirmedFiles are pending file ids whose object exists but was
	// never reported uploaded.
	UnconfirmedFiles []string
	// OrphanObjects are keys under UploadPrefix that no file references.
	OrphanObjects []string
	// StaleSessions are multipart sessions that were never completed.
	StaleSessions []string
}

func (r *Report) Empty() bool {
	return len(r.MissingObjects)+len(r.UnconfirmedFiles)+len(r.OrphanObjects)+len(r.StaleSessions) == 0
}

type Reconciler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	objects     ObjectLister
	registry    sessions.Registry
	grace       time.Duration
	logger      logging.Logger
	now         func() time.Time
}

func NewReconciler(db *sql.DB, rm repomanager.RepositoryManager, objects ObjectLister, registry sessions.Registry, grace time.Duration, logger logging.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		repomanager: rm,
		objects:     objects,
		registry:    registry,
		grace:       grace,
		logger:      logger.With("module", "reconciler"),
		now:         time.Now,
	}
}

// Run compares the stores once. Anything younger than the grace period is
// ignored, as it may still be in flight.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	cutoff := r.now().Add(-r.grace)
	report := &Report{}

	if err := r.pendingFiles(ctx, cutoff, report); err != nil {
		return nil, err
	}
	if err := r.orphanObjects(ctx, cutoff, report); err != nil {
		return nil, err
	}

	stale, err := r.registry.ListOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for _, s := range stale {
		report.StaleSessions = append(report.StaleSessions, s.SessionID)
	}

	if report.Empty() {
		r.logger.Debug(ctx, "reconcile: consistent")
	} else {
		r.logger.Warn(ctx, "reconcile: inconsistencies found",
			"missing_objects", report.MissingObjects,
			"unconfirmed_files", report.UnconfirmedFiles,
			"orphan_objects", report.OrphanObjects,
			"stale_sessions", report.StaleSessions,
		)
	}
	return report, nil
}

func (r *Reconciler) pendingFiles(ctx context.Context, cutoff time.Time, report *Report) error {
	pending, err := r.repomanager.Files(r.db).SelectPendingOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("select pending files: %w", err)
	}
	for _, f := range pending {
		loc, ok := f.Location.(models.ObjectLocation)
		if !ok {
			continue
		}
		_, err := r.objects.Head(ctx, loc.Key)
		switch {
		case err == nil:
			report.UnconfirmedFiles = append(report.UnconfirmedFiles, f.ID)
		case errors.Is(err, common.ErrorNotFound):
			report.MissingObjects = append(report.MissingObjects, f.ID)
		default:
			return fmt.Errorf("head %s: %w", loc.Key, err)
		}
	}
	return nil
}

func (r *Reconciler) orphanObjects(ctx context.Context, cutoff time.Time, report *Report) error {
	filesRepo := r.repomanager.Files(r.db)
	return r.objects.Walk(ctx, UploadPrefix, func(page []objectstore.ObjectSummary) error {
		keys := make([]string, 0, len(page))
		for _, o := range page {
			if o.LastModified.Before(cutoff) {
				keys = append(keys, o.Key)
			}
		}
		if len(keys) == 0 {
			return nil
		}
		known, err := filesRepo.KnownObjectKeys(ctx, keys)
		if err != nil {
			return fmt.Errorf("known object keys: %w", err)
		}
		for _, k := range keys {
			if !known[k] {
				report.OrphanObjects = append(report.OrphanObjects, k)
			}
		}
		return nil
	})
}

// RunEvery calls Run on every tick until ctx is done.
func (r *Reconciler) RunEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error(ctx, "reconcile failed", "error", err)
			}
		}
	}
}
