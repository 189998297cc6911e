// Package memory keeps transfers, files and download logs in process memory.
// It honours the same contracts as the PostgreSQL repositories, including the
// conditional download counter, and backs service tests. The DBTX handed to
// the factories is ignored.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/dbx"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/downloadlogs"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/files"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/transfers"
	"github.com/google/uuid"
)

type store struct {
	mu        sync.Mutex
	transfers map[string]*models.Transfer
	files     map[string]*models.File
	logs      []*models.DownloadLog
	now       func() time.Time
}

// RepositoryManager is the in-memory counterpart of
// repomanager.PostgresRepositoryManager.
type RepositoryManager struct {
	s *store
}

func NewRepositoryManager() *RepositoryManager {
	return &RepositoryManager{s: &store{
		transfers: map[string]*models.Transfer{},
		files:     map[string]*models.File{},
		now:       time.Now,
	}}
}

func (m *RepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (m *RepositoryManager) Transfers(db dbx.DBTX) transfers.Repository {
	return &transferRepo{s: m.s}
}

func (m *RepositoryManager) Files(db dbx.DBTX) files.Repository {
	return &fileRepo{s: m.s}
}

func (m *RepositoryManager) DownloadLogs(db dbx.DBTX) downloadlogs.Repository {
	return &logRepo{s: m.s}
}

// SetClock replaces the time source used for created_at columns.
func (m *RepositoryManager) SetClock(now func() time.Time) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.now = now
}

type transferRepo struct{ s *store }

func (r *transferRepo) Create(ctx context.Context, t *models.Transfer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.transfers {
		if existing.ShareToken == t.ShareToken {
			return common.ErrorInternal
		}
	}
	t.ID = uuid.NewString()
	t.CreatedAt = r.s.now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	r.s.transfers[t.ID] = &cp
	return nil
}

func (r *transferRepo) GetByShareToken(ctx context.Context, token string) (*models.Transfer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.transfers {
		if t.ShareToken == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *transferRepo) GetByID(ctx context.Context, id string) (*models.Transfer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transfers[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *transferRepo) IncrementDownloadCount(ctx context.Context, id string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transfers[id]
	if !ok || (t.DownloadLimit > 0 && t.DownloadCount >= t.DownloadLimit) {
		return 0, common.ErrDownloadLimit
	}
	t.DownloadCount++
	t.UpdatedAt = r.s.now()
	return t.DownloadCount, nil
}

func (r *transferRepo) ToggleActive(ctx context.Context, id, owner string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transfers[id]
	if !ok || t.SenderEmail != owner {
		return false, common.ErrorNotFound
	}
	t.IsActive = !t.IsActive
	return t.IsActive, nil
}

func (r *transferRepo) SetPassword(ctx context.Context, id, owner string, hash *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transfers[id]
	if !ok || t.SenderEmail != owner {
		return common.ErrorNotFound
	}
	t.PasswordHash = hash
	t.PasswordProtected = hash != nil
	return nil
}

func (r *transferRepo) MarkReady(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transfers[id]
	if !ok {
		return common.ErrorNotFound
	}
	t.UploadStatus = common.StatusReady
	return nil
}

type fileRepo struct{ s *store }

func (r *fileRepo) Create(ctx context.Context, f *models.File) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.transfers[f.TransferID]; !ok {
		return common.ErrorNotFound
	}
	f.ID = uuid.NewString()
	f.CreatedAt = r.s.now()
	cp := *f
	r.s.files[f.ID] = &cp
	return nil
}

func (r *fileRepo) ListByTransfer(ctx context.Context, transferID string) ([]*models.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.File
	for _, f := range r.s.files {
		if f.TransferID == transferID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*models.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.files[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *fileRepo) MarkUploaded(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.files[id]
	if !ok {
		return common.ErrorNotFound
	}
	f.UploadStatus = common.StatusCompleted
	return nil
}

func (r *fileRepo) CountPending(ctx context.Context, transferID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, f := range r.s.files {
		if f.TransferID == transferID && f.UploadStatus == common.StatusPending {
			n++
		}
	}
	return n, nil
}

func (r *fileRepo) SelectPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.File
	for _, f := range r.s.files {
		if f.UploadStatus == common.StatusPending && f.CreatedAt.Before(cutoff) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fileRepo) KnownObjectKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	known := make(map[string]bool, len(keys))
	for _, f := range r.s.files {
		if loc, ok := f.Location.(models.ObjectLocation); ok {
			if _, hit := want[loc.Key]; hit {
				known[loc.Key] = true
			}
		}
	}
	return known, nil
}

type logRepo struct{ s *store }

func (r *logRepo) Create(ctx context.Context, entry *models.DownloadLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entry.ID = uuid.NewString()
	entry.DownloadedAt = r.s.now()
	cp := *entry
	r.s.logs = append(r.s.logs, &cp)
	return nil
}

func (r *logRepo) CountByTransfer(ctx context.Context, transferID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, l := range r.s.logs {
		if l.TransferID == transferID {
			n++
		}
	}
	return n, nil
}
