package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
)

// MemoryRegistry is a process-local Registry. Entries never expire on their
// own; it is meant for tests and single-node development.
type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]models.UploadSession
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: map[string]models.UploadSession{}}
}

func (r *MemoryRegistry) Put(ctx context.Context, s *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.SessionID] = *s
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, common.ErrSessionNotFound
	}
	return &s, nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

func (r *MemoryRegistry) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.UploadSession
	for _, s := range r.sessions {
		if s.CreatedAt.Before(cutoff) {
			cp := s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
