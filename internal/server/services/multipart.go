package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/dmitrijs2005/sharedrop/internal/server/sessions"
)

const (
	// PartURLValidity is how long a minted part credential stays usable.
	PartURLValidity = 5 * time.Minute
	MaxPartNumber   = 10000
	defaultMIMEType = "application/octet-stream"
)

// MultipartStore is the part of the object store the coordinator drives.
// *objectstore.Store implements it.
type MultipartStore interface {
	CreateMultipartUpload(ctx context.Context, key, contentType, owner string) (string, error)
	PresignPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error)
	ListParts(ctx context.Context, key, uploadID string) ([]models.Part, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []models.Part) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	Head(ctx context.Context, key string) (*models.ObjectInfo, error)
}

// MultipartService coordinates chunked uploads. It only hands out
// credentials and assembles parts; chunk bytes never pass through it.
type MultipartService struct {
	store    MultipartStore
	registry sessions.Registry
	logger   logging.Logger
	now      func() time.Time
}

func NewMultipartService(store MultipartStore, registry sessions.Registry, logger logging.Logger) *MultipartService {
	return &MultipartService{
		store:    store,
		registry: registry,
		logger:   logger.With("module", "multipart"),
		now:      time.Now,
	}
}

// Initiate opens a multipart session for filename. index is the file's
// position in the sender's batch and only feeds the object key.
func (s *MultipartService) Initiate(ctx context.Context, owner, filename, contentType string, index int) (*models.UploadSession, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", common.ErrorValidation)
	}
	if index < 0 {
		index = 0
	}
	if contentType == "" {
		contentType = defaultMIMEType
	}

	now := s.now()
	key := BuildObjectKey(now, index, filename)

	uploadID, err := s.store.CreateMultipartUpload(ctx, key, contentType, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUploadFailed, err)
	}

	session := &models.UploadSession{
		SessionID:   uploadID,
		ObjectKey:   key,
		Owner:       owner,
		Filename:    filename,
		ContentType: contentType,
		CreatedAt:   now,
	}
	if err := s.registry.Put(ctx, session); err != nil {
		if aerr := s.store.AbortMultipartUpload(ctx, key, uploadID); aerr != nil {
			s.logger.Warn(ctx, "abort after registry failure", "object_key", key, "error", aerr)
		}
		return nil, fmt.Errorf("register session: %w", err)
	}

	s.logger.Info(ctx, "multipart session opened", "session_id", uploadID, "object_key", key, "owner", owner)
	return session, nil
}

// PartURL mints a PUT credential for one part, valid for PartURLValidity.
func (s *MultipartService) PartURL(ctx context.Context, owner, sessionID, objectKey string, partNumber int32) (string, error) {
	if partNumber < 1 || partNumber > MaxPartNumber {
		return "", fmt.Errorf("%w: part number must be within 1..%d", common.ErrorValidation, MaxPartNumber)
	}
	if _, err := s.session(ctx, owner, sessionID, objectKey); err != nil {
		return "", err
	}

	url, err := s.store.PresignPart(ctx, objectKey, sessionID, partNumber, PartURLValidity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUploadFailed, err)
	}
	s.logger.Debug(ctx, "part url minted", "session_id", sessionID, "part", partNumber)
	return url, nil
}

// ListParts returns the parts the backend has durably accepted so far.
func (s *MultipartService) ListParts(ctx context.Context, owner, sessionID, objectKey string) ([]models.Part, error) {
	if _, err := s.session(ctx, owner, sessionID, objectKey); err != nil {
		return nil, err
	}
	parts, err := s.store.ListParts(ctx, objectKey, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrUploadFailed, err)
	}
	return parts, nil
}

// Complete assembles the object. The part list must cover 1..N without gaps
// or duplicates; it is checked before anything else is contacted. On a
// backend rejection the session stays open so the caller can retry or abort.
func (s *MultipartService) Complete(ctx context.Context, owner, sessionID, objectKey string, parts []models.Part) (*models.ObjectInfo, error) {
	sorted, err := SortParts(parts)
	if err != nil {
		return nil, err
	}
	session, err := s.session(ctx, owner, sessionID, objectKey)
	if err != nil {
		return nil, err
	}

	if err := s.store.CompleteMultipartUpload(ctx, objectKey, sessionID, sorted); err != nil {
		s.logger.Error(ctx, "finalize rejected", "session_id", sessionID, "object_key", objectKey, "parts", len(sorted), "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrFinalizeFailed, err)
	}

	if err := s.registry.Delete(ctx, sessionID); err != nil {
		s.logger.Warn(ctx, "drop finalized session", "session_id", sessionID, "error", err)
	}

	info, err := s.store.Head(ctx, objectKey)
	if err != nil {
		return nil, fmt.Errorf("%w: head %s: %v", common.ErrFinalizeFailed, objectKey, err)
	}
	if info.ContentType == "" {
		info.ContentType = session.ContentType
	}

	s.logger.Info(ctx, "multipart upload finalized", "object_key", objectKey, "parts", len(sorted), "size", info.Size)
	return info, nil
}

// Abort cancels the session and drops the parts stored so far.
func (s *MultipartService) Abort(ctx context.Context, owner, sessionID, objectKey string) error {
	if _, err := s.session(ctx, owner, sessionID, objectKey); err != nil {
		return err
	}
	if err := s.store.AbortMultipartUpload(ctx, objectKey, sessionID); err != nil {
		return fmt.Errorf("%w: %v", common.ErrUploadFailed, err)
	}
	if err := s.registry.Delete(ctx, sessionID); err != nil {
		s.logger.Warn(ctx, "drop aborted session", "session_id", sessionID, "error", err)
	}
	s.logger.Info(ctx, "multipart upload aborted", "object_key", objectKey)
	return nil
}

// session loads the registered session and checks that it belongs to owner
// and objectKey. Mismatches look like a missing session.
func (s *MultipartService) session(ctx context.Context, owner, sessionID, objectKey string) (*models.UploadSession, error) {
	if sessionID == "" || objectKey == "" {
		return nil, fmt.Errorf("%w: sessionId and objectKey are required", common.ErrorValidation)
	}
	sess, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Owner != owner || sess.ObjectKey != objectKey {
		return nil, common.ErrSessionNotFound
	}
	return sess, nil
}

// SortParts returns parts ordered by number after checking that they are
// exactly 1..N, each with an integrity tag.
func SortParts(parts []models.Part) ([]models.Part, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no parts", common.ErrIncompleteParts)
	}
	sorted := make([]models.Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	for i, p := range sorted {
		if p.PartNumber != int32(i+1) {
			return nil, fmt.Errorf("%w: expected part %d, got %d", common.ErrIncompleteParts, i+1, p.PartNumber)
		}
		if p.ETag == "" {
			return nil, fmt.Errorf("%w: part %d has no etag", common.ErrIncompleteParts, p.PartNumber)
		}
	}
	return sorted, nil
}
