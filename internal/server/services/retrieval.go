package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/cryptox"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/dmitrijs2005/sharedrop/internal/server/auth"
	"github.com/dmitrijs2005/sharedrop/internal/server/config"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/repomanager"
)

const ArchiveContentType = "application/zip"

// ObjectReader reads whole objects from the primary store.
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// LegacyReader reads files by path from the legacy blob store.
type LegacyReader interface {
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)
}

// TransferInfo is a transfer together with its downloadable files.
type TransferInfo struct {
	Transfer *models.Transfer
	Files    []*models.File
}

// ClientInfo identifies who confirmed a download.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Confirmation is returned by a successful download confirmation.
type Confirmation struct {
	DownloadCount  int
	Grant          string
	GrantExpiresAt time.Time
}

// Payload is what the byte endpoint streams back. Size is exact.
type Payload struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	Filename    string
}

type RetrievalService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	objects       ObjectReader
	legacy        LegacyReader
	guard         Guard
	secret        []byte
	grantValidity time.Duration
	logger        logging.Logger
}

// NewRetrievalService wires the engine. legacy may be nil when no legacy
// store is configured; files stored there then fail to download.
func NewRetrievalService(db *sql.DB, rm repomanager.RepositoryManager, objects ObjectReader, legacy LegacyReader, cfg *config.Config, logger logging.Logger) *RetrievalService {
	return &RetrievalService{
		db:            db,
		repomanager:   rm,
		objects:       objects,
		legacy:        legacy,
		guard:         NewGuard(),
		secret:        []byte(cfg.SecretKey),
		grantValidity: cfg.DownloadGrantValidity,
		logger:        logger.With("module", "retrieval"),
	}
}

// Info returns the transfer behind shareToken if it may still be served.
// The password is not checked here.
func (s *RetrievalService) Info(ctx context.Context, shareToken string) (*TransferInfo, error) {
	t, err := s.lookup(ctx, shareToken)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(t); err != nil {
		return nil, err
	}
	files, err := s.files(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return &TransferInfo{Transfer: t, Files: files}, nil
}

// ConfirmDownload checks the guard and the password, then charges one
// download and logs it. A wrong password never touches the counter.
func (s *RetrievalService) ConfirmDownload(ctx context.Context, shareToken, password string, client ClientInfo) (*Confirmation, error) {
	t, err := s.lookup(ctx, shareToken)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(t); err != nil {
		return nil, err
	}
	if t.PasswordProtected {
		if password == "" || t.PasswordHash == nil || !cryptox.VerifyPassword(*t.PasswordHash, password) {
			s.logger.Info(ctx, "download confirmation rejected", "transfer_id", t.ID, "ip", client.IP)
			return nil, common.ErrInvalidPassword
		}
	}

	count, err := s.repomanager.Transfers(s.db).IncrementDownloadCount(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	entry := &models.DownloadLog{TransferID: t.ID, IPAddress: client.IP, UserAgent: client.UserAgent}
	if err := s.repomanager.DownloadLogs(s.db).Create(ctx, entry); err != nil {
		s.logger.Warn(ctx, "download log not written", "transfer_id", t.ID, "error", err)
	}

	grant, err := auth.GenerateGrant(shareToken, s.secret, s.grantValidity)
	if err != nil {
		return nil, fmt.Errorf("download grant: %w", err)
	}

	s.logger.Info(ctx, "download confirmed", "transfer_id", t.ID, "count", count, "ip", client.IP)
	return &Confirmation{
		DownloadCount:  count,
		Grant:          grant,
		GrantExpiresAt: time.Now().Add(s.grantValidity),
	}, nil
}

// Download returns the bytes of one file, or of all files. Several files
// are bundled into a ZIP named after the transfer title. Password-protected
// transfers need the grant issued by ConfirmDownload.
func (s *RetrievalService) Download(ctx context.Context, shareToken, fileID, grant string) (*Payload, error) {
	t, err := s.lookup(ctx, shareToken)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CheckAvailable(t); err != nil {
		return nil, err
	}
	if t.PasswordProtected {
		if grant == "" {
			return nil, common.ErrorUnauthorized
		}
		if err := auth.ParseGrant(grant, shareToken, s.secret); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
		}
	}

	files, err := s.files(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	if fileID != "" {
		for _, f := range files {
			if f.ID == fileID {
				return s.single(ctx, f)
			}
		}
		return nil, common.ErrorNotFound
	}

	switch len(files) {
	case 0:
		return nil, common.ErrorNotFound
	case 1:
		return s.single(ctx, files[0])
	}

	res, err := BuildArchive(ctx, files, s.fetch, s.logger)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "archive built", "transfer_id", t.ID, "entries", res.Entries, "skipped", len(res.Skipped), "size", len(res.Data))
	return &Payload{
		Body:        io.NopCloser(bytes.NewReader(res.Data)),
		Size:        int64(len(res.Data)),
		ContentType: ArchiveContentType,
		Filename:    SanitizeArchiveName(t.Title),
	}, nil
}

func (s *RetrievalService) single(ctx context.Context, f *models.File) (*Payload, error) {
	body, size, err := s.open(ctx, f)
	if err != nil {
		s.logger.Error(ctx, "file download failed", "file_id", f.ID, "storage", storageKind(f.Location), "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDownloadFailed, err)
	}
	return &Payload{
		Body:        body,
		Size:        size,
		ContentType: contentTypeOr(f.ContentType),
		Filename:    EntryName(f),
	}, nil
}

// open dispatches to exactly one backend; there is no fallback between them.
func (s *RetrievalService) open(ctx context.Context, f *models.File) (io.ReadCloser, int64, error) {
	switch loc := f.Location.(type) {
	case models.ObjectLocation:
		return s.objects.Get(ctx, loc.Key)
	case models.LegacyLocation:
		if s.legacy == nil {
			return nil, 0, errors.New("legacy store is not configured")
		}
		return s.legacy.Open(ctx, loc.Path)
	case models.InlineLocation:
		data, err := base64.StdEncoding.DecodeString(loc.Data)
		if err != nil {
			return nil, 0, fmt.Errorf("decode inline data: %w", err)
		}
		return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
	default:
		return nil, 0, fmt.Errorf("file %s has no usable storage location", f.ID)
	}
}

func (s *RetrievalService) fetch(ctx context.Context, f *models.File) ([]byte, error) {
	body, _, err := s.open(ctx, f)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (s *RetrievalService) lookup(ctx context.Context, shareToken string) (*models.Transfer, error) {
	if shareToken == "" {
		return nil, common.ErrorNotFound
	}
	return s.repomanager.Transfers(s.db).GetByShareToken(ctx, shareToken)
}

// files lists the transfer's files that have bytes, in stored order.
func (s *RetrievalService) files(ctx context.Context, transferID string) ([]*models.File, error) {
	all, err := s.repomanager.Files(s.db).ListByTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.File, 0, len(all))
	for _, f := range all {
		if f.UploadStatus == common.StatusPending {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func storageKind(loc models.Location) string {
	if loc == nil {
		return "unknown"
	}
	return string(loc.Kind())
}
