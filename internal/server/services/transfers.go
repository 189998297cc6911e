package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/cryptox"
	"github.com/dmitrijs2005/sharedrop/internal/dbx"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/dmitrijs2005/sharedrop/internal/server/config"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/dmitrijs2005/sharedrop/internal/server/notify"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/repomanager"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// PresignedPutValidity bounds direct whole-object uploads.
const PresignedPutValidity = time.Hour

// TransferStore is the part of the object store used when creating transfers.
type TransferStore interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Head(ctx context.Context, key string) (*models.ObjectInfo, error)
}

// RelayedFile is a file whose bytes arrive through the API itself.
type RelayedFile struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadSeekCloser, error)
}

type TransferService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       TransferStore
	notifier    notify.Notifier
	config      *config.Config
	logger      logging.Logger
	now         func() time.Time
}

func NewTransferService(db *sql.DB, rm repomanager.RepositoryManager, store TransferStore, notifier notify.Notifier, cfg *config.Config, logger logging.Logger) *TransferService {
	return &TransferService{
		db:          db,
		repomanager: rm,
		store:       store,
		notifier:    notifier,
		config:      cfg,
		logger:      logger.With("module", "transfers"),
		now:         time.Now,
	}
}

// ShareLink is the public URL recipients open.
func (s *TransferService) ShareLink(shareToken string) string {
	return strings.TrimRight(s.config.PublicBaseURL, "/") + "/transfer/" + shareToken
}

// CreateFromUploaded records a transfer over objects that are already fully
// stored. Every object must have been uploaded by owner through a multipart
// session; sizes come from the store, not the caller. If the database write
// fails the objects stay orphaned; their keys are logged and the caller sees
// ErrTransferCreate.
func (s *TransferService) CreateFromUploaded(ctx context.Context, owner string, meta models.TransferMeta, objects []models.UploadedObject) (*models.Transfer, error) {
	if owner == "" {
		return nil, common.ErrorUnauthorized
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: no files", common.ErrorValidation)
	}

	resolved := make([]models.UploadedObject, 0, len(objects))
	for _, o := range objects {
		if !strings.HasPrefix(o.ObjectKey, UploadPrefix) {
			return nil, fmt.Errorf("%w: unexpected object key %q", common.ErrorValidation, o.ObjectKey)
		}
		info, err := s.store.Head(ctx, o.ObjectKey)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("head %s: %w", o.ObjectKey, err)
		}
		// Someone else's object is reported exactly like a missing one.
		if err != nil || info.Owner != owner {
			if err == nil {
				s.logger.Warn(ctx, "object owned by another sender", "object_key", o.ObjectKey, "owner", owner)
			}
			return nil, fmt.Errorf("%w: object %q does not exist", common.ErrorValidation, o.ObjectKey)
		}
		o.Size = info.Size
		if o.ContentType == "" {
			o.ContentType = info.ContentType
		}
		if o.Size > s.config.MaxFileSize {
			return nil, fmt.Errorf("%w: %s", common.ErrFileTooLarge, o.OriginalFilename)
		}
		if o.OriginalFilename == "" {
			o.OriginalFilename = path.Base(o.ObjectKey)
		}
		resolved = append(resolved, o)
	}

	t, err := s.newTransfer(owner, meta, common.StatusReady)
	if err != nil {
		return nil, err
	}

	files := make([]*models.File, len(resolved))
	for i, o := range resolved {
		files[i] = &models.File{
			Position:         i,
			Filename:         path.Base(o.ObjectKey),
			OriginalFilename: o.OriginalFilename,
			Size:             o.Size,
			ContentType:      contentTypeOr(o.ContentType),
			Location:         models.ObjectLocation{Key: o.ObjectKey},
			UploadStatus:     common.StatusCompleted,
		}
	}

	if err := s.persist(ctx, t, files); err != nil {
		keys := make([]string, len(resolved))
		for i, o := range resolved {
			keys[i] = o.ObjectKey
		}
		s.logger.Error(ctx, "transfer record failed, objects orphaned", "owner", owner, "object_keys", keys, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrTransferCreate, err)
	}

	s.logger.Info(ctx, "transfer created", "transfer_id", t.ID, "files", len(files), "owner", owner)
	s.notify(ctx, t, len(files), meta.Password)
	return t, nil
}

// CreatePresigned records the transfer and its pending files first, then
// hands out one PUT URL per declared file. The transfer stays "uploading"
// until every file is reported uploaded.
func (s *TransferService) CreatePresigned(ctx context.Context, owner string, meta models.TransferMeta, declared []models.DeclaredFile) (*models.Transfer, []models.PresignedUpload, error) {
	if len(declared) == 0 {
		return nil, nil, fmt.Errorf("%w: no files", common.ErrorValidation)
	}
	for _, d := range declared {
		if strings.TrimSpace(d.Name) == "" {
			return nil, nil, fmt.Errorf("%w: file name is required", common.ErrorValidation)
		}
		if d.Size < 0 {
			return nil, nil, fmt.Errorf("%w: negative size for %s", common.ErrorValidation, d.Name)
		}
		if d.Size > s.config.MaxFileSize {
			return nil, nil, fmt.Errorf("%w: %s", common.ErrFileTooLarge, d.Name)
		}
	}

	t, err := s.newTransfer(owner, meta, common.StatusUploading)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	files := make([]*models.File, len(declared))
	for i, d := range declared {
		key := BuildObjectKey(now, i, d.Name)
		files[i] = &models.File{
			Position:         i,
			Filename:         path.Base(key),
			OriginalFilename: d.Name,
			Size:             d.Size,
			ContentType:      contentTypeOr(d.ContentType),
			Location:         models.ObjectLocation{Key: key},
			UploadStatus:     common.StatusPending,
		}
	}

	if err := s.persist(ctx, t, files); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrTransferCreate, err)
	}

	uploads := make([]models.PresignedUpload, len(files))
	expires := now.Add(PresignedPutValidity)
	for i, f := range files {
		key := f.Location.(models.ObjectLocation).Key
		url, err := s.store.PresignPut(ctx, key, f.ContentType, PresignedPutValidity)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: presign %s: %v", common.ErrUploadFailed, f.OriginalFilename, err)
		}
		uploads[i] = models.PresignedUpload{
			FileID:    f.ID,
			Filename:  f.OriginalFilename,
			URL:       url,
			ObjectKey: key,
			ExpiresAt: expires,
		}
	}

	s.logger.Info(ctx, "presigned transfer created", "transfer_id", t.ID, "files", len(files), "owner", owner)
	return t, uploads, nil
}

// MarkFileUploaded flips one pending file to completed once its object is in
// the store. When it was the last
// pending file the transfer becomes ready and recipients are notified. The
// plaintext password is gone by then, so the notification only says that
// one is required.
func (s *TransferService) MarkFileUploaded(ctx context.Context, owner, fileID string) error {
	if err := checkID(fileID); err != nil {
		return err
	}
	filesRepo := s.repomanager.Files(s.db)
	transfersRepo := s.repomanager.Transfers(s.db)

	f, err := filesRepo.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	t, err := transfersRepo.GetByID(ctx, f.TransferID)
	if err != nil {
		return err
	}
	if t.SenderEmail != owner {
		return common.ErrorNotFound
	}
	if f.UploadStatus == common.StatusCompleted {
		return nil
	}
	if loc, ok := f.Location.(models.ObjectLocation); ok {
		if _, err := s.store.Head(ctx, loc.Key); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("%w: %s has not been uploaded", common.ErrorValidation, f.OriginalFilename)
			}
			return fmt.Errorf("head %s: %w", loc.Key, err)
		}
	}

	var (
		ready     bool
		fileCount int
	)
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fr := s.repomanager.Files(tx)
		if err := fr.MarkUploaded(ctx, fileID); err != nil {
			return err
		}
		pending, err := fr.CountPending(ctx, t.ID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}
		all, err := fr.ListByTransfer(ctx, t.ID)
		if err != nil {
			return err
		}
		fileCount = len(all)
		ready = true
		return s.repomanager.Transfers(tx).MarkReady(ctx, t.ID)
	})
	if err != nil {
		return fmt.Errorf("mark file uploaded: %w", err)
	}

	s.logger.Info(ctx, "file uploaded", "file_id", fileID, "transfer_id", t.ID, "transfer_ready", ready)
	if ready {
		t.UploadStatus = common.StatusReady
		s.notify(ctx, t, fileCount, "")
	}
	return nil
}

// CreateRelayed stores files received through the API. Each file goes to
// the object store; if that fails, files up to MaxInlineSize are kept inline
// in the database instead, larger ones fail the request.
func (s *TransferService) CreateRelayed(ctx context.Context, owner string, meta models.TransferMeta, relayed []RelayedFile) (*models.Transfer, error) {
	if len(relayed) == 0 {
		return nil, fmt.Errorf("%w: no files", common.ErrorValidation)
	}
	for _, r := range relayed {
		if r.Size > s.config.MaxFileSize {
			return nil, fmt.Errorf("%w: %s", common.ErrFileTooLarge, r.Name)
		}
	}

	t, err := s.newTransfer(owner, meta, common.StatusReady)
	if err != nil {
		return nil, err
	}

	now := s.now()
	files := make([]*models.File, 0, len(relayed))
	for i, r := range relayed {
		f, err := s.storeRelayed(ctx, now, i, r)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	if err := s.persist(ctx, t, files); err != nil {
		s.logger.Error(ctx, "relayed transfer record failed", "owner", owner, "files", len(files), "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrTransferCreate, err)
	}

	s.logger.Info(ctx, "relayed transfer created", "transfer_id", t.ID, "files", len(files), "owner", owner)
	s.notify(ctx, t, len(files), meta.Password)
	return t, nil
}

func (s *TransferService) storeRelayed(ctx context.Context, now time.Time, index int, r RelayedFile) (*models.File, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = fmt.Sprintf("file-%d", index+1)
	}
	body, err := r.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", common.ErrUploadFailed, name, err)
	}
	defer body.Close()

	contentType := r.ContentType
	if contentType == "" || contentType == defaultMIMEType {
		mt, err := mimetype.DetectReader(body)
		if err == nil {
			contentType = mt.String()
		}
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: rewind %s: %v", common.ErrUploadFailed, name, err)
		}
	}

	key := BuildObjectKey(now, index, name)
	f := &models.File{
		Position:         index,
		Filename:         path.Base(key),
		OriginalFilename: name,
		Size:             r.Size,
		ContentType:      contentTypeOr(contentType),
		Location:         models.ObjectLocation{Key: key},
		UploadStatus:     common.StatusCompleted,
	}

	putErr := s.store.Put(ctx, key, f.ContentType, body, r.Size)
	if putErr == nil {
		return f, nil
	}
	if r.Size > s.config.MaxInlineSize {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrUploadFailed, name, putErr)
	}

	s.logger.Warn(ctx, "object store put failed, storing inline", "file", name, "size", r.Size, "error", putErr)
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: rewind %s: %v", common.ErrUploadFailed, name, err)
	}
	data, err := io.ReadAll(io.LimitReader(body, s.config.MaxInlineSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrUploadFailed, name, err)
	}
	if int64(len(data)) > s.config.MaxInlineSize {
		return nil, fmt.Errorf("%w: %s", common.ErrFileTooLarge, name)
	}
	f.Size = int64(len(data))
	f.Filename = name
	f.Location = models.InlineLocation{Data: base64.StdEncoding.EncodeToString(data)}
	return f, nil
}

// Toggle flips the active flag of a transfer owned by owner and returns the
// new value.
func (s *TransferService) Toggle(ctx context.Context, owner, transferID string) (bool, error) {
	if err := checkID(transferID); err != nil {
		return false, err
	}
	active, err := s.repomanager.Transfers(s.db).ToggleActive(ctx, transferID, owner)
	if err != nil {
		return false, err
	}
	s.logger.Info(ctx, "transfer toggled", "transfer_id", transferID, "active", active)
	return active, nil
}

// SetPassword replaces the password of a transfer; an empty password
// removes the protection.
func (s *TransferService) SetPassword(ctx context.Context, owner, transferID, password string) error {
	if err := checkID(transferID); err != nil {
		return err
	}
	var hash *string
	if password != "" {
		h, err := cryptox.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		hash = &h
	}
	if err := s.repomanager.Transfers(s.db).SetPassword(ctx, transferID, owner, hash); err != nil {
		return err
	}
	s.logger.Info(ctx, "transfer password updated", "transfer_id", transferID, "protected", hash != nil)
	return nil
}

func (s *TransferService) newTransfer(owner string, meta models.TransferMeta, status string) (*models.Transfer, error) {
	if owner == "" {
		return nil, common.ErrorUnauthorized
	}
	days := meta.ExpiryDays
	if days == 0 {
		days = s.config.DefaultExpiryDays
	}
	if days < 1 || days > s.config.MaxExpiryDays {
		return nil, fmt.Errorf("%w: expiryDays must be within 1..%d", common.ErrorValidation, s.config.MaxExpiryDays)
	}
	if meta.DownloadLimit < 0 {
		return nil, fmt.Errorf("%w: downloadLimit must not be negative", common.ErrorValidation)
	}

	token, err := cryptox.NewShareToken()
	if err != nil {
		return nil, fmt.Errorf("share token: %w", err)
	}

	t := &models.Transfer{
		ShareToken:      token,
		Title:           strings.TrimSpace(meta.Title),
		Message:         meta.Message,
		SenderEmail:     owner,
		RecipientEmails: cleanRecipients(meta.RecipientEmails),
		ExpiresAt:       s.now().Add(time.Duration(days) * 24 * time.Hour),
		DownloadLimit:   meta.DownloadLimit,
		IsActive:        true,
		UploadStatus:    status,
	}
	if meta.Password != "" {
		h, err := cryptox.HashPassword(meta.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		t.PasswordHash = &h
		t.PasswordProtected = true
	}
	return t, nil
}

func (s *TransferService) persist(ctx context.Context, t *models.Transfer, files []*models.File) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Transfers(tx).Create(ctx, t); err != nil {
			return err
		}
		fr := s.repomanager.Files(tx)
		for _, f := range files {
			f.TransferID = t.ID
			if err := fr.Create(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
}

// notify never fails the caller; outcomes are only logged.
func (s *TransferService) notify(ctx context.Context, t *models.Transfer, fileCount int, password string) {
	if len(t.RecipientEmails) == 0 {
		return
	}
	res := s.notifier.TransferShared(ctx, t.RecipientEmails, notify.Transfer{
		SenderEmail:  t.SenderEmail,
		Title:        t.Title,
		Message:      t.Message,
		DownloadLink: s.ShareLink(t.ShareToken),
		FileCount:    fileCount,
		ExpiresAt:    t.ExpiresAt,
		HasPassword:  t.PasswordProtected,
		Password:     password,
	})
	s.logger.Info(ctx, "recipients notified", "transfer_id", t.ID, "sent", res.Sent, "failed", res.Failed)
}

func cleanRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func contentTypeOr(ct string) string {
	if ct == "" {
		return defaultMIMEType
	}
	return ct
}

// checkID rejects ids that cannot name a row; the columns are uuid and the
// database would answer with a type error instead of "no rows".
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrorNotFound
	}
	return nil
}
