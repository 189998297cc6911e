package httpapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/dmitrijs2005/sharedrop/internal/server/services"
	"github.com/gin-gonic/gin"
)

type Multipart interface {
	Initiate(ctx context.Context, owner, filename, contentType string, index int) (*models.UploadSession, error)
	PartURL(ctx context.Context, owner, sessionID, objectKey string, partNumber int32) (string, error)
	ListParts(ctx context.Context, owner, sessionID, objectKey string) ([]models.Part, error)
	Complete(ctx context.Context, owner, sessionID, objectKey string, parts []models.Part) (*models.ObjectInfo, error)
	Abort(ctx context.Context, owner, sessionID, objectKey string) error
}

type Transfers interface {
	CreateFromUploaded(ctx context.Context, owner string, meta models.TransferMeta, objects []models.UploadedObject) (*models.Transfer, error)
	CreatePresigned(ctx context.Context, owner string, meta models.TransferMeta, declared []models.DeclaredFile) (*models.Transfer, []models.PresignedUpload, error)
	MarkFileUploaded(ctx context.Context, owner, fileID string) error
	CreateRelayed(ctx context.Context, owner string, meta models.TransferMeta, relayed []services.RelayedFile) (*models.Transfer, error)
	Toggle(ctx context.Context, owner, transferID string) (bool, error)
	SetPassword(ctx context.Context, owner, transferID, password string) error
	ShareLink(shareToken string) string
}

type Retrieval interface {
	Info(ctx context.Context, shareToken string) (*services.TransferInfo, error)
	ConfirmDownload(ctx context.Context, shareToken, password string, client services.ClientInfo) (*services.Confirmation, error)
	Download(ctx context.Context, shareToken, fileID, grant string) (*services.Payload, error)
}

// relayFormOverhead is what a relayed upload may carry on top of the file
// bytes: boundaries, part headers and metadata fields.
const relayFormOverhead = 1 << 20

type Handler struct {
	multipart Multipart
	transfers Transfers
	retrieval Retrieval
	logger    logging.Logger
	// maxRelayBody caps a POST /upload body; 0 means no cap.
	maxRelayBody int64
}

// NewHandler wires the services. maxFileSize bounds relayed uploads before
// any of their bytes are spooled to disk.
func NewHandler(m Multipart, t Transfers, r Retrieval, l logging.Logger, maxFileSize int64) *Handler {
	h := &Handler{multipart: m, transfers: t, retrieval: r, logger: l.With("module", "http")}
	if maxFileSize > 0 {
		h.maxRelayBody = maxFileSize + relayFormOverhead
	}
	return h
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "filename is required")
		return
	}
	s, err := h.multipart.Initiate(c.Request.Context(), sender(c), req.Filename, req.ContentType, req.Index)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, initiateResponse{SessionID: s.SessionID, ObjectKey: s.ObjectKey})
}

func (h *Handler) partURL(c *gin.Context) {
	var req partURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "sessionId, objectKey and partNumber are required")
		return
	}
	url, err := h.multipart.PartURL(c.Request.Context(), sender(c), req.SessionID, req.ObjectKey, req.PartNumber)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) listParts(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "sessionId and objectKey are required")
		return
	}
	parts, err := h.multipart.ListParts(c.Request.Context(), sender(c), req.SessionID, req.ObjectKey)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if parts == nil {
		parts = []models.Part{}
	}
	c.JSON(http.StatusOK, gin.H{"parts": parts})
}

// complete finalizes one file. With transferMetadata the transfer is
// recorded right away; without it the caller records the batch later via
// /upload/transfer.
func (h *Handler) complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "sessionId and objectKey are required")
		return
	}
	ctx := c.Request.Context()
	owner := sender(c)

	info, err := h.multipart.Complete(ctx, owner, req.SessionID, req.ObjectKey, req.Parts)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if req.TransferMetadata == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "size": info.Size})
		return
	}

	md := req.TransferMetadata
	contentType := md.ContentType
	if contentType == "" {
		contentType = info.ContentType
	}
	t, err := h.transfers.CreateFromUploaded(ctx, owner, md.meta(), []models.UploadedObject{{
		ObjectKey:        req.ObjectKey,
		OriginalFilename: md.OriginalFilename,
		ContentType:      contentType,
		Size:             info.Size,
	}})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transfer": newCreatedTransfer(t, h.transfers.ShareLink(t.ShareToken))})
}

func (h *Handler) abort(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "sessionId and objectKey are required")
		return
	}
	if err := h.multipart.Abort(c.Request.Context(), sender(c), req.SessionID, req.ObjectKey); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) recordTransfer(c *gin.Context) {
	var req recordTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "files are required")
		return
	}
	objects := make([]models.UploadedObject, len(req.Files))
	for i, f := range req.Files {
		objects[i] = models.UploadedObject{ObjectKey: f.ObjectKey, OriginalFilename: f.OriginalFilename, ContentType: f.ContentType}
	}
	t, err := h.transfers.CreateFromUploaded(c.Request.Context(), sender(c), req.TransferMetadata.meta(), objects)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transfer": newCreatedTransfer(t, h.transfers.ShareLink(t.ShareToken))})
}

func (h *Handler) presigned(c *gin.Context) {
	var req presignedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "no files provided")
		return
	}
	declared := make([]models.DeclaredFile, len(req.Files))
	for i, f := range req.Files {
		declared[i] = models.DeclaredFile{Name: f.Name, Size: f.Size, ContentType: f.Type}
	}
	t, uploads, err := h.transfers.CreatePresigned(c.Request.Context(), sender(c), req.meta(), declared)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"transfer":      newCreatedTransfer(t, h.transfers.ShareLink(t.ShareToken)),
		"presignedUrls": uploads,
	})
}

func (h *Handler) presignedUploaded(c *gin.Context) {
	if err := h.transfers.MarkFileUploaded(c.Request.Context(), sender(c), c.Param("fileId")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// relayedUpload accepts a multipart form with one or more "files" parts and
// the metadata as plain form fields.
func (h *Handler) relayedUpload(c *gin.Context) {
	if h.maxRelayBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRelayBody)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, h.logger, common.ErrFileTooLarge)
			return
		}
		badRequest(c, "invalid multipart form")
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		badRequest(c, "no files provided")
		return
	}

	meta, err := formMeta(form)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	relayed := make([]services.RelayedFile, len(headers))
	for i, fh := range headers {
		relayed[i] = services.RelayedFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open:        func() (io.ReadSeekCloser, error) { return fh.Open() },
		}
	}

	t, err := h.transfers.CreateRelayed(c.Request.Context(), sender(c), meta, relayed)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transfer": newCreatedTransfer(t, h.transfers.ShareLink(t.ShareToken))})
}

func formMeta(form *multipart.Form) (models.TransferMeta, error) {
	get := func(k string) string {
		if v := form.Value[k]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	meta := models.TransferMeta{
		Title:    get("title"),
		Message:  get("message"),
		Password: get("password"),
	}
	for _, v := range form.Value["recipientEmails"] {
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				meta.RecipientEmails = append(meta.RecipientEmails, r)
			}
		}
	}
	var err error
	if v := get("expiryDays"); v != "" {
		if meta.ExpiryDays, err = strconv.Atoi(v); err != nil {
			return meta, fieldError("expiryDays")
		}
	}
	if v := get("downloadLimit"); v != "" {
		if meta.DownloadLimit, err = strconv.Atoi(v); err != nil {
			return meta, fieldError("downloadLimit")
		}
	}
	return meta, nil
}

type fieldError string

func (e fieldError) Error() string { return string(e) + " must be a number" }

func (h *Handler) toggle(c *gin.Context) {
	active, err := h.transfers.Toggle(c.Request.Context(), sender(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "isActive": active})
}

func (h *Handler) setPassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	if err := h.transfers.SetPassword(c.Request.Context(), sender(c), c.Param("id"), req.Password); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "passwordProtected": req.Password != ""})
}

func (h *Handler) info(c *gin.Context) {
	info, err := h.retrieval.Info(c.Request.Context(), c.Param("shareToken"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfer": newTransferView(info)})
}

func (h *Handler) confirm(c *gin.Context) {
	var req passwordRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body")
			return
		}
	}
	conf, err := h.retrieval.ConfirmDownload(c.Request.Context(), c.Param("shareToken"), req.Password, services.ClientInfo{
		IP:        clientIP(c),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, confirmResponse{
		Success:        true,
		DownloadGrant:  conf.Grant,
		GrantExpiresAt: conf.GrantExpiresAt,
		DownloadCount:  conf.DownloadCount,
	})
}

func (h *Handler) download(c *gin.Context) {
	grant := c.Query("grant")
	if grant == "" {
		grant = c.GetHeader(common.DownloadGrantHeaderName)
	}
	p, err := h.retrieval.Download(c.Request.Context(), c.Param("shareToken"), c.Query("fileId"), grant)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	defer p.Body.Close()

	c.DataFromReader(http.StatusOK, p.Size, p.ContentType, p.Body, map[string]string{
		"Content-Disposition":    contentDisposition(p.Filename),
		"Cache-Control":          "no-store",
		"X-Content-Type-Options": "nosniff",
	})
}

func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}
