package httpapi

import (
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/dmitrijs2005/sharedrop/internal/server/services"
)

type transferMetadata struct {
	Title            string   `json:"title"`
	Message          string   `json:"message"`
	RecipientEmails  []string `json:"recipientEmails"`
	Password         string   `json:"password"`
	ExpiryDays       int      `json:"expiryDays"`
	DownloadLimit    int      `json:"downloadLimit"`
	OriginalFilename string   `json:"originalFilename"`
	FileSize         int64    `json:"fileSize"`
	ContentType      string   `json:"contentType"`
}

func (m transferMetadata) meta() models.TransferMeta {
	return models.TransferMeta{
		Title:           m.Title,
		Message:         m.Message,
		RecipientEmails: m.RecipientEmails,
		Password:        m.Password,
		ExpiryDays:      m.ExpiryDays,
		DownloadLimit:   m.DownloadLimit,
	}
}

type initiateRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"contentType"`
	Index       int    `json:"index"`
}

type initiateResponse struct {
	SessionID string `json:"sessionId"`
	ObjectKey string `json:"objectKey"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	ObjectKey string `json:"objectKey" binding:"required"`
}

type partURLRequest struct {
	sessionRequest
	PartNumber int32 `json:"partNumber" binding:"required"`
}

type completeRequest struct {
	sessionRequest
	Parts            []models.Part     `json:"parts"`
	TransferMetadata *transferMetadata `json:"transferMetadata"`
}

type uploadedFile struct {
	ObjectKey        string `json:"objectKey" binding:"required"`
	OriginalFilename string `json:"originalFilename"`
	ContentType      string `json:"contentType"`
}

type recordTransferRequest struct {
	Files            []uploadedFile   `json:"files" binding:"required,min=1,dive"`
	TransferMetadata transferMetadata `json:"transferMetadata"`
}

type declaredFile struct {
	Name string `json:"name" binding:"required"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

type presignedRequest struct {
	Files []declaredFile `json:"files" binding:"required,min=1,dive"`
	transferMetadata
}

type passwordRequest struct {
	Password string `json:"password"`
}

type createdTransfer struct {
	ID         string    `json:"id"`
	ShareToken string    `json:"shareToken"`
	ShareLink  string    `json:"shareLink"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func newCreatedTransfer(t *models.Transfer, link string) *createdTransfer {
	return &createdTransfer{ID: t.ID, ShareToken: t.ShareToken, ShareLink: link, ExpiresAt: t.ExpiresAt}
}

type fileView struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// transferView is the public metadata of a share. It never includes the
// password verifier or the recipient list.
type transferView struct {
	Title             string     `json:"title"`
	Message           string     `json:"message,omitempty"`
	SenderEmail       string     `json:"senderEmail"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	DownloadLimit     int        `json:"downloadLimit"`
	DownloadCount     int        `json:"downloadCount"`
	PasswordProtected bool       `json:"passwordProtected"`
	Files             []fileView `json:"files"`
	TotalSize         int64      `json:"totalSize"`
}

func newTransferView(info *services.TransferInfo) *transferView {
	t := info.Transfer
	v := &transferView{
		Title:             t.Title,
		Message:           t.Message,
		SenderEmail:       t.SenderEmail,
		ExpiresAt:         t.ExpiresAt,
		DownloadLimit:     t.DownloadLimit,
		DownloadCount:     t.DownloadCount,
		PasswordProtected: t.PasswordProtected,
		Files:             make([]fileView, 0, len(info.Files)),
	}
	for _, f := range info.Files {
		v.Files = append(v.Files, fileView{
			ID:          f.ID,
			Filename:    services.EntryName(f),
			Size:        f.Size,
			ContentType: f.ContentType,
		})
		v.TotalSize += f.Size
	}
	return v
}

type confirmResponse struct {
	Success        bool      `json:"success"`
	DownloadGrant  string    `json:"downloadGrant"`
	GrantExpiresAt time.Time `json:"grantExpiresAt"`
	DownloadCount  int       `json:"downloadCount"`
}
