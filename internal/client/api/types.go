package api

import "time"

type Part struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

type Session struct {
	SessionID string `json:"sessionId"`
	ObjectKey string `json:"objectKey"`
}

// TransferMetadata describes the share a batch of uploads becomes.
type TransferMetadata struct {
	Title            string   `json:"title"`
	Message          string   `json:"message,omitempty"`
	RecipientEmails  []string `json:"recipientEmails,omitempty"`
	Password         string   `json:"password,omitempty"`
	ExpiryDays       int      `json:"expiryDays,omitempty"`
	DownloadLimit    int      `json:"downloadLimit,omitempty"`
	OriginalFilename string   `json:"originalFilename,omitempty"`
	FileSize         int64    `json:"fileSize,omitempty"`
	ContentType      string   `json:"contentType,omitempty"`
}

type UploadedFile struct {
	ObjectKey        string `json:"objectKey"`
	OriginalFilename string `json:"originalFilename"`
	ContentType      string `json:"contentType,omitempty"`
}

type Transfer struct {
	ID         string    `json:"id"`
	ShareToken string    `json:"shareToken"`
	ShareLink  string    `json:"shareLink"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type FileInfo struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

type TransferInfo struct {
	Title             string     `json:"title"`
	Message           string     `json:"message"`
	SenderEmail       string     `json:"senderEmail"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	DownloadLimit     int        `json:"downloadLimit"`
	DownloadCount     int        `json:"downloadCount"`
	PasswordProtected bool       `json:"passwordProtected"`
	Files             []FileInfo `json:"files"`
	TotalSize         int64      `json:"totalSize"`
}

type Confirmation struct {
	Success        bool      `json:"success"`
	DownloadGrant  string    `json:"downloadGrant"`
	GrantExpiresAt time.Time `json:"grantExpiresAt"`
	DownloadCount  int       `json:"downloadCount"`
}
