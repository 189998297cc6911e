// Package models defines server-side data models persisted in the database.
package models

import "time"

// Transfer is one share: a set of files behind a single share token.
type Transfer struct {
	ID                string
	ShareToken        string
	Title             string
	Message           string
	SenderEmail       string
	RecipientEmails   []string
	PasswordHash      *string
	PasswordProtected bool
	ExpiresAt         time.Time
	// DownloadLimit of zero means unlimited.
	DownloadLimit int
	DownloadCount int
	IsActive      bool
	// UploadStatus is "uploading" until every file has bytes, then "ready".
	UploadStatus string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TransferMeta is what a sender supplies when creating a transfer.
type TransferMeta struct {
	Title           string
	Message         string
	RecipientEmails []string
	Password        string
	ExpiryDays      int
	DownloadLimit   int
}

// DownloadLog records one confirmed download.
type DownloadLog struct {
	ID           string
	TransferID   string
	IPAddress    string
	UserAgent    string
	DownloadedAt time.Time
}
