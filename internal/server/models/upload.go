package models

import "time"

// Part is one uploaded chunk of a multipart session.
type Part struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

// UploadSession is an open multipart upload.
type UploadSession struct {
	SessionID   string
	ObjectKey   string
	Owner       string
	Filename    string
	ContentType string
	CreatedAt   time.Time
}

// ObjectInfo describes a finalized object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	// Owner is the sender recorded when the upload was opened; empty for
	// objects that were not written through a multipart session.
	Owner string
}

// UploadedObject is a finalized object the sender wants to attach to a
// transfer.
type UploadedObject struct {
	ObjectKey        string
	OriginalFilename string
	ContentType      string
	Size             int64
}

// DeclaredFile is a file announced ahead of a direct presigned upload.
type DeclaredFile struct {
	Name        string
	Size        int64
	ContentType string
}

// PresignedUpload is the URL a sender PUTs one declared file to.
type PresignedUpload struct {
	FileID    string    `json:"fileId"`
	Filename  string    `json:"filename"`
	URL       string    `json:"url"`
	ObjectKey string    `json:"objectKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}
