// Package common defines shared constants and sentinel errors used across
// client and server layers of sharedrop. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Upload protocol errors.
	ErrIncompleteParts = errors.New("part list is not contiguous")
	ErrSessionNotFound = errors.New("upload session not found")
	ErrFinalizeFailed  = errors.New("object store rejected finalize")
	ErrFileTooLarge    = errors.New("file too large")
	ErrUploadFailed    = errors.New("upload failed")
	ErrTransferCreate  = errors.New("transfer record could not be created")

	// Retrieval errors.
	ErrTransferExpired  = errors.New("transfer expired")
	ErrDownloadLimit    = errors.New("download limit reached")
	ErrTransferInactive = errors.New("transfer is not active")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrDownloadFailed   = errors.New("download failed")
	ErrArchiveEmpty     = errors.New("no files could be archived")
)
