package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/gin-gonic/gin"
)

// statusFor maps a service error to an HTTP status and the message shown to
// the caller. Only validation messages carry detail.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrIncompleteParts):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, common.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, common.ErrInvalidPassword):
		return http.StatusUnauthorized, "invalid password"
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, "not authorized"
	case errors.Is(err, common.ErrDownloadLimit):
		return http.StatusForbidden, "download limit reached"
	case errors.Is(err, common.ErrTransferInactive):
		return http.StatusForbidden, "transfer is not active"
	case errors.Is(err, common.ErrTransferExpired):
		return http.StatusGone, "transfer expired"
	case errors.Is(err, common.ErrSessionNotFound):
		return http.StatusNotFound, "upload session not found"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, common.ErrFinalizeFailed):
		return http.StatusBadGateway, "failed to finalize upload"
	case errors.Is(err, common.ErrUploadFailed):
		return http.StatusBadGateway, "upload failed"
	case errors.Is(err, common.ErrArchiveEmpty):
		return http.StatusBadGateway, "failed to create archive"
	case errors.Is(err, common.ErrDownloadFailed):
		return http.StatusBadGateway, "download failed"
	case errors.Is(err, common.ErrTransferCreate):
		return http.StatusInternalServerError, "failed to create transfer"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(c *gin.Context, l logging.Logger, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		l.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "status", code, "error", err)
	} else {
		l.Debug(c.Request.Context(), "request rejected", "path", c.FullPath(), "status", code, "error", err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
