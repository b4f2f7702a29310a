// Upload HTTP handlers.
//
// This file exposes the upload-brokering endpoint:
//   - POST /uploads   (obtain a presigned PUT URL for an attachment)
//
// The handler validates the request shape and delegates to UploadService;
// the returned fileKey is what clients reference from a later send.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/services"
)

// RequestUploadRequest is the JSON payload for brokering an upload.
type RequestUploadRequest struct {
	// ChatID is the conversation the attachment belongs to.
	ChatID string `json:"chatId" binding:"required,min=1" example:"alice#bob"`
	// FileName is the client-side name; only its extension is kept.
	FileName string `json:"fileName" binding:"required,min=1" example:"photo.png"`
	// ContentType must be on the upload allow-list.
	ContentType string `json:"contentType" binding:"required,min=1" example:"image/png"`
}

// RequestUploadResponse carries the presigned URL and the object key.
type RequestUploadResponse struct {
	UploadURL string `json:"uploadUrl"`
	FileKey   string `json:"fileKey"`
}

// RequestUpload returns a time-limited presigned PUT URL for an attachment.
//
// Responses:
//   - 200 {uploadUrl, fileKey} on success
//   - 400 for missing fields or a disallowed content type
//   - 500 when the object store cannot issue a URL
func (h *Handlers) RequestUpload(c *gin.Context) {
	var req RequestUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, services.ErrUploadFieldsRequired.Error())
		return
	}

	up, err := h.uploadSvc.CreateUploadURL(c.Request.Context(), req.ChatID, req.FileName, req.ContentType)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUploadFieldsRequired),
			errors.Is(err, services.ErrContentTypeNotAllowed):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeUploadFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, RequestUploadResponse{UploadURL: up.UploadURL, FileKey: up.FileKey})
}
