// Message HTTP handlers.
//
// This file exposes REST endpoints for direct messages:
//   - POST /messages                        (send a message from a registered connection)
//   - GET  /conversations/{id}/messages     (list paginated conversation history)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including the serialized body byte cap)
//   - delegate to application services (MessageService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// send exists for (sender, conversation, key), the handler returns the
// recorded message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/chat"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/utils"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message. At least one
// of Text/FileKey must be present; the service enforces that invariant.
type PostMessageRequest struct {
	// ConversationID is the canonical conversation key (two sorted user ids
	// joined by "#"). The sender must be one of the participants.
	ConversationID string `json:"conversationId" binding:"required,min=1" example:"alice#bob"`
	// Text is the message body.
	Text string `json:"text,omitempty" example:"hi"`
	// FileKey references a previously uploaded blob.
	FileKey string `json:"fileKey,omitempty" example:"alice#bob/141add05.png"`
}

// PostMessageResponse is the JSON envelope for a newly persisted message.
type PostMessageResponse struct {
	// MessageID identifies the stored message.
	MessageID string `json:"messageId"`
	// Message is the full persisted record.
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// readCappedBody reads the request body up to max bytes. The second return
// value is false when the body exceeded the cap.
func readCappedBody(c *gin.Context, max int) ([]byte, bool) {
	if max <= 0 {
		raw, _ := io.ReadAll(c.Request.Body)
		return raw, true
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(max)+1))
	if err != nil || len(raw) > max {
		return nil, false
	}
	return raw, true
}

//
// Handlers
//

// PostMessage sends one message from the connection named in X-Connection-ID.
//
// Responses:
//   - 200 {messageId, message} on success (delivery outcomes never affect it)
//   - 400 for a missing connection header, malformed or oversized body,
//     missing conversationId, empty content, or a malformed conversation key
//   - 403 when the sender is not a participant of the conversation
//   - 404 when the connection has no registered owner
//   - 500 on storage failure
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()

	connID := c.GetHeader(middleware.HeaderConnectionID)
	if connID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "X-Connection-ID header required")
		return
	}

	// Enforce the serialized-body cap before any parsing.
	raw, within := readCappedBody(c, h.maxMessageBytes)
	if !within {
		fail(c, http.StatusBadRequest, ErrCodePayloadTooLarge,
			fmt.Sprintf("%s: max %d bytes", services.ErrPayloadTooLarge, h.maxMessageBytes))
		return
	}

	var req PostMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.ConversationID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversationId required")
		return
	}

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			if uid, err := svc.Sessions.Owner(ctx, connID); err == nil {
				if rec, err := repo.GetIdempotency(ctx, svc.DB, uid, req.ConversationID, idemKey, time.Now().UTC()); err == nil && rec != nil {
					if prev, err2 := repo.GetMessage(svc.DB, rec.MessageID); err2 == nil {
						c.Header("Idempotency-Replayed", "true")
						ok(c, http.StatusOK, PostMessageResponse{MessageID: prev.ID, Message: prev})
						return
					}
				}
			}
		}
	}

	m, err := h.msgSvc.Send(ctx, connID, services.SendRequest{
		ConversationID: req.ConversationID,
		Text:           req.Text,
		FileKey:        req.FileKey,
	})
	if err != nil {
		switch {
		case err == services.ErrConnectionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown connection")
		case err == services.ErrConversationRequired || err == services.ErrEmptyMessage:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case err == chat.ErrMalformedConversation:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case err == chat.ErrNotParticipant:
			fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, m.SenderID, m.ConversationID, idemKey, m.ID, http.StatusOK, ttl)
		}
	}

	ok(c, http.StatusOK, PostMessageResponse{MessageID: m.ID, Message: m})
}

// ListMessages returns a paginated page of a conversation's history, oldest
// first, with weak ETag support (If-None-Match may yield 304).
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")

	if _, _, err := chat.Participants(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.MessagesStats(ctx, db, conversationID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, conversationID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListPage(ctx, conversationID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
