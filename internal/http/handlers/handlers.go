// Handler wiring.
//
// This file defines the service contracts consumed by the HTTP layer and the
// Handlers aggregate that binds them. Handlers are transport-thin: they
// validate and normalize inputs, delegate to application services, and
// translate results into HTTP responses.
package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// SessionService defines the connection lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SessionService interface {
	// Connect registers (or refreshes) a connection owned by userID.
	Connect(ctx context.Context, connectionID, userID string) (*domain.Connection, error)
	// Disconnect removes a connection; absent connections are a no-op.
	Disconnect(ctx context.Context, connectionID string) error
}

// MessageService defines message sending and retrieval operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// Send persists one message from the owner of connectionID and fans it
	// out to the recipient's live connections.
	Send(ctx context.Context, connectionID string, req services.SendRequest) (*domain.Message, error)
	// ListPage returns a page of messages within a conversation and the total count.
	ListPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
}

// UploadService defines the upload-brokering operation.
type UploadService interface {
	// CreateUploadURL returns a presigned PUT URL and the object key to
	// reference from a later send.
	CreateUploadURL(ctx context.Context, chatID, fileName, contentType string) (*services.Upload, error)
}

// Handlers groups HTTP endpoints for connections, messages, and uploads.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	sessionSvc SessionService
	msgSvc     MessageService
	uploadSvc  UploadService

	// maxMessageBytes caps the serialized send body; values <= 0 disable the cap.
	maxMessageBytes int
}

// New constructs and returns a Handlers instance bound to the given services.
func New(sessionSvc SessionService, msgSvc MessageService, uploadSvc UploadService, maxMessageBytes int) *Handlers {
	return &Handlers{
		sessionSvc:      sessionSvc,
		msgSvc:          msgSvc,
		uploadSvc:       uploadSvc,
		maxMessageBytes: maxMessageBytes,
	}
}

// identity resolves the caller's user identity: the Gin context value set by
// upstream auth middleware when present, then the userId query parameter, then
// the X-User-ID header. Returns "" when no identity is resolvable; connect
// handlers translate that into 401.
func identity(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if uid := strings.TrimSpace(c.Query("userId")); uid != "" {
		return uid
	}
	if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}
