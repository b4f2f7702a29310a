// Session HTTP handlers.
//
// This file exposes the connection lifecycle endpoints, the HTTP form of the
// gateway connect/disconnect callbacks:
//   - POST   /connections       (register a connection for the calling identity)
//   - DELETE /connections/{id}  (remove a connection; idempotent)
//
// The same lifecycle also runs implicitly on the /ws upgrade path; these
// endpoints exist for transports that signal connect/disconnect out-of-band.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ConnectRequest is the JSON payload for registering a connection.
type ConnectRequest struct {
	// ConnectionID is the transport-assigned session identifier.
	ConnectionID string `json:"connectionId" binding:"required,min=1" example:"L0SM9cOFvHcCIhw="`
}

// ConnectResponse echoes the registered connection.
type ConnectResponse struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// Connect registers a connection for the calling identity.
//
// Identity comes from the userId query parameter or an authenticated context;
// requests with no resolvable identity receive 401. Registering an existing
// connection id refreshes its expiry rather than failing.
func (h *Handlers) Connect(c *gin.Context) {
	uid := identity(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "no resolvable identity")
		return
	}

	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ConnectionID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "connectionId required")
		return
	}

	conn, err := h.sessionSvc.Connect(c.Request.Context(), req.ConnectionID, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeConnectFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ConnectResponse{ConnectionID: conn.ID, UserID: conn.UserID})
}

// Disconnect removes a connection from the registry.
//
// Disconnecting a connection that was never registered (or already expired)
// succeeds; disconnect-after-expiry is a normal race, not an error.
func (h *Handlers) Disconnect(c *gin.Context) {
	connID := c.Param("id")

	if err := h.sessionSvc.Disconnect(c.Request.Context(), connID); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	c.Status(http.StatusOK)
}
