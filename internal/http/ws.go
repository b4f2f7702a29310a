// WebSocket endpoint.
//
// This file upgrades GET /ws into a long-lived session: the handshake runs
// the connect lifecycle (a registry entry under a freshly minted connection
// id), inbound {action:"sendMessage"} frames drive the message service, and
// the socket closing runs the disconnect lifecycle. The upgraded client is
// attached to the hub so the fan-out engine can reach it.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-dm-backend/internal/chat"
	"github.com/tbourn/go-dm-backend/internal/http/handlers"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS posture is handled at the HTTP layer; the browser's Origin header
	// is not an authentication signal for this API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsHandler returns the Gin handler for the WebSocket gateway.
//
// Identity resolution mirrors the Connect endpoint: userId query parameter or
// an authenticated context value, with 401 before the upgrade when neither is
// present.
func wsHandler(hub *ws.Hub, sessions *services.SessionService, messages *services.MessageService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Query("userId")
		if uid == "" {
			if v, ok := c.Get("userID"); ok {
				uid, _ = v.(string)
			}
		}
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthorized",
				"message": "no resolvable identity",
			})
			return
		}

		// Register before upgrading: once the handshake completes the peer may
		// immediately address this user, so the registry entry must exist.
		connID := uuid.NewString()
		if _, err := sessions.Connect(c.Request.Context(), connID, uid); err != nil {
			log.Error().Err(err).Str("user_id", uid).Msg("connect lifecycle failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "connect_failed",
				"message": "could not register connection",
			})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the handshake error response.
			_ = sessions.Disconnect(c.Request.Context(), connID)
			return
		}

		onFrame := func(connectionID string, frame ws.InboundFrame) []byte {
			msg, err := messages.Send(context.Background(), connectionID, services.SendRequest{
				ConversationID: frame.ConversationID,
				Text:           frame.Text,
				FileKey:        frame.FileKey,
			})
			if err != nil {
				return frameError(err)
			}
			ack, _ := json.Marshal(map[string]string{
				"type":      "ack",
				"messageId": msg.ID,
			})
			return ack
		}
		onClose := func() {
			hub.Remove(connID)
			if err := sessions.Disconnect(context.Background(), connID); err != nil {
				log.Error().Err(err).Str("connection_id", connID).Msg("disconnect lifecycle failed")
			}
			log.Info().
				Str("event", "connection_closed").
				Str("connection_id", connID).
				Str("user_id", uid).
				Msg("connection closed")
		}

		client := ws.NewClient(connID, uid, conn, onFrame, onClose)
		hub.Add(client)
		client.Start()

		log.Info().
			Str("event", "connection_established").
			Str("connection_id", connID).
			Str("user_id", uid).
			Msg("connection established")
	}
}

// frameError maps a send failure to the error frame echoed to the sender.
func frameError(err error) []byte {
	code := handlers.ErrCodeSendFailed
	switch {
	case errors.Is(err, services.ErrConnectionNotFound):
		code = handlers.ErrCodeNotFound
	case errors.Is(err, services.ErrConversationRequired),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, chat.ErrMalformedConversation):
		code = handlers.ErrCodeBadRequest
	case errors.Is(err, chat.ErrNotParticipant):
		code = handlers.ErrCodeForbidden
	}
	out, _ := json.Marshal(map[string]string{
		"type":    "error",
		"code":    code,
		"message": err.Error(),
	})
	return out
}
