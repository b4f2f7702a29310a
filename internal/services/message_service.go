// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the send-message flow: it authenticates the sender by connection
// ownership, resolves the recipient from the conversation key, persists the
// message, and hands it to the fan-out engine. Durability precedes delivery:
// once the row is written the send has succeeded, whatever happens to the
// individual pushes.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// conversation/sender identifiers and pagination parameters where applicable.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dm-backend/internal/chat"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/fanout"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// SendRequest carries the validated fields of one send-message call.
type SendRequest struct {
	ConversationID string
	Text           string
	FileKey        string
}

// MessageService coordinates message persistence and best-effort delivery.
type MessageService struct {
	DB       *gorm.DB
	Sessions *SessionService
	Fanout   *fanout.Engine
	Log      zerolog.Logger

	// Now is a clock seam for tests; defaults to time.Now().UTC.
	Now func() time.Time
}

func (s *MessageService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Send validates the request, resolves sender and recipient, persists the
// message, and fans it out to the recipient's live connections.
//
// Error semantics:
//   - ErrConnectionNotFound when connectionID has no registered owner.
//   - ErrConversationRequired / ErrEmptyMessage for invalid input.
//   - chat.ErrMalformedConversation / chat.ErrNotParticipant from recipient
//     resolution.
//   - A storage error if the message cannot be persisted.
//
// Delivery failures never surface here: once the row is written, fan-out
// outcomes (offline recipient, dead connections, transport hiccups) are
// contained and only logged.
func (s *MessageService) Send(ctx context.Context, connectionID string, req SendRequest) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("connection.id", connectionID),
			attribute.String("conversation.id", req.ConversationID),
		),
	)
	defer span.End()

	if strings.TrimSpace(connectionID) == "" {
		return nil, ErrConnectionIDRequired
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		return nil, ErrConversationRequired
	}
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.FileKey) == "" {
		return nil, ErrEmptyMessage
	}

	// Authenticate the sender by connection ownership.
	senderID, err := s.Sessions.Owner(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	recipientID, err := chat.ResolveRecipient(req.ConversationID, senderID)
	if err != nil {
		return nil, err
	}

	msg, err := repo.CreateMessage(s.DB.WithContext(ctx), req.ConversationID, senderID, recipientID, req.Text, req.FileKey, s.now())
	if err != nil {
		return nil, err
	}

	res, err := s.Fanout.Deliver(ctx, msg, recipientID)
	if err != nil {
		// The message is durable; a registry read failure must not fail the send.
		s.Log.Error().Err(err).Str("message_id", msg.ID).Msg("fan-out aborted")
	}
	s.Log.Info().
		Str("event", "message_sent").
		Str("message_id", msg.ID).
		Str("conversation_id", msg.ConversationID).
		Str("sender_id", senderID).
		Int("delivered", res.Delivered).
		Int("pruned", res.Pruned).
		Msg("message sent")

	return msg, nil
}

// ListPage returns paginated messages for a conversation, oldest first. The
// conversation key must be well-formed; unknown conversations read as empty.
func (s *MessageService) ListPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, _, err := chat.Participants(conversationID); err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountMessages(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), conversationID, offset, pageSize)
	return items, total, err
}
