// Package fanout delivers a freshly persisted message to every live
// connection of its recipient. Delivery is best-effort and at-most-once per
// currently-known connection: the registry only lists candidates, and the
// engine is the primary garbage collector for candidates that turn out to be
// dead. One connection's failure never blocks, skips, or aborts delivery to
// the others, and no delivery outcome ever fails the send request that
// triggered it.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/push"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

var pushOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dm_push_deliveries_total",
		Help: "Push delivery attempts by outcome (delivered, gone, failed).",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(pushOutcomes)
}

// Payload is the transport-level notification written to each recipient
// connection. Timestamp is the message acceptance time in Unix milliseconds.
type Payload struct {
	Type           string `json:"type"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
	FileKey        string `json:"fileKey"`
	Timestamp      int64  `json:"timestamp"`
}

// Result summarizes one delivery attempt for logging and tests.
type Result struct {
	Candidates int // connections listed for the recipient
	Delivered  int // successful pushes
	Pruned     int // connections removed because the transport reported them gone
	Failed     int // pushes that failed for any other reason (abandoned, no retry)
}

// Engine fans a message out to its recipient's live connections.
//
// DB is the connection registry handle; Pusher is the transport port. Now is
// a clock seam for tests and defaults to time.Now when nil.
type Engine struct {
	DB     *gorm.DB
	Pusher push.Pusher
	Log    zerolog.Logger
	Now    func() time.Time
}

// Deliver looks up every live connection of recipientID and pushes msg to
// each. A push failing with push.ErrGone removes that connection from the
// registry (self-healing) and counts as pruned; any other push failure is
// logged and abandoned. Deliver only returns an error when the registry
// itself cannot be read; individual push failures and an offline recipient
// (zero candidates) are normal outcomes.
func (e *Engine) Deliver(ctx context.Context, msg *domain.Message, recipientID string) (Result, error) {
	tr := otel.Tracer("fanout/Engine")
	ctx, span := tr.Start(ctx, "Deliver",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("recipient.id", recipientID),
		),
	)
	defer span.End()

	now := time.Now().UTC()
	if e.Now != nil {
		now = e.Now()
	}

	var res Result
	conns, err := repo.ListConnectionsByUser(ctx, e.DB, recipientID, now)
	if err != nil {
		return res, err
	}
	res.Candidates = len(conns)
	if len(conns) == 0 {
		// Offline recipient: the message is durable, history catches them up.
		return res, nil
	}

	payload, err := json.Marshal(Payload{
		Type:           "message",
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		FileKey:        msg.FileKey,
		Timestamp:      msg.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return res, err
	}

	for _, conn := range conns {
		err := e.Pusher.Push(ctx, conn.ID, payload)
		switch {
		case err == nil:
			res.Delivered++
			pushOutcomes.WithLabelValues("delivered").Inc()
		case errors.Is(err, push.ErrGone):
			res.Pruned++
			pushOutcomes.WithLabelValues("gone").Inc()
			if derr := repo.DeleteConnection(ctx, e.DB, conn.ID); derr != nil {
				e.Log.Error().Err(derr).Str("connection_id", conn.ID).Msg("failed to prune stale connection")
			} else {
				e.Log.Info().Str("connection_id", conn.ID).Str("user_id", recipientID).Msg("removed stale connection")
			}
		default:
			res.Failed++
			pushOutcomes.WithLabelValues("failed").Inc()
			e.Log.Error().Err(err).Str("connection_id", conn.ID).Str("message_id", msg.ID).Msg("push failed")
		}
	}

	span.SetAttributes(
		attribute.Int("fanout.candidates", res.Candidates),
		attribute.Int("fanout.delivered", res.Delivered),
		attribute.Int("fanout.pruned", res.Pruned),
	)
	return res, nil
}
