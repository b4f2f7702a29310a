// Package services – SessionService
//
// This file implements SessionService, the application-level component that
// owns the connection lifecycle. A connection is either absent or registered;
// connect events create (or refresh) the registry entry and disconnect events
// remove it. Both transitions are idempotent, because the transport layer is
// authoritative and retries or late disconnects are normal.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// the connection and user identifiers.
package services

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// DefaultConnectionTTL bounds how long a registry entry survives without an
// explicit disconnect.
const DefaultConnectionTTL = 24 * time.Hour

// SessionService coordinates connection registry writes for connect and
// disconnect transport events.
type SessionService struct {
	DB  *gorm.DB
	TTL time.Duration

	// Now is a clock seam for tests; defaults to time.Now().UTC.
	Now func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *SessionService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultConnectionTTL
}

// Connect registers connectionID as owned by userID. The identity must have
// been resolved by the caller (explicit parameter or authenticated context);
// a blank identity refuses the transition with ErrNoIdentity. Re-connecting
// an already registered connection is an upsert that refreshes the expiry.
func (s *SessionService) Connect(ctx context.Context, connectionID, userID string) (*domain.Connection, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Connect",
		trace.WithAttributes(
			attribute.String("connection.id", connectionID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if strings.TrimSpace(connectionID) == "" {
		return nil, ErrConnectionIDRequired
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrNoIdentity
	}

	return repo.PutConnection(ctx, s.DB, connectionID, userID, s.now(), s.ttl())
}

// Disconnect removes the registry entry for connectionID. Disconnecting a
// connection that was never registered (or already expired) succeeds: the
// disconnect-after-expiry race is normal.
func (s *SessionService) Disconnect(ctx context.Context, connectionID string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Disconnect",
		trace.WithAttributes(attribute.String("connection.id", connectionID)),
	)
	defer span.End()

	if strings.TrimSpace(connectionID) == "" {
		return ErrConnectionIDRequired
	}
	return repo.DeleteConnection(ctx, s.DB, connectionID)
}

// Owner resolves the user that owns connectionID, or ErrConnectionNotFound.
// This is how send-message authenticates its sender without a separate auth
// system.
func (s *SessionService) Owner(ctx context.Context, connectionID string) (string, error) {
	conn, err := repo.GetConnection(ctx, s.DB, connectionID, s.now())
	if err != nil {
		if err == repo.ErrNotFound {
			return "", ErrConnectionNotFound
		}
		return "", err
	}
	return conn.UserID, nil
}

// SweepExpired prunes expired registry rows. Intended to run periodically
// from main; fan-out self-healing remains the primary garbage collector.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	return repo.DeleteExpiredConnections(ctx, s.DB, s.now())
}
