// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the connection
// registry: the mapping from live transport connection identifiers to the
// users that own them.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - GetConnection returns ErrNotFound (gorm.ErrRecordNotFound) when the
//     connection is unknown or already expired.
//   - DeleteConnection is a no-op for missing keys: disconnect-after-expiry
//     is a normal race, never an error.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// PutConnection creates or overwrites the registry record for connectionID,
// owned by userID, with its lifetime anchored at now. Re-registering an
// existing connection is an idempotent upsert and refreshes the expiry.
func PutConnection(ctx context.Context, db *gorm.DB, connectionID, userID string, now time.Time, ttl time.Duration) (*domain.Connection, error) {
	c := &domain.Connection{
		ID:          connectionID,
		UserID:      userID,
		ConnectedAt: now,
		ExpiresAt:   now.Add(ttl),
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(c).Error
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteConnection removes the registry record for connectionID if present.
// Deleting a missing record succeeds silently.
func DeleteConnection(ctx context.Context, db *gorm.DB, connectionID string) error {
	return db.WithContext(ctx).
		Where("id = ?", connectionID).
		Delete(&domain.Connection{}).Error
}

// GetConnection fetches the registry record for connectionID, treating
// expired rows as absent. Returns ErrNotFound when missing.
func GetConnection(ctx context.Context, db *gorm.DB, connectionID string, now time.Time) (*domain.Connection, error) {
	var c domain.Connection
	err := db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", connectionID, now).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConnectionsByUser returns every unexpired connection owned by userID.
// The result is a candidate set, not a guarantee of reachability: entries may
// already be dead at the transport layer and are pruned when delivery fails.
func ListConnectionsByUser(ctx context.Context, db *gorm.DB, userID string, now time.Time) ([]domain.Connection, error) {
	var out []domain.Connection
	err := db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Find(&out).Error
	return out, err
}

// DeleteExpiredConnections removes all registry records whose expiry has
// passed and reports how many were pruned. Fan-out self-healing is the
// primary garbage collector; this sweep only bounds how long abandoned rows
// linger.
func DeleteExpiredConnections(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.Connection{})
	return res.RowsAffected, res.Error
}
