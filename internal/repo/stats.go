// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// MessagesStats returns aggregate metadata for messages within a
// conversation: the total number of rows and the maximum UpdatedAt timestamp
// among those rows. When the conversation has no messages, the returned
// count is 0 and maxUpdatedAt is nil.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// ConnectionsStats returns the number of unexpired registry rows for a user.
// Used by the health/debug surface and by tests asserting self-healing.
func ConnectionsStats(ctx context.Context, db *gorm.DB, userID string, now time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Connection{}).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Count(&count).Error
	return count, err
}
