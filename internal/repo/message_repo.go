// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model. The message store is append-only: rows are created on a successful
// send and never updated or deleted here.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// CreateMessage appends a new message row with a fresh UUID and the given
// acceptance time. Validation (non-empty conversation, at least one content
// field) belongs to the service layer; this function persists what it is
// given.
func CreateMessage(db *gorm.DB, conversationID, senderID, recipientID, text, fileKey string, now time.Time) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Text:           text,
		FileKey:        fileKey,
		Status:         domain.MessageStatusSent,
		CreatedAt:      now,
	}
	return m, db.Create(m).Error
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC)
// so concurrent sends landing on the same timestamp still read back
// deterministically.
func ListMessagesPage(db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
