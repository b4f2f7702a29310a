// Package domain defines the persistence models for live connections and
// direct messages. These types are mapped with GORM and form the core data
// layer of the messaging backend.
package domain

import "time"

// MessageStatusSent is the only delivery status this subsystem records.
// Delivery confirmation is not modeled; messages are written once as "sent".
const MessageStatusSent = "sent"

// Connection represents one live client session registered by the transport
// layer. The registry is a cache of "who is reachable now", not a source of
// truth about users: the transport lifecycle is authoritative and records are
// removed on disconnect, on a failed delivery that reports the destination
// gone, or lazily once ExpiresAt has passed.
//
// Fields:
//   - ID: opaque connection identifier assigned by the transport layer.
//   - UserID: identity of the owning user; indexed for fan-out lookups.
//   - ConnectedAt: time the session was established.
//   - ExpiresAt: absolute time after which the record is eligible for
//     garbage collection even without an explicit disconnect.
type Connection struct {
	ID          string    `json:"connection_id" gorm:"type:varchar(128);primaryKey"`
	UserID      string    `json:"user_id"       gorm:"type:varchar(64);not null;index:idx_user_connections"`
	ConnectedAt time.Time `json:"connected_at"`
	ExpiresAt   time.Time `json:"expires_at"    gorm:"index"`
}

// TableName returns the database table name for Connection.
func (Connection) TableName() string { return "connections" }

// Message represents a single direct message within a conversation. Messages
// are append-only: they are created on a successful send and never mutated or
// deleted by this subsystem.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConversationID: canonical conversation key the message belongs to
//     (indexed together with CreatedAt for ordered history reads).
//   - SenderID / RecipientID: the two participants; always distinct.
//   - Text: message body; optional when FileKey is set.
//   - FileKey: reference to an uploaded blob; optional when Text is set.
//   - Status: delivery status, currently always "sent".
type Message struct {
	ID             string    `json:"message_id"         gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversation_id"    gorm:"type:varchar(160);not null;index:idx_conv_msgs,priority:1"`
	SenderID       string    `json:"sender_id"          gorm:"type:varchar(64);not null"`
	RecipientID    string    `json:"recipient_id"       gorm:"type:varchar(64);not null"`
	Text           string    `json:"text,omitempty"     gorm:"type:text"`
	FileKey        string    `json:"file_key,omitempty" gorm:"type:varchar(255)"`
	Status         string    `json:"status"             gorm:"type:varchar(16);not null;default:'sent'"`
	CreatedAt      time.Time `json:"created_at"         gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
