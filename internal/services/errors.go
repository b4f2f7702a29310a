// Package services defines the business logic for sessions, messages, and
// uploads. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Session-related errors.
var (
	// ErrNoIdentity is returned when a connect attempt carries no resolvable
	// user identity, neither as an explicit parameter nor from an
	// authenticated context.
	ErrNoIdentity = errors.New("no resolvable identity")

	// ErrConnectionIDRequired is returned when a lifecycle or send operation
	// is missing the transport-assigned connection identifier.
	ErrConnectionIDRequired = errors.New("connection id required")

	// ErrConnectionNotFound indicates that a send referenced a connection
	// with no registered owner.
	ErrConnectionNotFound = errors.New("connection not found")
)

// Message-related errors.
var (
	// ErrConversationRequired is returned when a send carries no
	// conversation identifier.
	ErrConversationRequired = errors.New("conversation id required")

	// ErrEmptyMessage is returned when a send carries neither text nor a
	// file key.
	ErrEmptyMessage = errors.New("message must contain text or a file key")

	// ErrPayloadTooLarge is returned when the serialized send body exceeds
	// the configured byte cap.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Upload-related errors.
var (
	// ErrUploadFieldsRequired is returned when chatId, fileName or
	// contentType is missing from an upload request.
	ErrUploadFieldsRequired = errors.New("chatId, fileName, and contentType required")

	// ErrContentTypeNotAllowed is returned when the declared content type is
	// not on the upload allow-list.
	ErrContentTypeNotAllowed = errors.New("content type not allowed")
)
