// Package services – UploadService
//
// This file implements the file-upload broker: a stateless request/response
// operation that hands the client a time-limited presigned PUT URL for an
// S3-compatible object store, plus the object key to reference from a later
// send-message call. Nothing is persisted here and the blob store itself is
// an external collaborator.
package services

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultUploadURLExpiry bounds how long an issued PUT URL stays valid.
const DefaultUploadURLExpiry = 15 * time.Minute

// allowedContentTypes is the upload allow-list: common image types, PDF,
// plain text, and legacy/modern Word documents.
var allowedContentTypes = map[string]struct{}{
	"image/jpeg":         {},
	"image/png":          {},
	"image/gif":          {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"text/plain": {},
}

// Presigner issues presigned PUT URLs. *minio.Client satisfies it; tests use
// a fake.
type Presigner interface {
	PresignedPutObject(ctx context.Context, bucketName, objectName string, expires time.Duration) (*url.URL, error)
}

// Upload is the broker's successful response: where to PUT the file and the
// key to reference it by.
type Upload struct {
	UploadURL string
	FileKey   string
}

// UploadService issues presigned upload URLs against a fixed bucket.
type UploadService struct {
	Store  Presigner
	Bucket string
	Expiry time.Duration

	// NewID is a seam for deterministic keys in tests; defaults to a UUID.
	NewID func() string
}

func (s *UploadService) expiry() time.Duration {
	if s.Expiry > 0 {
		return s.Expiry
	}
	return DefaultUploadURLExpiry
}

func (s *UploadService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// CreateUploadURL validates the request and returns a presigned PUT URL.
//
// The object key is "{chatId}/{uniqueId}.{ext}", where ext comes from the
// last dot-segment of fileName, or "bin" when the name has no extension.
func (s *UploadService) CreateUploadURL(ctx context.Context, chatID, fileName, contentType string) (*Upload, error) {
	tr := otel.Tracer("services/UploadService")
	ctx, span := tr.Start(ctx, "CreateUploadURL",
		trace.WithAttributes(attribute.String("chat.id", chatID)),
	)
	defer span.End()

	if strings.TrimSpace(chatID) == "" || strings.TrimSpace(fileName) == "" || strings.TrimSpace(contentType) == "" {
		return nil, ErrUploadFieldsRequired
	}
	if _, ok := allowedContentTypes[contentType]; !ok {
		return nil, ErrContentTypeNotAllowed
	}

	ext := "bin"
	if i := strings.LastIndex(fileName, "."); i >= 0 && i < len(fileName)-1 {
		ext = fileName[i+1:]
	}
	fileKey := chatID + "/" + s.newID() + "." + ext

	u, err := s.Store.PresignedPutObject(ctx, s.Bucket, fileKey, s.expiry())
	if err != nil {
		return nil, err
	}
	return &Upload{UploadURL: u.String(), FileKey: fileKey}, nil
}
