package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

// fakePresigner returns a deterministic URL and records the requested key.
type fakePresigner struct {
	bucket string
	key    string
	expiry time.Duration
	err    error
}

func (f *fakePresigner) PresignedPutObject(_ context.Context, bucket, key string, expires time.Duration) (*url.URL, error) {
	f.bucket, f.key, f.expiry = bucket, key, expires
	if f.err != nil {
		return nil, f.err
	}
	return url.Parse("https://uploads.example.com/" + bucket + "/" + key + "?sig=abc")
}

func newUploadService(p Presigner) *UploadService {
	return &UploadService{
		Store:  p,
		Bucket: "dm-uploads",
		NewID:  func() string { return "fixed-id" },
	}
}

func TestCreateUploadURL_KeyFormat(t *testing.T) {
	p := &fakePresigner{}
	svc := newUploadService(p)

	up, err := svc.CreateUploadURL(context.Background(), "alice#bob", "photo.PNG", "image/png")
	if err != nil {
		t.Fatalf("CreateUploadURL: %v", err)
	}
	if up.FileKey != "alice#bob/fixed-id.PNG" {
		t.Fatalf("fileKey = %q", up.FileKey)
	}
	if !strings.Contains(up.UploadURL, "dm-uploads") {
		t.Fatalf("uploadUrl = %q", up.UploadURL)
	}
	if p.expiry != DefaultUploadURLExpiry {
		t.Fatalf("expiry = %v", p.expiry)
	}
}

func TestCreateUploadURL_NoExtensionFallsBackToBin(t *testing.T) {
	svc := newUploadService(&fakePresigner{})
	up, err := svc.CreateUploadURL(context.Background(), "alice#bob", "README", "text/plain")
	if err != nil {
		t.Fatalf("CreateUploadURL: %v", err)
	}
	if !strings.HasSuffix(up.FileKey, "/fixed-id.bin") {
		t.Fatalf("fileKey = %q", up.FileKey)
	}
}

func TestCreateUploadURL_MissingFields(t *testing.T) {
	svc := newUploadService(&fakePresigner{})
	cases := [][3]string{
		{"", "a.png", "image/png"},
		{"alice#bob", "", "image/png"},
		{"alice#bob", "a.png", ""},
	}
	for _, c := range cases {
		if _, err := svc.CreateUploadURL(context.Background(), c[0], c[1], c[2]); !errors.Is(err, ErrUploadFieldsRequired) {
			t.Fatalf("%v: err = %v, want ErrUploadFieldsRequired", c, err)
		}
	}
}

func TestCreateUploadURL_ContentTypeAllowList(t *testing.T) {
	svc := newUploadService(&fakePresigner{})

	for _, ct := range []string{"application/zip", "video/mp4", "image/svg+xml"} {
		if _, err := svc.CreateUploadURL(context.Background(), "alice#bob", "f.bin", ct); !errors.Is(err, ErrContentTypeNotAllowed) {
			t.Fatalf("%s: err = %v, want ErrContentTypeNotAllowed", ct, err)
		}
	}
	for _, ct := range []string{"image/jpeg", "application/pdf", "text/plain",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document"} {
		if _, err := svc.CreateUploadURL(context.Background(), "alice#bob", "f.doc", ct); err != nil {
			t.Fatalf("%s rejected: %v", ct, err)
		}
	}
}

func TestCreateUploadURL_StoreError(t *testing.T) {
	svc := newUploadService(&fakePresigner{err: errors.New("s3 down")})
	if _, err := svc.CreateUploadURL(context.Background(), "alice#bob", "a.png", "image/png"); err == nil {
		t.Fatalf("expected store error to propagate")
	}
}
