package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	StorageProviderGCS   = "gcs"
	StorageProviderLocal = "local"
)

// ContentStore keeps attachment bytes outside the database.
type ContentStore interface {
	// Save writes the object and returns the number of bytes stored.
	Save(ctx context.Context, objectKey string, r io.Reader, contentType string) (int64, error)
	Open(ctx context.Context, objectKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectKey string) error
}

func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderLocal
	}
	return provider
}

// NewContentStoreFromEnv picks the store selected by STORAGE_PROVIDER.
func NewContentStoreFromEnv(ctx context.Context) (ContentStore, error) {
	switch GetStorageProvider() {
	case StorageProviderGCS:
		bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
		if bucket == "" {
			return nil, errors.New("GCS_BUCKET is required")
		}
		return NewGCSStore(ctx, bucket)
	case StorageProviderLocal:
		dir := strings.TrimSpace(os.Getenv("UPLOAD_DIR"))
		if dir == "" {
			dir = "uploads"
		}
		return NewLocalStore(dir)
	default:
		return nil, fmt.Errorf("unsupported STORAGE_PROVIDER %q", GetStorageProvider())
	}
}

// allowed attachment types: fiscal documents, proofs of payment, office files
var allowedMimeTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/webp",
	"application/xml",
	"text/xml",
	"application/msword",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

const sniffLen = 3072

// SniffContent detects the MIME type from the first bytes of r and rejects types outside
// the allow-list. The returned reader replays the sniffed bytes.
func SniffContent(r io.Reader) (mime string, extension string, body io.Reader, err error) {
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", "", nil, err
	}
	header = header[:n]
	if n == 0 {
		return "", "", nil, NewFieldValidation("file", "empty")
	}

	detected := mimetype.Detect(header)
	for _, allowed := range allowedMimeTypes {
		if detected.Is(allowed) {
			return allowed, detected.Extension(), io.MultiReader(bytes.NewReader(header), r), nil
		}
	}
	return "", "", nil, &ValidationError{
		Message: "unsupported file type",
		Fields:  map[string]string{"file": detected.String()},
	}
}
