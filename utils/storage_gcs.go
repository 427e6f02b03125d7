package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

type GCSStore struct {
	client *storage.Client
	bucket string
}

func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("gcs bucket %q not found or not accessible: %w", bucket, err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Save(ctx context.Context, objectKey string, r io.Reader, contentType string) (int64, error) {
	wc := s.client.Bucket(s.bucket).Object(objectKey).NewWriter(ctx)
	wc.ContentType = contentType
	n, err := io.Copy(wc, r)
	if err != nil {
		_ = wc.Close()
		return 0, fmt.Errorf("upload %s: %w", objectKey, err)
	}
	if err := wc.Close(); err != nil {
		return 0, fmt.Errorf("upload %s: %w", objectKey, err)
	}
	return n, nil
}

func (s *GCSStore) Open(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(s.bucket).Object(objectKey).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, NewNotFound("object", objectKey)
	}
	return rc, err
}

func (s *GCSStore) Delete(ctx context.Context, objectKey string) error {
	err := s.client.Bucket(s.bucket).Object(objectKey).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
