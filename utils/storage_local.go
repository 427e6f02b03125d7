package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes objects below a directory. Used in development and tests.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: root}, nil
}

// path roots the key under the store directory; Clean on an absolute path drops "..".
func (s *LocalStore) path(objectKey string) (string, error) {
	if strings.TrimSpace(objectKey) == "" {
		return "", NewFieldValidation("object_key", "required")
	}
	clean := filepath.Clean("/" + filepath.FromSlash(objectKey))
	return filepath.Join(s.root, clean), nil
}

func (s *LocalStore) Save(ctx context.Context, objectKey string, r io.Reader, contentType string) (int64, error) {
	p, err := s.path(objectKey)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(p)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(p)
		return 0, fmt.Errorf("write %s: %w", objectKey, err)
	}
	return n, nil
}

func (s *LocalStore) Open(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	p, err := s.path(objectKey)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NewNotFound("object", objectKey)
	}
	return f, err
}

func (s *LocalStore) Delete(ctx context.Context, objectKey string) error {
	p, err := s.path(objectKey)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
