// Package archive persists raw fetched payloads (HTML pages, feed bodies)
// as blobs so a pipeline stage can be replayed without refetching.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
)

// BlobStore writes one raw payload under a path and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// Put is a convenience wrapper for byte payloads.
func Put(ctx context.Context, store BlobStore, path, contentType string, data []byte) (string, error) {
	return store.PutObject(ctx, path, contentType, bytes.NewReader(data))
}

// Memory keeps blobs in process memory, for tests and development.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (s *Memory) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading blob data: %w", err)
	}
	s.mu.Lock()
	s.data[path] = append([]byte(nil), payload...)
	s.mu.Unlock()
	return "memory://" + path, nil
}

// Get returns a stored blob, or nil when absent.
func (s *Memory) Get(path string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[path]
}

// Local writes blobs under a base directory on the local filesystem.
type Local struct {
	baseDir string
}

// NewLocal creates the base directory if needed.
func NewLocal(baseDir string) (*Local, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &Local{baseDir: baseDir}, nil
}

func (s *Local) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(s.baseDir, path)

	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("creating parent directories: %w", err)
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading blob data: %w", err)
	}
	if err := os.WriteFile(fullPath, payload, 0o600); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}
	return "file://" + fullPath, nil
}

// GCS writes blobs to a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS wraps an existing storage client.
func NewGCS(client *storage.Client, bucket string) (*GCS, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (s *GCS) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copying object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
