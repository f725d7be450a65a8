package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
)

// Backend is an in-memory implementation of the pixelmill.BlobStore
// interface, intended for tests and development.
type Backend struct {
	mu              sync.RWMutex
	objects         map[string][]byte
	objectsMimeType map[string]string
}

// New creates a new in-memory storage backend
func New() pixelmill.BlobStore {
	return &Backend{
		objects:         make(map[string][]byte),
		objectsMimeType: make(map[string]string),
	}
}

// Upload uploads content directly
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[objectKey] = data
	if _, exists := b.objectsMimeType[objectKey]; !exists {
		b.objectsMimeType[objectKey] = "application/octet-stream"
	}
	return nil
}

// UploadWithParams uploads content with parameters
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params pixelmill.UploadParams) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[params.ObjectKey] = data
	b.objectsMimeType[params.ObjectKey] = params.MimeType
	return nil
}

// Download downloads content directly
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[objectKey]
	if !exists {
		return nil, pixelmill.ErrObjectNotFound
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete deletes content
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[objectKey]; !exists {
		return pixelmill.ErrObjectNotFound
	}

	delete(b.objects, objectKey)
	delete(b.objectsMimeType, objectKey)
	return nil
}

// GetDownloadURL returns a URL for downloading content.
// The in-memory implementation doesn't use URLs.
func (b *Backend) GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error) {
	return "", errors.New("direct download required for memory backend")
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*pixelmill.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[objectKey]
	if !exists {
		return nil, pixelmill.ErrObjectNotFound
	}

	return &pixelmill.ObjectMeta{
		Key:         objectKey,
		Size:        int64(len(data)),
		ContentType: b.objectsMimeType[objectKey],
	}, nil
}
