package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
)

// Backend is a filesystem implementation of the pixelmill.BlobStore
// interface. It is the local-fallback store: object keys map directly to
// paths under the base directory.
type Backend struct {
	baseDir   string
	urlPrefix string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir   string // Base directory for storing files
	URLPrefix string // Optional URL prefix for download URLs
}

// New creates a new filesystem storage backend
func New(config Config) (pixelmill.BlobStore, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir:   config.BaseDir,
		urlPrefix: config.URLPrefix,
	}, nil
}

// Upload writes content directly to the filesystem
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	filePath := filepath.Join(b.baseDir, objectKey)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// UploadWithParams uploads content with additional parameters. The MIME
// type is not stored separately on the filesystem; it is detected on read.
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params pixelmill.UploadParams) error {
	return b.Upload(ctx, params.ObjectKey, reader)
}

// Download opens the stored file for reading
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	filePath := filepath.Join(b.baseDir, objectKey)

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, pixelmill.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes the stored file and cleans up empty parent directories
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	filePath := filepath.Join(b.baseDir, objectKey)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return pixelmill.ErrObjectNotFound
	}

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))

	return nil
}

// GetDownloadURL returns a URL for downloading content. Requires a
// configured URL prefix pointing at a file server that serves baseDir.
func (b *Backend) GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error) {
	if b.urlPrefix == "" {
		return "", errors.New("direct download required for filesystem backend")
	}

	if downloadFilename != "" {
		return fmt.Sprintf("%s/%s?filename=%s", b.urlPrefix, objectKey, downloadFilename), nil
	}
	return fmt.Sprintf("%s/%s", b.urlPrefix, objectKey), nil
}

// GetObjectMeta retrieves metadata for an object in the filesystem
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*pixelmill.ObjectMeta, error) {
	filePath := filepath.Join(b.baseDir, objectKey)

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, pixelmill.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	contentType := "application/octet-stream"
	if file, err := os.Open(filePath); err == nil {
		defer file.Close()
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			contentType = http.DetectContentType(buffer[:n])
		}
	}

	return &pixelmill.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}, nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
