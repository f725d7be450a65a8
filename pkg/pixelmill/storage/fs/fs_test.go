package fs_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/storage/fs"
)

func TestNew(t *testing.T) {
	t.Run("RequiresBaseDir", func(t *testing.T) {
		_, err := fs.New(fs.Config{})
		assert.Error(t, err)
	})

	t.Run("CreatesBaseDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "images")
		_, err := fs.New(fs.Config{BaseDir: dir})
		require.NoError(t, err)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	backend, err := fs.New(fs.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	content := []byte("jpeg bytes go here")
	key := "images/owner/img/original.jpg"
	require.NoError(t, backend.Upload(ctx, key, bytes.NewReader(content)))

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	t.Run("Overwrite", func(t *testing.T) {
		replacement := []byte("edited bytes")
		require.NoError(t, backend.Upload(ctx, key, bytes.NewReader(replacement)))

		rc, err := backend.Download(ctx, key)
		require.NoError(t, err)
		defer rc.Close()

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, replacement, got)
	})

	t.Run("MissingObject", func(t *testing.T) {
		_, err := backend.Download(ctx, "images/owner/other/original.jpg")
		assert.ErrorIs(t, err, pixelmill.ErrObjectNotFound)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()
	backend, err := fs.New(fs.Config{BaseDir: baseDir})
	require.NoError(t, err)

	key := "images/owner/img/thumb.jpg"
	require.NoError(t, backend.Upload(ctx, key, bytes.NewReader([]byte("x"))))
	require.NoError(t, backend.Delete(ctx, key))

	_, err = backend.Download(ctx, key)
	assert.ErrorIs(t, err, pixelmill.ErrObjectNotFound)

	t.Run("CleansEmptyDirectories", func(t *testing.T) {
		_, err := os.Stat(filepath.Join(baseDir, "images"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("MissingObject", func(t *testing.T) {
		err := backend.Delete(ctx, key)
		assert.ErrorIs(t, err, pixelmill.ErrObjectNotFound)
	})
}

func TestGetDownloadURL(t *testing.T) {
	ctx := context.Background()

	t.Run("WithoutPrefix", func(t *testing.T) {
		backend, err := fs.New(fs.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)

		_, err = backend.GetDownloadURL(ctx, "images/a/original.jpg", "")
		assert.Error(t, err)
	})

	t.Run("WithPrefix", func(t *testing.T) {
		backend, err := fs.New(fs.Config{
			BaseDir:   t.TempDir(),
			URLPrefix: "http://localhost:8080/files",
		})
		require.NoError(t, err)

		url, err := backend.GetDownloadURL(ctx, "images/a/original.jpg", "")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/files/images/a/original.jpg", url)

		url, err = backend.GetDownloadURL(ctx, "images/a/original.jpg", "sunset.jpg")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/files/images/a/original.jpg?filename=sunset.jpg", url)
	})
}

func TestGetObjectMeta(t *testing.T) {
	ctx := context.Background()
	backend, err := fs.New(fs.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	content := []byte("<html><body>hi</body></html>")
	key := "pages/index.html"
	require.NoError(t, backend.Upload(ctx, key, bytes.NewReader(content)))

	meta, err := backend.GetObjectMeta(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, meta.Key)
	assert.Equal(t, int64(len(content)), meta.Size)
	assert.Contains(t, meta.ContentType, "text/html")

	_, err = backend.GetObjectMeta(ctx, "pages/missing.html")
	assert.ErrorIs(t, err, pixelmill.ErrObjectNotFound)
}
