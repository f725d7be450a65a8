package pixelmill_test

import (
	"bytes"
	"context"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
	repomemory "github.com/pixelmill/pixelmill/pkg/pixelmill/repo/memory"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/storage/fs"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/transform"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 30, G: 160, B: 220, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestNewRequiresRepositoryAndResolver(t *testing.T) {
	_, err := pixelmill.New()
	require.Error(t, err)

	_, err = pixelmill.New(pixelmill.WithRepository(repomemory.New()))
	require.Error(t, err)
}

func TestUploadImage(t *testing.T) {
	ctx := context.Background()
	svc, resolver := newTestService(t, &stubGenerator{})

	ownerID := uuid.New()
	img, err := svc.UploadImage(ctx, pixelmill.UploadImageRequest{
		OwnerID:  ownerID,
		Data:     testPNG(t, 320, 240),
		FileName: "source.png",
	})
	require.NoError(t, err)

	assert.Equal(t, ownerID, img.OwnerID)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, 320, img.Width)
	assert.Equal(t, 240, img.Height)
	assert.Nil(t, img.Generation)

	assert.True(t, strings.HasSuffix(img.StorageKey, "original.png"), img.StorageKey)
	assert.True(t, strings.HasSuffix(img.ThumbnailKey, "thumb.jpg"), img.ThumbnailKey)
	require.Len(t, img.Responsive, 3)
	assert.Equal(t, []int{640, 1024, 1600},
		[]int{img.Responsive[0].Width, img.Responsive[1].Width, img.Responsive[2].Width})

	t.Run("BlobsRetrievable", func(t *testing.T) {
		for _, key := range []string{img.StorageKey, img.ThumbnailKey, img.Responsive[0].Key} {
			data, err := resolver.Get(ctx, key)
			require.NoError(t, err, key)
			assert.NotEmpty(t, data)
		}
	})

	t.Run("Persisted", func(t *testing.T) {
		got, err := svc.GetImage(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, img.ID, got.ID)
		assert.Equal(t, img.StorageKey, got.StorageKey)
	})

	t.Run("Validation", func(t *testing.T) {
		_, err := svc.UploadImage(ctx, pixelmill.UploadImageRequest{OwnerID: ownerID})
		assert.ErrorIs(t, err, pixelmill.ErrInvalidRequest)

		_, err = svc.UploadImage(ctx, pixelmill.UploadImageRequest{Data: testPNG(t, 8, 8)})
		assert.ErrorIs(t, err, pixelmill.ErrInvalidRequest)
	})

	t.Run("NonImageData", func(t *testing.T) {
		_, err := svc.UploadImage(ctx, pixelmill.UploadImageRequest{
			OwnerID: ownerID,
			Data:    []byte("not an image"),
		})
		assert.ErrorIs(t, err, pixelmill.ErrCodecFailure)
	})
}

func TestListImagesByOwner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &stubGenerator{})

	ownerID := uuid.New()
	otherID := uuid.New()
	for i, owner := range []uuid.UUID{ownerID, ownerID, otherID} {
		_, err := svc.UploadImage(ctx, pixelmill.UploadImageRequest{
			OwnerID: owner,
			Data:    testPNG(t, 16+i, 16),
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	imgs, err := svc.ListImagesByOwner(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.True(t, !imgs[0].CreatedAt.Before(imgs[1].CreatedAt), "newest first")

	imgs, err = svc.ListImagesByOwner(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, imgs)
}

func TestTransformImagePreview(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &stubGenerator{})

	img, err := svc.UploadImage(ctx, pixelmill.UploadImageRequest{
		OwnerID: uuid.New(),
		Data:    testPNG(t, 400, 300),
	})
	require.NoError(t, err)
	before, err := svc.GetImage(ctx, img.ID)
	require.NoError(t, err)

	square := transform.RatioSquare
	res, err := svc.TransformImage(ctx, pixelmill.TransformRequest{
		ImageID: img.ID,
		Mode:    pixelmill.TransformModePreview,
		Edits:   transform.Edits{SmartCrop: &square},
	})
	require.NoError(t, err)

	assert.Nil(t, res.Image)
	assert.True(t, strings.HasPrefix(res.PreviewDataURI, "data:image/jpeg;base64,"))

	// Preview must not touch the stored record.
	after, err := svc.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Width, after.Width)
	assert.Equal(t, before.StorageKey, after.StorageKey)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestTransformImageApply(t *testing.T) {
	ctx := context.Background()
	svc, resolver := newTestService(t, &stubGenerator{})

	img, err := svc.UploadImage(ctx, pixelmill.UploadImageRequest{
		OwnerID: uuid.New(),
		Data:    testPNG(t, 400, 300),
	})
	require.NoError(t, err)

	square := transform.RatioSquare
	res, err := svc.TransformImage(ctx, pixelmill.TransformRequest{
		ImageID: img.ID,
		Mode:    pixelmill.TransformModeApply,
		Edits:   transform.Edits{SmartCrop: &square},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Image)
	assert.Empty(t, res.PreviewDataURI)

	assert.Equal(t, 300, res.Image.Width)
	assert.Equal(t, 300, res.Image.Height)
	assert.Equal(t, "image/jpeg", res.Image.MimeType)
	assert.True(t, strings.HasSuffix(res.Image.StorageKey, "original.jpg"), res.Image.StorageKey)

	stored, err := svc.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, stored.Width)
	assert.Equal(t, res.Image.StorageKey, stored.StorageKey)

	data, err := resolver.Get(ctx, stored.StorageKey)
	require.NoError(t, err)
	decoded, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 300, decoded.Bounds().Dx())
	assert.Equal(t, 300, decoded.Bounds().Dy())
}

func TestTransformImageErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &stubGenerator{})

	t.Run("UnknownImage", func(t *testing.T) {
		_, err := svc.TransformImage(ctx, pixelmill.TransformRequest{
			ImageID: uuid.New(),
			Mode:    pixelmill.TransformModePreview,
		})
		assert.ErrorIs(t, err, pixelmill.ErrImageNotFound)
	})

	t.Run("InvalidEdits", func(t *testing.T) {
		img, err := svc.UploadImage(ctx, pixelmill.UploadImageRequest{
			OwnerID: uuid.New(),
			Data:    testPNG(t, 32, 32),
		})
		require.NoError(t, err)

		bad := transform.AspectRatio("7:5")
		_, err = svc.TransformImage(ctx, pixelmill.TransformRequest{
			ImageID: img.ID,
			Mode:    pixelmill.TransformModePreview,
			Edits:   transform.Edits{SmartCrop: &bad},
		})
		assert.ErrorIs(t, err, transform.ErrInvalidEdits)
	})

	t.Run("InvalidMode", func(t *testing.T) {
		_, err := svc.TransformImage(ctx, pixelmill.TransformRequest{
			ImageID: uuid.New(),
			Mode:    pixelmill.TransformMode("export"),
		})
		assert.ErrorIs(t, err, pixelmill.ErrInvalidRequest)
	})
}

func TestGetImageURLs(t *testing.T) {
	ctx := context.Background()

	local, err := fs.New(fs.Config{
		BaseDir:   t.TempDir(),
		URLPrefix: "http://files.local",
	})
	require.NoError(t, err)
	resolver, err := pixelmill.NewKeyResolver(nil, local)
	require.NoError(t, err)

	svc, err := pixelmill.New(
		pixelmill.WithRepository(repomemory.New()),
		pixelmill.WithKeyResolver(resolver),
	)
	require.NoError(t, err)

	img, err := svc.UploadImage(ctx, pixelmill.UploadImageRequest{
		OwnerID: uuid.New(),
		Data:    testPNG(t, 64, 64),
	})
	require.NoError(t, err)

	urls, err := svc.GetImageURLs(ctx, img.ID)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(urls.Original, "http://files.local/"), urls.Original)
	assert.Contains(t, urls.Original, "original.png")
	assert.Contains(t, urls.Thumbnail, "thumb.jpg")
	require.Len(t, urls.Responsive, 3)
	for _, w := range []int{640, 1024, 1600} {
		assert.Contains(t, urls.Responsive, w)
	}

	t.Run("UnknownImage", func(t *testing.T) {
		_, err := svc.GetImageURLs(ctx, uuid.New())
		assert.ErrorIs(t, err, pixelmill.ErrImageNotFound)
	})
}
