package pipeline_test

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmill/pixelmill/pkg/pixelmill/pipeline"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 40, G: 90, B: 160, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestGenerate(t *testing.T) {
	src := encodePNG(t, 1200, 900)

	res, err := pipeline.Generate(src, pipeline.DefaultOptions())
	require.NoError(t, err)

	t.Run("Info", func(t *testing.T) {
		assert.Equal(t, 1200, res.Info.Width)
		assert.Equal(t, 900, res.Info.Height)
		assert.Equal(t, "png", res.Info.Format)
		assert.Equal(t, "image/png", res.Info.MimeType)
	})

	t.Run("OriginalIsJPEG", func(t *testing.T) {
		_, format, err := image.DecodeConfig(bytes.NewReader(res.Original))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		w, h := decodeDims(t, res.Original)
		assert.Equal(t, 1200, w)
		assert.Equal(t, 900, h)
	})

	t.Run("Thumbnail", func(t *testing.T) {
		thumb, ok := res.Thumbnail[pipeline.CodecJPEG]
		require.True(t, ok, "JPEG thumbnail always present")
		w, h := decodeDims(t, thumb)
		assert.Equal(t, 400, w)
		assert.Equal(t, 300, h)
	})

	t.Run("ResponsiveLadder", func(t *testing.T) {
		require.Len(t, res.Responsive, 3)
		for i, want := range []int{640, 1024, 1600} {
			assert.Equal(t, want, res.Responsive[i].Width)
			encoded, ok := res.Responsive[i].Encoded[pipeline.CodecJPEG]
			require.True(t, ok)
			w, _ := decodeDims(t, encoded)
			assert.Equal(t, want, w)
		}
	})

	t.Run("NoMetadataForPNG", func(t *testing.T) {
		assert.Nil(t, res.Metadata)
	})
}

func TestGenerateCustomWidths(t *testing.T) {
	src := encodePNG(t, 2000, 1000)
	opts := pipeline.DefaultOptions()
	opts.ResponsiveWidths = []int{1024, 320}
	opts.ThumbnailWidth = 200

	res, err := pipeline.Generate(src, opts)
	require.NoError(t, err)

	// Ladder comes back ascending regardless of input order.
	require.Len(t, res.Responsive, 2)
	assert.Equal(t, 320, res.Responsive[0].Width)
	assert.Equal(t, 1024, res.Responsive[1].Width)

	thumb := res.Thumbnail[pipeline.CodecJPEG]
	w, _ := decodeDims(t, thumb)
	assert.Equal(t, 200, w)
}

func TestGenerateInvalidBytes(t *testing.T) {
	_, err := pipeline.Generate([]byte("not an image"), pipeline.DefaultOptions())
	assert.ErrorIs(t, err, pipeline.ErrCodecFailure)
}

func TestDecode(t *testing.T) {
	src := encodePNG(t, 64, 48)
	img, format, err := pipeline.Decode(src)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestFromImagePNGCodec(t *testing.T) {
	img := imaging.New(800, 600, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	opts := pipeline.DefaultOptions()
	opts.Codecs = []pipeline.Codec{pipeline.CodecPNG}

	res, err := pipeline.FromImage(img, opts)
	require.NoError(t, err)

	// JPEG is always included alongside requested codecs.
	assert.Contains(t, res.Thumbnail, pipeline.CodecJPEG)
	assert.Contains(t, res.Thumbnail, pipeline.CodecPNG)
}

func TestFromImageWebPCodec(t *testing.T) {
	img := imaging.New(800, 600, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	opts := pipeline.DefaultOptions()
	opts.Codecs = []pipeline.Codec{pipeline.CodecJPEG, pipeline.CodecWebP}

	res, err := pipeline.FromImage(img, opts)
	require.NoError(t, err)

	thumb, ok := res.Thumbnail[pipeline.CodecWebP]
	require.True(t, ok, "WebP thumbnail present when requested")

	_, format, err := image.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "webp", format)

	for _, r := range res.Responsive {
		assert.Contains(t, r.Encoded, pipeline.CodecWebP)
	}
}

func TestPreview(t *testing.T) {
	t.Run("Downscales", func(t *testing.T) {
		img := imaging.New(1600, 1200, color.NRGBA{A: 255})
		data, err := pipeline.Preview(img, 800, 80)
		require.NoError(t, err)
		w, h := decodeDims(t, data)
		assert.Equal(t, 800, w)
		assert.Equal(t, 600, h)
	})

	t.Run("NeverUpscales", func(t *testing.T) {
		img := imaging.New(500, 400, color.NRGBA{A: 255})
		data, err := pipeline.Preview(img, 800, 80)
		require.NoError(t, err)
		w, h := decodeDims(t, data)
		assert.Equal(t, 500, w)
		assert.Equal(t, 400, h)
	})

	t.Run("ZeroArgsUseDefaults", func(t *testing.T) {
		img := imaging.New(1000, 500, color.NRGBA{A: 255})
		data, err := pipeline.Preview(img, 0, 0)
		require.NoError(t, err)
		w, _ := decodeDims(t, data)
		assert.Equal(t, 800, w)
	})
}

func TestCodec(t *testing.T) {
	assert.Equal(t, "jpg", pipeline.CodecJPEG.Ext())
	assert.Equal(t, "webp", pipeline.CodecWebP.Ext())
	assert.Equal(t, "image/jpeg", pipeline.CodecJPEG.MimeType())
	assert.Equal(t, "image/webp", pipeline.CodecWebP.MimeType())
	assert.Equal(t, "image/png", pipeline.CodecPNG.MimeType())
}
