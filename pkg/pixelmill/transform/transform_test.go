package transform_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmill/pixelmill/pkg/pixelmill/transform"
)

func newFrame(w, h int) image.Image {
	return imaging.New(w, h, color.NRGBA{R: 120, G: 130, B: 140, A: 255})
}

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestSmartCropRect(t *testing.T) {
	t.Run("SquareFromLandscape", func(t *testing.T) {
		rect := transform.SmartCropRect(800, 600, transform.RatioSquare)
		assert.Equal(t, image.Rect(100, 0, 700, 600), rect)
	})

	t.Run("WidescreenFromLandscape", func(t *testing.T) {
		rect := transform.SmartCropRect(800, 600, transform.RatioWidescreen)
		assert.Equal(t, image.Rect(0, 75, 800, 525), rect)
	})

	t.Run("SquareFromPortrait", func(t *testing.T) {
		rect := transform.SmartCropRect(600, 800, transform.RatioSquare)
		assert.Equal(t, image.Rect(0, 100, 600, 700), rect)
	})

	t.Run("ExactRatioIsFullFrame", func(t *testing.T) {
		rect := transform.SmartCropRect(1600, 900, transform.RatioWidescreen)
		assert.Equal(t, image.Rect(0, 0, 1600, 900), rect)
	})
}

func TestClampCrop(t *testing.T) {
	tests := []struct {
		name string
		crop transform.CropRect
		want image.Rectangle
	}{
		{
			name: "OversizedClampedToFrame",
			crop: transform.CropRect{X: -10, Y: 0, Width: 10000, Height: 10000},
			want: image.Rect(0, 0, 800, 600),
		},
		{
			name: "InBoundsUnchanged",
			crop: transform.CropRect{X: 10, Y: 20, Width: 100, Height: 200},
			want: image.Rect(10, 20, 110, 220),
		},
		{
			name: "WidthShrunkToFit",
			crop: transform.CropRect{X: 700, Y: 0, Width: 500, Height: 600},
			want: image.Rect(700, 0, 800, 600),
		},
		{
			name: "ZeroSizeForcedToOnePixel",
			crop: transform.CropRect{X: 0, Y: 0, Width: 0, Height: 0},
			want: image.Rect(0, 0, 1, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transform.ClampCrop(800, 600, tt.crop))
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("ZeroDescriptorIsValid", func(t *testing.T) {
		assert.NoError(t, transform.Edits{}.Validate())
	})

	t.Run("UnsupportedRatio", func(t *testing.T) {
		bad := transform.AspectRatio("5:4")
		err := transform.Edits{SmartCrop: &bad}.Validate()
		assert.ErrorIs(t, err, transform.ErrInvalidEdits)
	})

	t.Run("ResizeWithoutDims", func(t *testing.T) {
		err := transform.Edits{Resize: &transform.ResizeSpec{Fit: transform.FitCover}}.Validate()
		assert.ErrorIs(t, err, transform.ErrInvalidEdits)
	})

	t.Run("NegativeResizeWidth", func(t *testing.T) {
		err := transform.Edits{Resize: &transform.ResizeSpec{Width: intPtr(-1), Fit: transform.FitCover}}.Validate()
		assert.ErrorIs(t, err, transform.ErrInvalidEdits)
	})

	t.Run("UnsupportedFit", func(t *testing.T) {
		err := transform.Edits{Resize: &transform.ResizeSpec{Width: intPtr(100), Fit: transform.Fit("stretch")}}.Validate()
		assert.ErrorIs(t, err, transform.ErrInvalidEdits)
	})

	t.Run("SaturationOutOfRange", func(t *testing.T) {
		err := transform.Edits{Enhance: &transform.EnhanceSpec{Saturation: floatPtr(5)}}.Validate()
		assert.ErrorIs(t, err, transform.ErrInvalidEdits)
	})

	t.Run("CropNeverRejected", func(t *testing.T) {
		edits := transform.Edits{Crop: &transform.CropRect{X: -100, Y: -100, Width: 99999, Height: 99999}}
		assert.NoError(t, edits.Validate())
	})
}

func TestApply(t *testing.T) {
	t.Run("NoOpKeepsDimensions", func(t *testing.T) {
		out, err := transform.Apply(newFrame(800, 600), transform.Edits{})
		require.NoError(t, err)
		assert.Equal(t, 800, out.Bounds().Dx())
		assert.Equal(t, 600, out.Bounds().Dy())
	})

	t.Run("SmartCropSquare", func(t *testing.T) {
		ratio := transform.RatioSquare
		out, err := transform.Apply(newFrame(800, 600), transform.Edits{SmartCrop: &ratio})
		require.NoError(t, err)
		assert.Equal(t, 600, out.Bounds().Dx())
		assert.Equal(t, 600, out.Bounds().Dy())
	})

	t.Run("CropAfterSmartCrop", func(t *testing.T) {
		// The explicit crop refines the already ratio-cropped frame.
		ratio := transform.RatioSquare
		out, err := transform.Apply(newFrame(800, 600), transform.Edits{
			SmartCrop: &ratio,
			Crop:      &transform.CropRect{X: 0, Y: 0, Width: 1000, Height: 1000},
		})
		require.NoError(t, err)
		assert.Equal(t, 600, out.Bounds().Dx())
		assert.Equal(t, 600, out.Bounds().Dy())
	})

	t.Run("Rotate90SwapsDimensions", func(t *testing.T) {
		out, err := transform.Apply(newFrame(800, 600), transform.Edits{Rotate: floatPtr(90)})
		require.NoError(t, err)
		assert.Equal(t, 600, out.Bounds().Dx())
		assert.Equal(t, 800, out.Bounds().Dy())
	})

	t.Run("ResizeCover", func(t *testing.T) {
		out, err := transform.Apply(newFrame(800, 600), transform.Edits{
			Resize: &transform.ResizeSpec{Width: intPtr(200), Height: intPtr(200), Fit: transform.FitCover},
		})
		require.NoError(t, err)
		assert.Equal(t, 200, out.Bounds().Dx())
		assert.Equal(t, 200, out.Bounds().Dy())
	})

	t.Run("ResizeInsideNeverUpscales", func(t *testing.T) {
		out, err := transform.Apply(newFrame(800, 600), transform.Edits{
			Resize: &transform.ResizeSpec{Width: intPtr(1000), Height: intPtr(1000), Fit: transform.FitInside},
		})
		require.NoError(t, err)
		assert.Equal(t, 800, out.Bounds().Dx())
		assert.Equal(t, 600, out.Bounds().Dy())
	})

	t.Run("ResizeContainScalesUp", func(t *testing.T) {
		out, err := transform.Apply(newFrame(800, 600), transform.Edits{
			Resize: &transform.ResizeSpec{Width: intPtr(400), Height: intPtr(400), Fit: transform.FitContain},
		})
		require.NoError(t, err)
		assert.Equal(t, 400, out.Bounds().Dx())
		assert.Equal(t, 300, out.Bounds().Dy())
	})

	t.Run("ResizeOutsideCoversBox", func(t *testing.T) {
		out, err := transform.Apply(newFrame(800, 600), transform.Edits{
			Resize: &transform.ResizeSpec{Width: intPtr(400), Height: intPtr(400), Fit: transform.FitOutside},
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, out.Bounds().Dx(), 400)
		assert.Equal(t, 400, out.Bounds().Dy())
	})

	t.Run("SingleDimensionResize", func(t *testing.T) {
		out, err := transform.Apply(newFrame(800, 600), transform.Edits{
			Resize: &transform.ResizeSpec{Width: intPtr(400), Fit: transform.FitCover},
		})
		require.NoError(t, err)
		assert.Equal(t, 400, out.Bounds().Dx())
		assert.Equal(t, 300, out.Bounds().Dy())
	})

	t.Run("EnhanceKeepsDimensions", func(t *testing.T) {
		out, err := transform.Apply(newFrame(100, 80), transform.Edits{
			Enhance: &transform.EnhanceSpec{Normalize: true, Sharpen: true, Saturation: floatPtr(1.2)},
		})
		require.NoError(t, err)
		assert.Equal(t, 100, out.Bounds().Dx())
		assert.Equal(t, 80, out.Bounds().Dy())
	})

	t.Run("InvalidDescriptorRejected", func(t *testing.T) {
		bad := transform.AspectRatio("7:5")
		_, err := transform.Apply(newFrame(100, 100), transform.Edits{SmartCrop: &bad})
		assert.ErrorIs(t, err, transform.ErrInvalidEdits)
	})
}

func TestIsZero(t *testing.T) {
	assert.True(t, transform.Edits{}.IsZero())
	assert.False(t, transform.Edits{Flip: true}.IsZero())
	assert.False(t, transform.Edits{Rotate: floatPtr(0)}.IsZero())
}
