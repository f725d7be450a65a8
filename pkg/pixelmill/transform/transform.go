// Package transform applies a bounded set of geometric and tonal edits to a
// decoded image. Edits are described by an Edits value with optional fields
// and applied in a fixed order: rotate, flip, flop, smart-crop, explicit
// crop, resize, enhance. Smart-crop therefore operates on the already
// rotated/flipped frame, and an explicit crop can refine a sub-region of the
// ratio-cropped frame.
package transform

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// ErrInvalidEdits indicates a malformed edit descriptor, rejected before any
// step is applied.
var ErrInvalidEdits = errors.New("invalid edit descriptor")

// Fit selects how a resize maps the source frame onto the target box.
type Fit string

const (
	FitCover   Fit = "cover"   // fill the box, cropping overflow
	FitContain Fit = "contain" // fit inside the box, scaling up if needed
	FitInside  Fit = "inside"  // fit inside the box, never scaling up
	FitOutside Fit = "outside" // cover the box from outside, both dims >= target
)

// AspectRatio is a smart-crop target ratio.
type AspectRatio string

const (
	RatioSquare     AspectRatio = "1:1"
	RatioClassic    AspectRatio = "4:3"
	RatioPhoto      AspectRatio = "3:2"
	RatioWidescreen AspectRatio = "16:9"
)

func ratioDims(r AspectRatio) (w, h int, ok bool) {
	switch r {
	case RatioSquare:
		return 1, 1, true
	case RatioClassic:
		return 4, 3, true
	case RatioPhoto:
		return 3, 2, true
	case RatioWidescreen:
		return 16, 9, true
	}
	return 0, 0, false
}

// CropRect is an explicit crop region in frame coordinates.
type CropRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ResizeSpec describes a resize step. At least one of Width/Height must be
// set; when only one is set the other follows the source aspect ratio.
type ResizeSpec struct {
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
	Fit    Fit  `json:"fit"`
}

// EnhanceSpec describes tonal adjustments.
type EnhanceSpec struct {
	Normalize  bool     `json:"normalize,omitempty"`
	Sharpen    bool     `json:"sharpen,omitempty"`
	Saturation *float64 `json:"saturation,omitempty"` // multiplier in [0.1, 3]
}

// Edits is the edit descriptor. All fields are optional; a zero Edits is a
// valid no-op.
type Edits struct {
	Rotate    *float64     `json:"rotate,omitempty"` // degrees, any value
	Flip      bool         `json:"flip,omitempty"`   // vertical flip
	Flop      bool         `json:"flop,omitempty"`   // horizontal mirror
	Crop      *CropRect    `json:"crop,omitempty"`
	SmartCrop *AspectRatio `json:"smart_crop,omitempty"`
	Resize    *ResizeSpec  `json:"resize,omitempty"`
	Enhance   *EnhanceSpec `json:"enhance,omitempty"`
}

// IsZero reports whether the descriptor requests no edits at all.
func (e Edits) IsZero() bool {
	return e.Rotate == nil && !e.Flip && !e.Flop && e.Crop == nil &&
		e.SmartCrop == nil && e.Resize == nil && e.Enhance == nil
}

// Validate checks the descriptor exhaustively before any step is applied.
// Crop coordinates are exempt: out-of-range crop input is silently clamped
// during Apply, never rejected.
func (e Edits) Validate() error {
	if e.SmartCrop != nil {
		if _, _, ok := ratioDims(*e.SmartCrop); !ok {
			return fmt.Errorf("%w: unsupported smart-crop ratio %q", ErrInvalidEdits, *e.SmartCrop)
		}
	}
	if e.Resize != nil {
		if e.Resize.Width == nil && e.Resize.Height == nil {
			return fmt.Errorf("%w: resize requires width or height", ErrInvalidEdits)
		}
		if e.Resize.Width != nil && *e.Resize.Width <= 0 {
			return fmt.Errorf("%w: resize width must be positive", ErrInvalidEdits)
		}
		if e.Resize.Height != nil && *e.Resize.Height <= 0 {
			return fmt.Errorf("%w: resize height must be positive", ErrInvalidEdits)
		}
		switch e.Resize.Fit {
		case FitCover, FitContain, FitInside, FitOutside:
		default:
			return fmt.Errorf("%w: unsupported resize fit %q", ErrInvalidEdits, e.Resize.Fit)
		}
	}
	if e.Enhance != nil && e.Enhance.Saturation != nil {
		s := *e.Enhance.Saturation
		if s < 0.1 || s > 3 {
			return fmt.Errorf("%w: saturation %v outside [0.1, 3]", ErrInvalidEdits, s)
		}
	}
	return nil
}

// Apply runs the edit steps against img in the fixed order and returns the
// edited frame. The descriptor must already be validated.
func Apply(img image.Image, e Edits) (image.Image, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	out := img

	if e.Rotate != nil && *e.Rotate != 0 {
		out = imaging.Rotate(out, *e.Rotate, color.Transparent)
	}
	if e.Flip {
		out = imaging.FlipV(out)
	}
	if e.Flop {
		out = imaging.FlipH(out)
	}
	if e.SmartCrop != nil {
		b := out.Bounds()
		rect := SmartCropRect(b.Dx(), b.Dy(), *e.SmartCrop)
		out = imaging.Crop(out, rect)
	}
	if e.Crop != nil {
		b := out.Bounds()
		rect := ClampCrop(b.Dx(), b.Dy(), *e.Crop)
		out = imaging.Crop(out, rect)
	}
	if e.Resize != nil {
		out = applyResize(out, *e.Resize)
	}
	if e.Enhance != nil {
		out = applyEnhance(out, *e.Enhance)
	}

	return out, nil
}

// SmartCropRect computes the largest centered rectangle of the target aspect
// ratio that fits inside a frameW x frameH frame without upscaling. It starts
// from full width and derives height from the ratio; if that height exceeds
// the frame it starts from full height instead. Offsets are integer-rounded.
func SmartCropRect(frameW, frameH int, ratio AspectRatio) image.Rectangle {
	rw, rh, ok := ratioDims(ratio)
	if !ok {
		return image.Rect(0, 0, frameW, frameH)
	}

	cropW := frameW
	cropH := int(math.Round(float64(frameW) * float64(rh) / float64(rw)))
	if cropH > frameH {
		cropH = frameH
		cropW = int(math.Round(float64(frameH) * float64(rw) / float64(rh)))
	}

	x := int(math.Round(float64(frameW-cropW) / 2))
	y := int(math.Round(float64(frameH-cropH) / 2))
	return image.Rect(x, y, x+cropW, y+cropH)
}

// ClampCrop clamps an explicit crop into the frame: x and y are forced into
// [0, frame-1] and width/height are shrunk so the rectangle never exceeds the
// frame bounds. Out-of-range input is corrected, never rejected.
func ClampCrop(frameW, frameH int, c CropRect) image.Rectangle {
	x := clampInt(c.X, 0, frameW-1)
	y := clampInt(c.Y, 0, frameH-1)
	w := clampInt(c.Width, 1, frameW-x)
	h := clampInt(c.Height, 1, frameH-y)
	return image.Rect(x, y, x+w, y+h)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func applyResize(img image.Image, spec ResizeSpec) image.Image {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()

	// Single-dimension resize preserves aspect regardless of fit mode.
	if spec.Width == nil {
		return imaging.Resize(img, 0, *spec.Height, imaging.Lanczos)
	}
	if spec.Height == nil {
		return imaging.Resize(img, *spec.Width, 0, imaging.Lanczos)
	}

	w, h := *spec.Width, *spec.Height
	switch spec.Fit {
	case FitCover:
		return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	case FitInside:
		// Fit never scales up.
		return imaging.Fit(img, w, h, imaging.Lanczos)
	case FitContain:
		scale := math.Min(float64(w)/float64(srcW), float64(h)/float64(srcH))
		return scaleBy(img, srcW, srcH, scale)
	case FitOutside:
		scale := math.Max(float64(w)/float64(srcW), float64(h)/float64(srcH))
		return scaleBy(img, srcW, srcH, scale)
	}
	return img
}

func scaleBy(img image.Image, srcW, srcH int, scale float64) image.Image {
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

func applyEnhance(img image.Image, spec EnhanceSpec) image.Image {
	out := img
	if spec.Normalize {
		out = normalize(out)
	}
	if spec.Sharpen {
		out = imaging.Sharpen(out, 1.0)
	}
	if spec.Saturation != nil {
		// imaging expects a percentage delta; 1.0 is identity.
		out = imaging.AdjustSaturation(out, (*spec.Saturation-1)*100)
	}
	return out
}

// normalize stretches the luminance histogram so the darkest channel value
// maps to 0 and the brightest to 255.
func normalize(img image.Image) image.Image {
	src := imaging.Clone(img)
	minV, maxV := uint8(255), uint8(0)
	for i := 0; i < len(src.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := src.Pix[i+c]
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
	}
	if minV == 0 && maxV == 255 {
		return src
	}
	if maxV <= minV {
		return src
	}
	scale := 255.0 / float64(maxV-minV)
	for i := 0; i < len(src.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(src.Pix[i+c]-minV) * scale
			src.Pix[i+c] = uint8(math.Round(math.Min(v, 255)))
		}
	}
	return src
}
