// Package pipeline turns one source image into the canonical set of
// derivative assets: a re-encoded original, a thumbnail, and a responsive
// width ladder, each in one or more codecs, plus extracted metadata. The
// pipeline is a pure function over bytes; it never touches storage.
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sort"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	_ "golang.org/x/image/webp" // WebP decode support
)

// ErrCodecFailure indicates a decode or encode failure on image bytes.
var ErrCodecFailure = errors.New("codec failure")

// Codec identifies an output image codec.
type Codec string

const (
	CodecJPEG Codec = "jpeg"
	CodecWebP Codec = "webp"
	CodecPNG  Codec = "png"
)

// Ext returns the file extension used in storage key suffixes.
func (c Codec) Ext() string {
	switch c {
	case CodecJPEG:
		return "jpg"
	case CodecWebP:
		return "webp"
	case CodecPNG:
		return "png"
	}
	return string(c)
}

// MimeType returns the codec's content type.
func (c Codec) MimeType() string {
	switch c {
	case CodecJPEG:
		return "image/jpeg"
	case CodecWebP:
		return "image/webp"
	case CodecPNG:
		return "image/png"
	}
	return "application/octet-stream"
}

// Options configure one pipeline run. Codec and quality constants are fixed
// per call site; the zero value is not usable, start from DefaultOptions.
type Options struct {
	// Codecs to encode the thumbnail and responsive ladder in. JPEG is
	// always included regardless of this list.
	Codecs []Codec

	// JPEGQuality applies to the re-encoded original and all JPEG variants.
	JPEGQuality int

	// WebPQuality applies to WebP variants.
	WebPQuality float32

	// ThumbnailWidth is the fixed small width of the thumbnail variant.
	ThumbnailWidth int

	// ResponsiveWidths is the fixed width ladder, ascending.
	ResponsiveWidths []int
}

// DefaultOptions returns the pipeline defaults: JPEG only, quality 90,
// 400px thumbnail, 640/1024/1600 ladder.
func DefaultOptions() Options {
	return Options{
		Codecs:           []Codec{CodecJPEG},
		JPEGQuality:      90,
		WebPQuality:      82,
		ThumbnailWidth:   400,
		ResponsiveWidths: []int{640, 1024, 1600},
	}
}

func (o Options) normalized() Options {
	hasJPEG := false
	for _, c := range o.Codecs {
		if c == CodecJPEG {
			hasJPEG = true
		}
	}
	if !hasJPEG {
		o.Codecs = append([]Codec{CodecJPEG}, o.Codecs...)
	}
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = 90
	}
	if o.WebPQuality <= 0 {
		o.WebPQuality = 82
	}
	if o.ThumbnailWidth <= 0 {
		o.ThumbnailWidth = 400
	}
	if len(o.ResponsiveWidths) == 0 {
		o.ResponsiveWidths = []int{640, 1024, 1600}
	}
	widths := append([]int(nil), o.ResponsiveWidths...)
	sort.Ints(widths)
	o.ResponsiveWidths = widths
	return o
}

// Info holds technical metadata extracted from the source.
type Info struct {
	Width    int
	Height   int
	Format   string
	MimeType string
}

// Rendition is one rung of the responsive ladder with its encoded variants.
type Rendition struct {
	Width   int
	Encoded map[Codec][]byte
}

// Result is the transient derivative set produced by one pipeline run. It is
// owned exclusively by the caller until written to storage, then discarded.
type Result struct {
	// Original is the source re-encoded as JPEG at the configured quality.
	Original []byte

	// Info reflects the dimensions of the (auto-oriented) decoded frame.
	Info Info

	// Thumbnail maps codec to encoded bytes at the thumbnail width.
	Thumbnail map[Codec][]byte

	// Responsive is the encoded width ladder, ascending.
	Responsive []Rendition

	// Metadata holds embedded descriptive metadata when extraction
	// succeeded; nil otherwise.
	Metadata *EmbeddedMetadata
}

// Decode decodes source bytes with EXIF auto-orientation applied and reports
// the detected source format.
func Decode(src []byte) (image.Image, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCodecFailure, err)
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCodecFailure, err)
	}
	return img, format, nil
}

// Generate runs the full pipeline against source bytes. Metadata extraction
// failure never fails the run; the result simply omits metadata.
func Generate(src []byte, opts Options) (*Result, error) {
	img, format, err := Decode(src)
	if err != nil {
		return nil, err
	}

	res, err := FromImage(img, opts)
	if err != nil {
		return nil, err
	}
	res.Info.Format = format
	res.Info.MimeType = "image/" + format
	res.Metadata = ExtractMetadata(src)
	return res, nil
}

// FromImage runs the pipeline against an already-decoded frame. Used by the
// edit-apply path, which transforms the frame before regenerating
// derivatives. Format/MimeType in the result default to JPEG since the
// original is re-encoded as JPEG.
func FromImage(img image.Image, opts Options) (*Result, error) {
	opts = opts.normalized()
	b := img.Bounds()

	original, err := encodeJPEG(img, opts.JPEGQuality)
	if err != nil {
		return nil, err
	}

	thumb := imaging.Resize(img, opts.ThumbnailWidth, 0, imaging.Lanczos)
	thumbnail, err := encodeAll(thumb, opts)
	if err != nil {
		return nil, err
	}

	responsive := make([]Rendition, 0, len(opts.ResponsiveWidths))
	for _, w := range opts.ResponsiveWidths {
		scaled := imaging.Resize(img, w, 0, imaging.Lanczos)
		encoded, err := encodeAll(scaled, opts)
		if err != nil {
			return nil, err
		}
		responsive = append(responsive, Rendition{Width: w, Encoded: encoded})
	}

	return &Result{
		Original: original,
		Info: Info{
			Width:    b.Dx(),
			Height:   b.Dy(),
			Format:   "jpeg",
			MimeType: "image/jpeg",
		},
		Thumbnail:  thumbnail,
		Responsive: responsive,
	}, nil
}

// Preview renders a single downscaled JPEG bounded by maxWidth, never
// upscaling. Used for interactive before/apply workflows; no storage or
// database side effects.
func Preview(img image.Image, maxWidth, quality int) ([]byte, error) {
	if maxWidth <= 0 {
		maxWidth = 800
	}
	if quality <= 0 {
		quality = 80
	}
	out := img
	if img.Bounds().Dx() > maxWidth {
		out = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}
	return encodeJPEG(out, quality)
}

func encodeAll(img image.Image, opts Options) (map[Codec][]byte, error) {
	out := make(map[Codec][]byte, len(opts.Codecs))
	for _, codec := range opts.Codecs {
		data, err := encode(img, codec, opts)
		if err != nil {
			return nil, err
		}
		out[codec] = data
	}
	return out, nil
}

func encode(img image.Image, codec Codec, opts Options) ([]byte, error) {
	switch codec {
	case CodecJPEG:
		return encodeJPEG(img, opts.JPEGQuality)
	case CodecPNG:
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("%w: png encode: %v", ErrCodecFailure, err)
		}
		return buf.Bytes(), nil
	case CodecWebP:
		return encodeWebP(img, opts.WebPQuality)
	}
	return nil, fmt.Errorf("%w: unsupported codec %q", ErrCodecFailure, codec)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("%w: jpeg encode: %v", ErrCodecFailure, err)
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality float32) ([]byte, error) {
	enc, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("%w: webp options: %v", ErrCodecFailure, err)
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, enc); err != nil {
		return nil, fmt.Errorf("%w: webp encode: %v", ErrCodecFailure, err)
	}
	return buf.Bytes(), nil
}
