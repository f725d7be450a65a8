package pipeline_test

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmill/pixelmill/pkg/pixelmill/pipeline"
)

type asciiTag struct {
	id    uint16
	value string
}

// tiffWithASCII assembles a little-endian TIFF block with one IFD of ASCII
// entries. Tags must be given in ascending id order.
func tiffWithASCII(tags []asciiTag) []byte {
	var ifd bytes.Buffer
	var data bytes.Buffer
	dataStart := 8 + 2 + 12*len(tags) + 4

	binary.Write(&ifd, binary.LittleEndian, uint16(len(tags)))
	for _, tag := range tags {
		v := append([]byte(tag.value), 0)
		binary.Write(&ifd, binary.LittleEndian, tag.id)
		binary.Write(&ifd, binary.LittleEndian, uint16(2)) // ASCII
		binary.Write(&ifd, binary.LittleEndian, uint32(len(v)))
		if len(v) <= 4 {
			padded := make([]byte, 4)
			copy(padded, v)
			ifd.Write(padded)
		} else {
			binary.Write(&ifd, binary.LittleEndian, uint32(dataStart+data.Len()))
			data.Write(v)
		}
	}
	binary.Write(&ifd, binary.LittleEndian, uint32(0)) // no next IFD

	var out bytes.Buffer
	out.Write([]byte{'I', 'I', 0x2A, 0x00})
	binary.Write(&out, binary.LittleEndian, uint32(8))
	out.Write(ifd.Bytes())
	out.Write(data.Bytes())
	return out.Bytes()
}

// jpegWithEXIF splices the TIFF block into a JPEG as an APP1 segment right
// after the start-of-image marker.
func jpegWithEXIF(t *testing.T, tiff []byte) []byte {
	t.Helper()

	img := imaging.New(32, 32, color.NRGBA{R: 120, G: 80, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)))
	jpg := buf.Bytes()

	length := 2 + 6 + len(tiff)
	out := make([]byte, 0, len(jpg)+4+length)
	out = append(out, jpg[:2]...)
	out = append(out, 0xFF, 0xE1, byte(length>>8), byte(length))
	out = append(out, "Exif\x00\x00"...)
	out = append(out, tiff...)
	out = append(out, jpg[2:]...)
	return out
}

func TestExtractMetadata(t *testing.T) {
	// ImageDescription, Make, Model, DateTime, Artist, Copyright.
	tiff := tiffWithASCII([]asciiTag{
		{0x010E, "Lighthouse at dusk"},
		{0x010F, "Canon"},
		{0x0110, "EOS R5"},
		{0x0132, "2024:05:01 10:30:00"},
		{0x013B, "R. Vargas"},
		{0x8298, "CC BY 4.0"},
	})
	src := jpegWithEXIF(t, tiff)

	meta := pipeline.ExtractMetadata(src)
	require.NotNil(t, meta)
	assert.Equal(t, "Lighthouse at dusk", meta.Caption)
	assert.Equal(t, "Canon", meta.CameraMake)
	assert.Equal(t, "EOS R5", meta.CameraModel)
	assert.Equal(t, "R. Vargas", meta.Artist)
	assert.Equal(t, "CC BY 4.0", meta.Rights)
	require.NotNil(t, meta.TakenAt)
	assert.Equal(t, 2024, meta.TakenAt.Year())

	t.Run("FlowsThroughGenerate", func(t *testing.T) {
		res, err := pipeline.Generate(src, pipeline.DefaultOptions())
		require.NoError(t, err)
		require.NotNil(t, res.Metadata)
		assert.Equal(t, "Lighthouse at dusk", res.Metadata.Caption)
	})
}

func TestExtractMetadataAbsent(t *testing.T) {
	assert.Nil(t, pipeline.ExtractMetadata(encodePNG(t, 16, 16)))
	assert.Nil(t, pipeline.ExtractMetadata([]byte("not an image")))
}
