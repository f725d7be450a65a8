package pipeline

import (
	"bytes"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// EmbeddedMetadata holds descriptive metadata read from the source's
// embedded EXIF block. All fields are best-effort.
type EmbeddedMetadata struct {
	Title       string     `json:"title,omitempty"`
	Caption     string     `json:"caption,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`
	Rights      string     `json:"rights,omitempty"`
	Artist      string     `json:"artist,omitempty"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
}

func (m *EmbeddedMetadata) empty() bool {
	return m.Title == "" && m.Caption == "" && len(m.Keywords) == 0 &&
		m.Rights == "" && m.Artist == "" && m.CameraMake == "" &&
		m.CameraModel == "" && m.TakenAt == nil
}

// ExtractMetadata reads embedded descriptive metadata from source bytes.
// Extraction failure must never fail the pipeline, so this returns nil on
// any error or when the source carries no usable fields.
func ExtractMetadata(src []byte) *EmbeddedMetadata {
	x, err := exif.Decode(bytes.NewReader(src))
	if err != nil {
		return nil
	}

	meta := &EmbeddedMetadata{
		Title:       stringField(x, exif.XPTitle),
		Caption:     stringField(x, exif.ImageDescription),
		Rights:      stringField(x, exif.Copyright),
		Artist:      stringField(x, exif.Artist),
		CameraMake:  stringField(x, exif.Make),
		CameraModel: stringField(x, exif.Model),
	}
	if dt, err := x.DateTime(); err == nil {
		meta.TakenAt = &dt
	}

	if meta.empty() {
		return nil
	}
	return meta
}

func stringField(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}
