package pixelmill

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pixelmill/pixelmill/pkg/pixelmill/transform"
)

// Batch size bounds for one generation request.
const (
	MinBatchSize = 1
	MaxBatchSize = 4
)

// SubmitGenerationRequest contains parameters for submitting a generation job
type SubmitGenerationRequest struct {
	OwnerID        uuid.UUID
	Prompt         string
	NegativePrompt string
	Seed           *int64
	Steps          int
	Width          int
	Height         int
	BatchSize      int
	Provider       string

	// AllowUnsafe opts the caller into permissive viewing: the safety gate
	// is skipped for this job's images.
	AllowUnsafe bool

	AlbumID *uuid.UUID
	Private bool
}

// Validate rejects malformed requests synchronously, before any job record
// or task is created.
func (r SubmitGenerationRequest) Validate() error {
	if r.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	}
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if r.Provider == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalidRequest)
	}
	return nil
}

func (r SubmitGenerationRequest) withDefaults() SubmitGenerationRequest {
	if r.Steps <= 0 {
		r.Steps = 20
	}
	if r.Width <= 0 {
		r.Width = 512
	}
	if r.Height <= 0 {
		r.Height = 512
	}
	if r.BatchSize < MinBatchSize {
		r.BatchSize = MinBatchSize
	}
	if r.BatchSize > MaxBatchSize {
		r.BatchSize = MaxBatchSize
	}
	return r
}

// UploadImageRequest contains parameters for storing an uploaded image
type UploadImageRequest struct {
	OwnerID  uuid.UUID
	AlbumID  *uuid.UUID
	Data     []byte
	FileName string
	Private  bool
}

// Validate rejects malformed upload requests.
func (r UploadImageRequest) Validate() error {
	if r.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: image data is required", ErrInvalidRequest)
	}
	return nil
}

// TransformMode selects between the non-persistent preview and the
// destructive apply of an edit descriptor.
type TransformMode string

const (
	TransformModePreview TransformMode = "preview"
	TransformModeApply   TransformMode = "apply"
)

// TransformRequest contains parameters for editing a stored image
type TransformRequest struct {
	ImageID uuid.UUID
	Edits   transform.Edits
	Mode    TransformMode
}

// Validate checks the mode and the edit descriptor exhaustively before any
// step is applied.
func (r TransformRequest) Validate() error {
	if r.ImageID == uuid.Nil {
		return fmt.Errorf("%w: image id is required", ErrInvalidRequest)
	}
	switch r.Mode {
	case TransformModePreview, TransformModeApply:
	default:
		return fmt.Errorf("%w: unsupported transform mode %q", ErrInvalidRequest, r.Mode)
	}
	if err := r.Edits.Validate(); err != nil {
		return err
	}
	return nil
}

// TransformResult is the outcome of a transform request: the updated image
// record in apply mode, an inline data URI in preview mode.
type TransformResult struct {
	Image          *StoredImage `json:"image,omitempty"`
	PreviewDataURI string       `json:"preview_data_uri,omitempty"`
}
