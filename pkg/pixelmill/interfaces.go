package pixelmill

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for storage backends
type BlobStore interface {
	// Upload uploads content, overwriting any existing object at the key
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with an explicit content type
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetDownloadURL returns a URL for downloading content
	GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error)

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
}

// Repository defines the interface for job and image persistence
type Repository interface {
	// Job operations
	CreateJob(ctx context.Context, job *GenerationJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*GenerationJob, error)

	// UpdateJob persists the job state. Terminal statuses are absorbing:
	// when the stored job is already completed, failed, or aborted the
	// write is refused with ErrJobTerminal.
	UpdateJob(ctx context.Context, job *GenerationJob) error

	// Image operations
	CreateImage(ctx context.Context, img *StoredImage) error
	GetImage(ctx context.Context, id uuid.UUID) (*StoredImage, error)
	UpdateImage(ctx context.Context, img *StoredImage) error
	ListImagesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*StoredImage, error)
}

// GenerateParams carries the normalized inputs for one generator call.
type GenerateParams struct {
	Prompt         string
	NegativePrompt string
	Seed           *int64
	Steps          int
	Width          int
	Height         int
	BatchSize      int
}

// GeneratedImage is one image returned by a generator, with the safety
// tags the provider attached to it.
type GeneratedImage struct {
	Data       []byte
	SafetyTags []string
}

// GenerationResult is the outcome of a successful generator call.
type GenerationResult struct {
	Images    []GeneratedImage
	ModelName string
}

// Generator is the contract implemented by external image-generation
// providers. Implementations must honor ctx cancellation and surface it
// as an error wrapping ErrGenerationCancelled.
type Generator interface {
	Generate(ctx context.Context, params GenerateParams) (*GenerationResult, error)
}

// Embedder computes a vector embedding for image bytes.
type Embedder interface {
	Embed(ctx context.Context, data []byte) ([]float32, error)
}

// IndexProperties is the small property set stored alongside a vector.
type IndexProperties struct {
	OwnerID   uuid.UUID
	AlbumID   *uuid.UUID
	Private   bool
	CreatedAt time.Time
}

// VectorIndex upserts image embeddings keyed by image id. Upsert is an
// idempotent overwrite.
type VectorIndex interface {
	Upsert(ctx context.Context, imageID uuid.UUID, vector []float32, props IndexProperties) error
}
