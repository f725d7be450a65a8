package pixelmill

import (
	"context"

	"github.com/google/uuid"
)

// Service is the main business logic interface for image generation,
// upload, editing, and retrieval.
type Service interface {
	// Generation job lifecycle
	SubmitGeneration(ctx context.Context, req SubmitGenerationRequest) (*GenerationJob, error)
	GetGenerationJob(ctx context.Context, jobID uuid.UUID) (*GenerationJob, error)
	CancelGeneration(ctx context.Context, jobID uuid.UUID) (*GenerationJob, error)

	// Image operations
	UploadImage(ctx context.Context, req UploadImageRequest) (*StoredImage, error)
	GetImage(ctx context.Context, imageID uuid.UUID) (*StoredImage, error)
	ListImagesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*StoredImage, error)
	TransformImage(ctx context.Context, req TransformRequest) (*TransformResult, error)
	GetImageURLs(ctx context.Context, imageID uuid.UUID) (*ImageURLs, error)

	// Drain blocks until all in-flight generation jobs and background
	// indexing tasks have finished. Intended for shutdown.
	Drain()
}
