package pixelmill

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pixelmill/pixelmill/pkg/pixelmill/pipeline"
)

// Error types
var (
	// ErrJobNotFound indicates a generation job was not found
	ErrJobNotFound = errors.New("generation job not found")

	// ErrJobTerminal indicates a write was refused because the stored job is
	// already in a terminal status
	ErrJobTerminal = errors.New("generation job already terminal")

	// ErrImageNotFound indicates a stored image was not found
	ErrImageNotFound = errors.New("image not found")

	// ErrObjectNotFound indicates a storage key has no object behind it
	ErrObjectNotFound = errors.New("object not found")

	// ErrStorageUnavailable indicates a storage backend read/write failed
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageBackendNotFound indicates no backend can serve a key
	ErrStorageBackendNotFound = errors.New("storage backend not found")

	// ErrProviderNotFound indicates the requested generation provider is not registered
	ErrProviderNotFound = errors.New("generation provider not found")

	// ErrUpstreamGeneration indicates the generator reported a terminal non-success state
	ErrUpstreamGeneration = errors.New("upstream generation failed")

	// ErrGenerationCancelled distinguishes a cancelled generator call from a
	// generic failure so the job lands in aborted rather than failed
	ErrGenerationCancelled = errors.New("generation cancelled")

	// ErrInvalidRequest indicates a malformed request rejected before any processing
	ErrInvalidRequest = errors.New("invalid request")

	// ErrCodecFailure indicates a decode/encode failure on malformed image
	// bytes. Aliased from the pipeline package so callers can match it
	// without importing pipeline directly.
	ErrCodecFailure = pipeline.ErrCodecFailure
)

// JobError represents an error related to generation job operations
type JobError struct {
	JobID uuid.UUID
	Op    string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job operation %s failed for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// ImageError represents an error related to stored image operations
type ImageError struct {
	ImageID uuid.UUID
	Op      string
	Err     error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image operation %s failed for image %s: %v", e.Op, e.ImageID, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
