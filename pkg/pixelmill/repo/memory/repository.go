package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
)

// Repository implements pixelmill.Repository using in-memory storage
type Repository struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]*pixelmill.GenerationJob
	images map[uuid.UUID]*pixelmill.StoredImage
}

// New creates a new in-memory repository
func New() pixelmill.Repository {
	return &Repository{
		jobs:   make(map[uuid.UUID]*pixelmill.GenerationJob),
		images: make(map[uuid.UUID]*pixelmill.StoredImage),
	}
}

// Job operations

func (r *Repository) CreateJob(ctx context.Context, job *pixelmill.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*pixelmill.GenerationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[id]
	if !exists {
		return nil, pixelmill.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (r *Repository) UpdateJob(ctx context.Context, job *pixelmill.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.jobs[job.ID]
	if !exists {
		return pixelmill.ErrJobNotFound
	}
	if stored.Status.Terminal() {
		return pixelmill.ErrJobTerminal
	}
	r.jobs[job.ID] = copyJob(job)
	return nil
}

// Image operations

func (r *Repository) CreateImage(ctx context.Context, img *pixelmill.StoredImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.images[img.ID] = copyImage(img)
	return nil
}

func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (*pixelmill.StoredImage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	img, exists := r.images[id]
	if !exists {
		return nil, pixelmill.ErrImageNotFound
	}
	return copyImage(img), nil
}

func (r *Repository) UpdateImage(ctx context.Context, img *pixelmill.StoredImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.images[img.ID]; !exists {
		return pixelmill.ErrImageNotFound
	}
	r.images[img.ID] = copyImage(img)
	return nil
}

func (r *Repository) ListImagesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*pixelmill.StoredImage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*pixelmill.StoredImage
	for _, img := range r.images {
		if img.OwnerID == ownerID {
			result = append(result, copyImage(img))
		}
	}

	// Sort by created_at descending
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// Copies guard against external modification of stored records. Slices are
// duplicated too since callers keep appending to job logs and result lists.

func copyJob(job *pixelmill.GenerationJob) *pixelmill.GenerationJob {
	c := *job
	c.Logs = append([]pixelmill.JobLogLine(nil), job.Logs...)
	c.ResultImageIDs = append([]uuid.UUID(nil), job.ResultImageIDs...)
	c.SafetyTags = append([]string(nil), job.SafetyTags...)
	return &c
}

func copyImage(img *pixelmill.StoredImage) *pixelmill.StoredImage {
	c := *img
	c.Responsive = append([]pixelmill.Rendition(nil), img.Responsive...)
	return &c
}
