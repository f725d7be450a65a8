package pixelmill

import (
	"time"

	"github.com/google/uuid"

	"github.com/pixelmill/pixelmill/pkg/pixelmill/pipeline"
)

// JobStatus is the domain type for generation job lifecycle states.
type JobStatus string

// Job status constants (typed).
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusAborted   JobStatus = "aborted"
)

// Terminal reports whether the status is absorbing: once a job reaches a
// terminal status it never changes status again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusAborted:
		return true
	}
	return false
}

// JobLogLine is one timestamped entry in a job's append-only log.
type JobLogLine struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// GenerationJob tracks one asynchronous image-generation run.
//
// The job record is owned exclusively by its run; the only other writer is
// CancelGeneration, which flips the job to aborted. Status transitions are
// monotonic: queued -> running -> {completed|failed|aborted}.
type GenerationJob struct {
	ID             uuid.UUID    `json:"id"`
	OwnerID        uuid.UUID    `json:"owner_id"`
	Prompt         string       `json:"prompt"`
	NegativePrompt string       `json:"negative_prompt,omitempty"`
	Seed           *int64       `json:"seed,omitempty"`
	Steps          int          `json:"steps"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	BatchSize      int          `json:"batch_size"`
	Provider       string       `json:"provider"`
	Status         JobStatus    `json:"status"`
	Logs           []JobLogLine `json:"logs"`
	ResultImageIDs []uuid.UUID  `json:"result_image_ids,omitempty"`
	SafetyTags     []string     `json:"safety_tags,omitempty"`
	AbortedAt      *time.Time   `json:"aborted_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// appendLog records a timestamped line on the job's append-only log.
func (j *GenerationJob) appendLog(message string) {
	j.Logs = append(j.Logs, JobLogLine{At: time.Now().UTC(), Message: message})
}

// Rendition is one entry of a stored image's responsive ladder.
type Rendition struct {
	Width int    `json:"width"`
	Key   string `json:"key"`
}

// GenerationMetadata records how a generated image came to be.
type GenerationMetadata struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	Provider       string   `json:"provider"`
	SafetyTags     []string `json:"safety_tags,omitempty"`
}

// StoredImage represents one persisted image and its derivative keys.
//
// Width/Height/SizeBytes always reflect the most recently written original;
// edit-apply overwrites them in place together with the responsive ladder.
// Keys that start with a path separator address the local-fallback backend
// (see KeyResolver); all other keys address the remote object store.
type StoredImage struct {
	ID           uuid.UUID                  `json:"id"`
	OwnerID      uuid.UUID                  `json:"owner_id"`
	AlbumID      *uuid.UUID                 `json:"album_id,omitempty"`
	MimeType     string                     `json:"mime_type"`
	Width        int                        `json:"width"`
	Height       int                        `json:"height"`
	SizeBytes    int64                      `json:"size_bytes"`
	StorageKey   string                     `json:"storage_key"`
	ThumbnailKey string                     `json:"thumbnail_key"`
	Responsive   []Rendition                `json:"responsive"`
	Metadata     *pipeline.EmbeddedMetadata `json:"metadata,omitempty"`
	Private      bool                       `json:"private"`
	Generation   *GenerationMetadata        `json:"generation,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// ImageURLs collects resolved access URLs for one stored image.
type ImageURLs struct {
	Original   string         `json:"original"`
	Thumbnail  string         `json:"thumbnail"`
	Responsive map[int]string `json:"responsive"` // width -> URL
}
