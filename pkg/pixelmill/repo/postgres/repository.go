package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements pixelmill.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) pixelmill.Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) pixelmill.Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "generation_job") {
				return fmt.Errorf("generation job already exists")
			}
			if strings.Contains(pgErr.ConstraintName, "image") {
				return fmt.Errorf("image already exists")
			}
			return fmt.Errorf("duplicate entry")
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Job operations

func (r *Repository) CreateJob(ctx context.Context, job *pixelmill.GenerationJob) error {
	logs, err := json.Marshal(job.Logs)
	if err != nil {
		return fmt.Errorf("marshal job logs: %w", err)
	}

	query := `
		INSERT INTO generation_job (
			id, owner_id, prompt, negative_prompt, seed, steps, width, height,
			batch_size, provider, status, logs, result_image_ids, safety_tags,
			aborted_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = r.db.Exec(ctx, query,
		job.ID, job.OwnerID, job.Prompt, job.NegativePrompt, job.Seed,
		job.Steps, job.Width, job.Height, job.BatchSize, job.Provider,
		job.Status, logs, job.ResultImageIDs, job.SafetyTags,
		job.AbortedAt, job.CreatedAt, job.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("create job", err)
	}

	return nil
}

func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*pixelmill.GenerationJob, error) {
	query := `
        SELECT id, owner_id, prompt, negative_prompt, seed, steps, width, height,
               batch_size, provider, status, logs, result_image_ids, safety_tags,
               aborted_at, created_at, updated_at
        FROM generation_job WHERE id = $1`

	var job pixelmill.GenerationJob
	var logs []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.OwnerID, &job.Prompt, &job.NegativePrompt, &job.Seed,
		&job.Steps, &job.Width, &job.Height, &job.BatchSize, &job.Provider,
		&job.Status, &logs, &job.ResultImageIDs, &job.SafetyTags,
		&job.AbortedAt, &job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pixelmill.ErrJobNotFound
		}
		return nil, r.handlePostgresError("get job", err)
	}

	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &job.Logs); err != nil {
			return nil, fmt.Errorf("unmarshal job logs: %w", err)
		}
	}

	return &job, nil
}

func (r *Repository) UpdateJob(ctx context.Context, job *pixelmill.GenerationJob) error {
	logs, err := json.Marshal(job.Logs)
	if err != nil {
		return fmt.Errorf("marshal job logs: %w", err)
	}

	// The status guard makes terminal statuses absorbing at the database,
	// so a cancel and a finishing run cannot both land.
	query := `
		UPDATE generation_job SET
			status = $2, logs = $3, result_image_ids = $4, safety_tags = $5,
			aborted_at = $6, updated_at = $7
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'aborted')`

	tag, err := r.db.Exec(ctx, query,
		job.ID, job.Status, logs, job.ResultImageIDs, job.SafetyTags,
		job.AbortedAt, job.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("update job", err)
	}
	if tag.RowsAffected() == 0 {
		var status pixelmill.JobStatus
		err := r.db.QueryRow(ctx, `SELECT status FROM generation_job WHERE id = $1`, job.ID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return pixelmill.ErrJobNotFound
			}
			return r.handlePostgresError("update job", err)
		}
		return pixelmill.ErrJobTerminal
	}

	return nil
}

// Image operations

func (r *Repository) CreateImage(ctx context.Context, img *pixelmill.StoredImage) error {
	responsive, metadata, generation, err := marshalImageJSON(img)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO image (
			id, owner_id, album_id, mime_type, width, height, size_bytes,
			storage_key, thumbnail_key, responsive, metadata, private,
			generation, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.db.Exec(ctx, query,
		img.ID, img.OwnerID, img.AlbumID, img.MimeType, img.Width, img.Height,
		img.SizeBytes, img.StorageKey, img.ThumbnailKey, responsive, metadata,
		img.Private, generation, img.CreatedAt, img.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("create image", err)
	}

	return nil
}

func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (*pixelmill.StoredImage, error) {
	query := `
        SELECT id, owner_id, album_id, mime_type, width, height, size_bytes,
               storage_key, thumbnail_key, responsive, metadata, private,
               generation, created_at, updated_at
        FROM image WHERE id = $1`

	img, err := scanImage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pixelmill.ErrImageNotFound
		}
		return nil, r.handlePostgresError("get image", err)
	}

	return img, nil
}

func (r *Repository) UpdateImage(ctx context.Context, img *pixelmill.StoredImage) error {
	// Generation metadata is immutable after create, so it is not part of
	// the update column set.
	responsive, metadata, _, err := marshalImageJSON(img)
	if err != nil {
		return err
	}

	query := `
		UPDATE image SET
			album_id = $2, mime_type = $3, width = $4, height = $5,
			size_bytes = $6, storage_key = $7, thumbnail_key = $8,
			responsive = $9, metadata = $10, private = $11, updated_at = $12
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		img.ID, img.AlbumID, img.MimeType, img.Width, img.Height,
		img.SizeBytes, img.StorageKey, img.ThumbnailKey, responsive,
		metadata, img.Private, img.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("update image", err)
	}
	if tag.RowsAffected() == 0 {
		return pixelmill.ErrImageNotFound
	}

	return nil
}

func (r *Repository) ListImagesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*pixelmill.StoredImage, error) {
	query := `
        SELECT id, owner_id, album_id, mime_type, width, height, size_bytes,
               storage_key, thumbnail_key, responsive, metadata, private,
               generation, created_at, updated_at
        FROM image WHERE owner_id = $1
        ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, r.handlePostgresError("list images", err)
	}
	defer rows.Close()

	var images []*pixelmill.StoredImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}

	return images, rows.Err()
}

// JSONB column helpers

func marshalImageJSON(img *pixelmill.StoredImage) (responsive, metadata, generation []byte, err error) {
	if responsive, err = json.Marshal(img.Responsive); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal responsive renditions: %w", err)
	}
	if img.Metadata != nil {
		if metadata, err = json.Marshal(img.Metadata); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal image metadata: %w", err)
		}
	}
	if img.Generation != nil {
		if generation, err = json.Marshal(img.Generation); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal generation metadata: %w", err)
		}
	}
	return responsive, metadata, generation, nil
}

func scanImage(row pgx.Row) (*pixelmill.StoredImage, error) {
	var img pixelmill.StoredImage
	var responsive, metadata, generation []byte

	err := row.Scan(
		&img.ID, &img.OwnerID, &img.AlbumID, &img.MimeType, &img.Width,
		&img.Height, &img.SizeBytes, &img.StorageKey, &img.ThumbnailKey,
		&responsive, &metadata, &img.Private, &generation,
		&img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(responsive) > 0 {
		if err := json.Unmarshal(responsive, &img.Responsive); err != nil {
			return nil, fmt.Errorf("unmarshal responsive renditions: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &img.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal image metadata: %w", err)
		}
	}
	if len(generation) > 0 {
		if err := json.Unmarshal(generation, &img.Generation); err != nil {
			return nil, fmt.Errorf("unmarshal generation metadata: %w", err)
		}
	}

	return &img, nil
}
