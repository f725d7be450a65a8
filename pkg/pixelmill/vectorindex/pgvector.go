package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
)

// Index stores image embeddings in a Postgres table with a pgvector column.
// Implements pixelmill.VectorIndex.
type Index struct {
	pool *pgxpool.Pool
}

// New creates a pgvector-backed index on the given pool.
func New(pool *pgxpool.Pool) *Index {
	return &Index{pool: pool}
}

// Upsert writes or replaces the embedding row for an image. Re-indexing
// after an edit overwrites the previous vector.
func (i *Index) Upsert(ctx context.Context, imageID uuid.UUID, vector []float32, props pixelmill.IndexProperties) error {
	query := `
		INSERT INTO image_embedding (image_id, embedding, owner_id, album_id, private, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (image_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			owner_id = EXCLUDED.owner_id,
			album_id = EXCLUDED.album_id,
			private = EXCLUDED.private`

	_, err := i.pool.Exec(ctx, query,
		imageID, pgvector.NewVector(vector),
		props.OwnerID, props.AlbumID, props.Private, props.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}
