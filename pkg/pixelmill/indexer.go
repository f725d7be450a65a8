package pixelmill

import "context"

// scheduleIndexing hands the image off to the background vector indexer.
// Indexing is best-effort: failures are logged and never surface to the
// operation that stored the image. A nil embedder or index disables it.
func (s *service) scheduleIndexing(img *StoredImage, data []byte) {
	if s.embedder == nil || s.index == nil {
		return
	}

	props := IndexProperties{
		OwnerID:   img.OwnerID,
		AlbumID:   img.AlbumID,
		Private:   img.Private,
		CreatedAt: img.CreatedAt,
	}
	imageID := img.ID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx := context.Background()
		vector, err := s.embedder.Embed(ctx, data)
		if err != nil {
			s.logger.Warn("image embedding failed", "image_id", imageID, "error", err)
			return
		}
		if err := s.index.Upsert(ctx, imageID, vector, props); err != nil {
			s.logger.Warn("vector index upsert failed", "image_id", imageID, "error", err)
			return
		}
		s.logger.Debug("image indexed", "image_id", imageID)
	}()
}
