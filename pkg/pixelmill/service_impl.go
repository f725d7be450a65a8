package pixelmill

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelmill/pixelmill/pkg/pixelmill/pipeline"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/transform"
)

// service implements the Service interface
type service struct {
	repo       Repository
	resolver   *KeyResolver
	generators map[string]Generator
	embedder   Embedder
	index      VectorIndex
	registry   *JobRegistry
	logger     *slog.Logger

	blockedTags map[string]struct{}

	uploadOpts   pipeline.Options
	generateOpts pipeline.Options
	editOpts     pipeline.Options

	previewMaxWidth    int
	previewJPEGQuality int

	generationTimeout time.Duration

	wg sync.WaitGroup
}

// Option is a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository (required)
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repo = repo
	}
}

// WithKeyResolver sets the storage key resolver (required)
func WithKeyResolver(resolver *KeyResolver) Option {
	return func(s *service) {
		s.resolver = resolver
	}
}

// WithGenerator registers a named generation provider
func WithGenerator(name string, g Generator) Option {
	return func(s *service) {
		s.generators[name] = g
	}
}

// WithEmbedder sets the embedding backend for the vector indexer
func WithEmbedder(e Embedder) Option {
	return func(s *service) {
		s.embedder = e
	}
}

// WithVectorIndex sets the vector index for similarity search
func WithVectorIndex(idx VectorIndex) Option {
	return func(s *service) {
		s.index = idx
	}
}

// WithJobRegistry overrides the default in-process job registry
func WithJobRegistry(r *JobRegistry) Option {
	return func(s *service) {
		s.registry = r
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBlockedSafetyTags sets the tags that the safety gate rejects.
// Matching is case-insensitive.
func WithBlockedSafetyTags(tags ...string) Option {
	return func(s *service) {
		s.blockedTags = make(map[string]struct{}, len(tags))
		for _, t := range tags {
			s.blockedTags[strings.ToLower(t)] = struct{}{}
		}
	}
}

// WithUploadPipeline sets the derivative options used for uploaded images
func WithUploadPipeline(opts pipeline.Options) Option {
	return func(s *service) {
		s.uploadOpts = opts
	}
}

// WithGeneratePipeline sets the derivative options used for generated images
func WithGeneratePipeline(opts pipeline.Options) Option {
	return func(s *service) {
		s.generateOpts = opts
	}
}

// WithEditPipeline sets the derivative options used after an applied edit
func WithEditPipeline(opts pipeline.Options) Option {
	return func(s *service) {
		s.editOpts = opts
	}
}

// WithGenerationTimeout caps the wall-clock time of one generation run.
// Zero means no deadline; a run that exceeds the cap is aborted.
func WithGenerationTimeout(d time.Duration) Option {
	return func(s *service) {
		s.generationTimeout = d
	}
}

// WithPreviewLimits sets the preview downscale width and JPEG quality
func WithPreviewLimits(maxWidth, jpegQuality int) Option {
	return func(s *service) {
		s.previewMaxWidth = maxWidth
		s.previewJPEGQuality = jpegQuality
	}
}

// New creates a new service with the given options
func New(options ...Option) (Service, error) {
	svc := &service{
		generators:         make(map[string]Generator),
		registry:           NewJobRegistry(),
		logger:             slog.Default(),
		blockedTags:        map[string]struct{}{"nsfw": {}},
		uploadOpts:         pipeline.DefaultOptions(),
		generateOpts:       pipeline.DefaultOptions(),
		editOpts:           pipeline.DefaultOptions(),
		previewMaxWidth:    800,
		previewJPEGQuality: 80,
	}

	for _, opt := range options {
		opt(svc)
	}

	if svc.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if svc.resolver == nil {
		return nil, fmt.Errorf("key resolver is required")
	}

	return svc, nil
}

func (s *service) UploadImage(ctx context.Context, req UploadImageRequest) (*StoredImage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	res, err := pipeline.Generate(req.Data, s.uploadOpts)
	if err != nil {
		return nil, fmt.Errorf("decode upload: %w", err)
	}

	now := time.Now().UTC()
	img := &StoredImage{
		ID:        uuid.New(),
		OwnerID:   req.OwnerID,
		AlbumID:   req.AlbumID,
		MimeType:  res.Info.MimeType,
		Width:     res.Info.Width,
		Height:    res.Info.Height,
		SizeBytes: int64(len(req.Data)),
		Metadata:  res.Metadata,
		Private:   req.Private,
		CreatedAt: now,
		UpdatedAt: now,
	}

	base := BaseKey(img.OwnerID, img.ID)
	origKey := s.resolver.MintKey(base, "original."+formatExt(res.Info.Format))
	if err := s.resolver.Put(ctx, origKey, req.Data, res.Info.MimeType); err != nil {
		return nil, err
	}
	img.StorageKey = origKey
	img.SizeBytes = int64(len(req.Data))

	if err := s.writeDerivatives(ctx, img, base, res); err != nil {
		return nil, err
	}

	if err := s.repo.CreateImage(ctx, img); err != nil {
		return nil, &ImageError{ImageID: img.ID, Op: "create", Err: err}
	}

	s.logger.Info("image uploaded",
		"image_id", img.ID,
		"owner_id", img.OwnerID,
		"mime_type", img.MimeType,
		"size_bytes", img.SizeBytes)

	s.scheduleIndexing(img, req.Data)
	return img, nil
}

func (s *service) GetImage(ctx context.Context, imageID uuid.UUID) (*StoredImage, error) {
	img, err := s.repo.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *service) ListImagesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*StoredImage, error) {
	return s.repo.ListImagesByOwner(ctx, ownerID)
}

func (s *service) TransformImage(ctx context.Context, req TransformRequest) (*TransformResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	img, err := s.repo.GetImage(ctx, req.ImageID)
	if err != nil {
		return nil, err
	}

	src, err := s.resolver.Get(ctx, img.StorageKey)
	if err != nil {
		return nil, err
	}

	decoded, _, err := pipeline.Decode(src)
	if err != nil {
		return nil, &ImageError{ImageID: img.ID, Op: "decode", Err: err}
	}

	edited, err := transform.Apply(decoded, req.Edits)
	if err != nil {
		return nil, err
	}

	if req.Mode == TransformModePreview {
		preview, err := pipeline.Preview(edited, s.previewMaxWidth, s.previewJPEGQuality)
		if err != nil {
			return nil, &ImageError{ImageID: img.ID, Op: "preview", Err: err}
		}
		uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(preview)
		return &TransformResult{PreviewDataURI: uri}, nil
	}

	res, err := pipeline.FromImage(edited, s.editOpts)
	if err != nil {
		return nil, &ImageError{ImageID: img.ID, Op: "encode", Err: err}
	}

	// Derivatives are rewritten under the same base key, so existing URLs
	// resolve to the edited content.
	base := BaseKey(img.OwnerID, img.ID)
	origKey := s.resolver.MintKey(base, OriginalVariant(pipeline.CodecJPEG))
	if err := s.resolver.Put(ctx, origKey, res.Original, pipeline.CodecJPEG.MimeType()); err != nil {
		return nil, err
	}
	img.StorageKey = origKey
	img.MimeType = pipeline.CodecJPEG.MimeType()
	img.Width = res.Info.Width
	img.Height = res.Info.Height
	img.SizeBytes = int64(len(res.Original))
	img.UpdatedAt = time.Now().UTC()

	if err := s.writeDerivatives(ctx, img, base, res); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateImage(ctx, img); err != nil {
		return nil, &ImageError{ImageID: img.ID, Op: "update", Err: err}
	}

	s.logger.Info("image transformed",
		"image_id", img.ID,
		"width", img.Width,
		"height", img.Height)

	s.scheduleIndexing(img, res.Original)
	return &TransformResult{Image: img}, nil
}

func (s *service) GetImageURLs(ctx context.Context, imageID uuid.UUID) (*ImageURLs, error) {
	img, err := s.repo.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}

	urls := &ImageURLs{Responsive: make(map[int]string, len(img.Responsive))}

	if urls.Original, err = s.resolver.URL(ctx, img.StorageKey); err != nil {
		return nil, err
	}
	if img.ThumbnailKey != "" {
		if urls.Thumbnail, err = s.resolver.URL(ctx, img.ThumbnailKey); err != nil {
			return nil, err
		}
	}
	for _, r := range img.Responsive {
		u, err := s.resolver.URL(ctx, r.Key)
		if err != nil {
			return nil, err
		}
		urls.Responsive[r.Width] = u
	}
	return urls, nil
}

// writeDerivatives stores the thumbnail and responsive renditions produced
// by the pipeline and records their keys on the image. The recorded
// responsive keys are the JPEG ones; other codecs live alongside under the
// same width prefix.
func (s *service) writeDerivatives(ctx context.Context, img *StoredImage, base string, res *pipeline.Result) error {
	thumbKey := ""
	for codec, data := range res.Thumbnail {
		key := s.resolver.MintKey(base, ThumbnailVariant(codec))
		if err := s.resolver.Put(ctx, key, data, codec.MimeType()); err != nil {
			return err
		}
		if codec == pipeline.CodecJPEG {
			thumbKey = key
		}
	}
	img.ThumbnailKey = thumbKey

	img.Responsive = img.Responsive[:0]
	for _, rendition := range res.Responsive {
		for codec, data := range rendition.Encoded {
			key := s.resolver.MintKey(base, WidthVariant(rendition.Width, codec))
			if err := s.resolver.Put(ctx, key, data, codec.MimeType()); err != nil {
				return err
			}
			if codec == pipeline.CodecJPEG {
				img.Responsive = append(img.Responsive, Rendition{Width: rendition.Width, Key: key})
			}
		}
	}
	return nil
}

func (s *service) Drain() {
	s.wg.Wait()
}

func formatExt(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "":
		return "bin"
	default:
		return format
	}
}
