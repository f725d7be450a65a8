package pixelmill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixelmill/pixelmill/pkg/pixelmill/pipeline"
)

func (s *service) SubmitGeneration(ctx context.Context, req SubmitGenerationRequest) (*GenerationJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.withDefaults()

	gen, ok := s.generators[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, req.Provider)
	}

	now := time.Now().UTC()
	job := &GenerationJob{
		ID:             uuid.New(),
		OwnerID:        req.OwnerID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		Steps:          req.Steps,
		Width:          req.Width,
		Height:         req.Height,
		BatchSize:      req.BatchSize,
		Provider:       req.Provider,
		Status:         JobStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	job.appendLog("job queued")

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, &JobError{JobID: job.ID, Op: "create", Err: err}
	}

	// The run outlives the submit request, so it gets its own cancellable
	// context rooted in Background.
	var runCtx context.Context
	var cancel context.CancelFunc
	if s.generationTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), s.generationTimeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}
	s.registry.Register(job.ID, cancel)

	s.wg.Add(1)
	go s.runGeneration(runCtx, gen, req, job.ID)

	s.logger.Info("generation job submitted",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"provider", job.Provider)

	snapshot := *job
	return &snapshot, nil
}

func (s *service) GetGenerationJob(ctx context.Context, jobID uuid.UUID) (*GenerationJob, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *service) CancelGeneration(ctx context.Context, jobID uuid.UUID) (*GenerationJob, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		// Cancelling a finished job is a no-op.
		return job, nil
	}

	s.registry.Cancel(jobID)

	// Mark aborted immediately so a status poll right after the cancel call
	// already sees the terminal state, even though the worker goroutine may
	// still be unwinding.
	now := time.Now().UTC()
	job.Status = JobStatusAborted
	job.AbortedAt = &now
	job.UpdatedAt = now
	job.appendLog("job aborted by user")

	if err := s.repo.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			// The run finished between our read and the write. Report the
			// state that actually won.
			return s.repo.GetJob(ctx, jobID)
		}
		return nil, &JobError{JobID: jobID, Op: "abort", Err: err}
	}

	s.logger.Info("generation job cancelled", "job_id", jobID)
	return job, nil
}

// runGeneration drives a single job from running to a terminal state. All
// repository writes use a background context: the job record must reach a
// terminal state even when the run context is cancelled.
func (s *service) runGeneration(ctx context.Context, gen Generator, req SubmitGenerationRequest, jobID uuid.UUID) {
	defer s.wg.Done()
	defer s.registry.Remove(jobID)

	dbCtx := context.Background()

	job, err := s.repo.GetJob(dbCtx, jobID)
	if err != nil {
		s.logger.Error("generation job lookup failed", "job_id", jobID, "error", err)
		return
	}

	job.Status = JobStatusRunning
	job.appendLog(fmt.Sprintf("job running: provider=%s size=%dx%d steps=%d batch=%d",
		job.Provider, job.Width, job.Height, job.Steps, job.BatchSize))
	if !s.saveJob(dbCtx, job) {
		return
	}

	result, err := gen.Generate(ctx, GenerateParams{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		Steps:          req.Steps,
		Width:          req.Width,
		Height:         req.Height,
		BatchSize:      req.BatchSize,
	})
	if err != nil {
		if errors.Is(err, ErrGenerationCancelled) || errors.Is(err, context.Canceled) {
			s.finishAborted(dbCtx, job)
			return
		}
		s.finishFailed(dbCtx, job, fmt.Errorf("%w: %v", ErrUpstreamGeneration, err))
		return
	}

	for i, generated := range result.Images {
		if ctx.Err() != nil {
			s.finishAborted(dbCtx, job)
			return
		}

		if !req.AllowUnsafe {
			if tag, blocked := s.blockedTag(generated.SafetyTags); blocked {
				job.SafetyTags = mergeTags(job.SafetyTags, generated.SafetyTags)
				job.appendLog(fmt.Sprintf("image %d withheld by safety filter: %s", i+1, tag))
				if !s.saveJob(dbCtx, job) {
					return
				}
				continue
			}
		}

		img, err := s.processGeneratedImage(dbCtx, job, req, result.ModelName, generated)
		if err != nil {
			s.finishFailed(dbCtx, job, err)
			return
		}

		job.ResultImageIDs = append(job.ResultImageIDs, img.ID)
		job.SafetyTags = mergeTags(job.SafetyTags, generated.SafetyTags)
		job.appendLog(fmt.Sprintf("image %d/%d stored: %s", i+1, len(result.Images), img.ID))
		if !s.saveJob(dbCtx, job) {
			return
		}

		s.scheduleIndexing(img, generated.Data)
	}

	s.finishCompleted(dbCtx, job)
}

// processGeneratedImage runs one generated frame through the derivative
// pipeline and persists its record.
func (s *service) processGeneratedImage(ctx context.Context, job *GenerationJob, req SubmitGenerationRequest, modelName string, generated GeneratedImage) (*StoredImage, error) {
	res, err := pipeline.Generate(generated.Data, s.generateOpts)
	if err != nil {
		return nil, &JobError{JobID: job.ID, Op: "decode", Err: err}
	}

	provider := job.Provider
	if modelName != "" {
		provider = modelName
	}

	now := time.Now().UTC()
	img := &StoredImage{
		ID:        uuid.New(),
		OwnerID:   job.OwnerID,
		AlbumID:   req.AlbumID,
		Private:   req.Private,
		MimeType:  res.Info.MimeType,
		Width:     res.Info.Width,
		Height:    res.Info.Height,
		SizeBytes: int64(len(generated.Data)),
		Metadata:  res.Metadata,
		Generation: &GenerationMetadata{
			Prompt:         job.Prompt,
			NegativePrompt: job.NegativePrompt,
			Seed:           job.Seed,
			Provider:       provider,
			SafetyTags:     generated.SafetyTags,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	base := BaseKey(img.OwnerID, img.ID)
	origKey := s.resolver.MintKey(base, "original."+formatExt(res.Info.Format))
	if err := s.resolver.Put(ctx, origKey, generated.Data, res.Info.MimeType); err != nil {
		return nil, err
	}
	img.StorageKey = origKey

	if err := s.writeDerivatives(ctx, img, base, res); err != nil {
		return nil, err
	}

	if err := s.repo.CreateImage(ctx, img); err != nil {
		return nil, &ImageError{ImageID: img.ID, Op: "create", Err: err}
	}
	return img, nil
}

// saveJob persists the job. The repository refuses writes against a job
// that is already terminal, which happens when a cancel lands mid-run.
// Returns false when the run should stop.
func (s *service) saveJob(ctx context.Context, job *GenerationJob) bool {
	job.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			return false
		}
		s.logger.Error("generation job update failed", "job_id", job.ID, "error", err)
		return false
	}
	return true
}

func (s *service) finishCompleted(ctx context.Context, job *GenerationJob) {
	job.Status = JobStatusCompleted
	job.appendLog(fmt.Sprintf("job completed: %d image(s)", len(job.ResultImageIDs)))
	if s.saveJob(ctx, job) {
		s.logger.Info("generation job completed",
			"job_id", job.ID,
			"images", len(job.ResultImageIDs))
	}
}

func (s *service) finishFailed(ctx context.Context, job *GenerationJob, cause error) {
	job.Status = JobStatusFailed
	job.appendLog(fmt.Sprintf("ERROR: %v", cause))
	if s.saveJob(ctx, job) {
		s.logger.Error("generation job failed", "job_id", job.ID, "error", cause)
	}
}

func (s *service) finishAborted(ctx context.Context, job *GenerationJob) {
	now := time.Now().UTC()
	job.Status = JobStatusAborted
	job.AbortedAt = &now
	job.appendLog("job aborted")
	if s.saveJob(ctx, job) {
		s.logger.Info("generation job aborted", "job_id", job.ID)
	}
}

func (s *service) blockedTag(tags []string) (string, bool) {
	for _, t := range tags {
		if _, ok := s.blockedTags[strings.ToLower(t)]; ok {
			return t, true
		}
	}
	return "", false
}

func mergeTags(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		seen[t] = struct{}{}
	}
	for _, t := range extra {
		if _, ok := seen[t]; !ok {
			existing = append(existing, t)
			seen[t] = struct{}{}
		}
	}
	return existing
}
