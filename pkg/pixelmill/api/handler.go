package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/transform"
)

// maxUploadBytes caps the request body accepted by the upload endpoint.
const maxUploadBytes = 64 << 20 // 64 MiB

// Handler handles HTTP requests for image generation and editing
type Handler struct {
	service pixelmill.Service
}

// NewHandler creates a new API handler
func NewHandler(service pixelmill.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the routes for the image API
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/generation", h.SubmitGeneration)
	r.Get("/generation/{jobID}", h.GetGenerationJob)
	r.Post("/generation/{jobID}/cancel", h.CancelGeneration)

	r.Post("/images", h.UploadImage)
	r.Get("/images", h.ListImages)
	r.Get("/images/{id}", h.GetImage)
	r.Get("/images/{id}/urls", h.GetImageURLs)
	r.Post("/images/{id}/transform", h.TransformImage)

	return r
}

// SubmitGenerationRequest is the request body for submitting a generation job
type SubmitGenerationRequest struct {
	OwnerID        string          `json:"owner_id"`
	Prompt         string          `json:"prompt"`
	NegativePrompt string          `json:"negative_prompt,omitempty"`
	Seed           *int64          `json:"seed,omitempty"`
	Steps          int             `json:"steps,omitempty"`
	Width          int             `json:"width,omitempty"`
	Height         int             `json:"height,omitempty"`
	BatchSize      int             `json:"batch_size,omitempty"`
	Provider       string          `json:"provider"`
	AllowUnsafe    bool            `json:"allow_unsafe,omitempty"`
	AlbumID        string          `json:"album_id,omitempty"`
	Private        bool            `json:"private,omitempty"`
}

// SubmitGeneration submits a new generation job
func (h *Handler) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	var req SubmitGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		slog.Error("Invalid owner ID", "owner_id", req.OwnerID, "error", err)
		http.Error(w, "Invalid owner ID", http.StatusBadRequest)
		return
	}

	submitReq := pixelmill.SubmitGenerationRequest{
		OwnerID:        ownerID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		Steps:          req.Steps,
		Width:          req.Width,
		Height:         req.Height,
		BatchSize:      req.BatchSize,
		Provider:       req.Provider,
		AllowUnsafe:    req.AllowUnsafe,
		Private:        req.Private,
	}
	if req.AlbumID != "" {
		albumID, err := uuid.Parse(req.AlbumID)
		if err != nil {
			http.Error(w, "Invalid album ID", http.StatusBadRequest)
			return
		}
		submitReq.AlbumID = &albumID
	}

	job, err := h.service.SubmitGeneration(r.Context(), submitReq)
	if err != nil {
		writeServiceError(w, "submit generation", err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, job)
}

// GetGenerationJob returns the current state of a generation job
func (h *Handler) GetGenerationJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseIDParam(w, r, "jobID")
	if !ok {
		return
	}

	job, err := h.service.GetGenerationJob(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, "get generation job", err)
		return
	}

	render.JSON(w, r, job)
}

// CancelGeneration requests cooperative cancellation of a running job
func (h *Handler) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseIDParam(w, r, "jobID")
	if !ok {
		return
	}

	job, err := h.service.CancelGeneration(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, "cancel generation", err)
		return
	}

	render.JSON(w, r, job)
}

// UploadImage stores an uploaded image and its derivatives. Accepts
// multipart form data with a "file" part and "owner_id" field.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ownerID, err := uuid.Parse(r.FormValue("owner_id"))
	if err != nil {
		http.Error(w, "Invalid owner ID", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file part is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	uploadReq := pixelmill.UploadImageRequest{
		OwnerID:  ownerID,
		Data:     data,
		FileName: header.Filename,
		Private:  r.FormValue("private") == "true",
	}
	if v := r.FormValue("album_id"); v != "" {
		albumID, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, "Invalid album ID", http.StatusBadRequest)
			return
		}
		uploadReq.AlbumID = &albumID
	}

	img, err := h.service.UploadImage(r.Context(), uploadReq)
	if err != nil {
		writeServiceError(w, "upload image", err)
		return
	}

	slog.Info("Image uploaded", "image_id", img.ID.String())
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, img)
}

// GetImage returns a stored image record
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	imageID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	img, err := h.service.GetImage(r.Context(), imageID)
	if err != nil {
		writeServiceError(w, "get image", err)
		return
	}

	render.JSON(w, r, img)
}

// ListImages returns all images belonging to an owner
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(r.URL.Query().Get("owner_id"))
	if err != nil {
		http.Error(w, "Invalid owner ID", http.StatusBadRequest)
		return
	}

	images, err := h.service.ListImagesByOwner(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, "list images", err)
		return
	}

	render.JSON(w, r, map[string]interface{}{"images": images})
}

// GetImageURLs returns resolved access URLs for an image
func (h *Handler) GetImageURLs(w http.ResponseWriter, r *http.Request) {
	imageID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	urls, err := h.service.GetImageURLs(r.Context(), imageID)
	if err != nil {
		writeServiceError(w, "get image urls", err)
		return
	}

	render.JSON(w, r, urls)
}

// TransformImageRequest is the request body for editing an image
type TransformImageRequest struct {
	Mode  string          `json:"mode"`
	Edits transform.Edits `json:"edits"`
}

// TransformImage applies or previews an edit descriptor
func (h *Handler) TransformImage(w http.ResponseWriter, r *http.Request) {
	imageID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req TransformImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.TransformImage(r.Context(), pixelmill.TransformRequest{
		ImageID: imageID,
		Edits:   req.Edits,
		Mode:    pixelmill.TransformMode(req.Mode),
	})
	if err != nil {
		writeServiceError(w, "transform image", err)
		return
	}

	render.JSON(w, r, result)
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, pixelmill.ErrJobNotFound),
		errors.Is(err, pixelmill.ErrImageNotFound),
		errors.Is(err, pixelmill.ErrObjectNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pixelmill.ErrInvalidRequest),
		errors.Is(err, pixelmill.ErrProviderNotFound),
		errors.Is(err, pixelmill.ErrCodecFailure),
		errors.Is(err, transform.ErrInvalidEdits):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Request failed", "op", op, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
