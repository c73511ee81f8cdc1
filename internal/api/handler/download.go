package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/tokgrab/internal/domain"
	"github.com/iconidentify/tokgrab/internal/service"
)

// DownloadService is the part of service.DownloadService the HTTP layer needs.
type DownloadService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*domain.Download, error)
	Get(ctx context.Context, id domain.DownloadID) (*domain.Download, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.Download, error)
	VideoInfo(ctx context.Context, rawURL string) (*service.VideoInfo, error)
	Deliver(ctx context.Context, id domain.DownloadID, format string) (*service.Delivery, error)
}

// DownloadHandler handles download-related HTTP requests.
type DownloadHandler struct {
	svc    DownloadService
	logger *slog.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(svc DownloadService, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		svc:    svc,
		logger: logger,
	}
}

// VideoInfoRequest is the JSON request body for POST /video-info.
type VideoInfoRequest struct {
	URL string `json:"url"`
}

// CreateRequest is the JSON request body for POST /downloads.
type CreateRequest struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
}

// DownloadResponse is the wire form of a download record. Unset fields are null.
type DownloadResponse struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Format      string    `json:"format"`
	Quality     string    `json:"quality"`
	Title       *string   `json:"title"`
	Duration    *int      `json:"duration"`
	Thumbnail   *string   `json:"thumbnail"`
	Status      string    `json:"status"`
	DownloadURL *string   `json:"downloadUrl"`
	Error       *string   `json:"error"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toResponse(d *domain.Download) DownloadResponse {
	return DownloadResponse{
		ID:          int64(d.ID),
		URL:         d.URL,
		Format:      string(d.Format),
		Quality:     string(d.Quality),
		Title:       d.Title,
		Duration:    d.Duration,
		Thumbnail:   d.Thumbnail,
		Status:      string(d.Status),
		DownloadURL: d.DownloadURL,
		Error:       d.Error,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// VideoInfo handles POST /video-info
func (h *DownloadHandler) VideoInfo(w http.ResponseWriter, r *http.Request) {
	var req VideoInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.svc.VideoInfo(r.Context(), req.URL)
	if err != nil {
		if service.IsClientError(err) {
			h.logger.Warn("video info failed", "url", req.URL, "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("video info failed", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to extract video information")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// Create handles POST /downloads
func (h *DownloadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.svc.Submit(r.Context(), service.SubmitRequest{
		URL:     req.URL,
		Format:  req.Format,
		Quality: req.Quality,
	})
	if err != nil {
		if service.IsClientError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("create download failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create download")
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(d))
}

// Get handles GET /downloads/{id}
func (h *DownloadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrDownloadNotFound) {
			writeError(w, http.StatusNotFound, "Download not found")
			return
		}
		h.logger.Error("get download failed", "download_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get download")
		return
	}

	writeJSON(w, http.StatusOK, toResponse(d))
}

// List handles GET /downloads
func (h *DownloadHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	downloads, err := h.svc.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list downloads failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list downloads")
		return
	}

	resp := make([]DownloadResponse, 0, len(downloads))
	for _, d := range downloads {
		resp = append(resp, toResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Serve handles GET /download/{id}/{format}
func (h *DownloadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	delivery, err := h.svc.Deliver(r.Context(), id, chi.URLParam(r, "format"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDownloadNotFound):
			writeError(w, http.StatusNotFound, "Download not found")
		case errors.Is(err, domain.ErrDownloadNotReady):
			writeError(w, http.StatusBadRequest, "Download not ready")
		case errors.Is(err, domain.ErrInvalidFormat):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("deliver failed", "download_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to deliver download")
		}
		return
	}

	w.Header().Set("Content-Type", delivery.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", delivery.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(delivery.Data)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(delivery.Data); err != nil {
		h.logger.Warn("write delivery failed", "download_id", id, "error", err)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (domain.DownloadID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid download id")
		return 0, false
	}
	return domain.DownloadID(id), true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
