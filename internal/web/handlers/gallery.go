package handlers

import (
	"net/http"

	"github.com/kozaktomas/roll-call/internal/recognize"
)

// GalleryHandler exposes gallery refresh and statistics.
type GalleryHandler struct {
	gallery *recognize.Gallery
}

// NewGalleryHandler creates a new gallery handler.
func NewGalleryHandler(gallery *recognize.Gallery) *GalleryHandler {
	return &GalleryHandler{gallery: gallery}
}

// Refresh handles POST /api/v1/gallery/refresh. Frames in flight keep the
// snapshot they started with; the new snapshot applies to later frames.
func (h *GalleryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.gallery.Refresh(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.gallery.Stats())
}

// Stats handles GET /api/v1/gallery/stats.
func (h *GalleryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.gallery.Stats())
}
