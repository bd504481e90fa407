package handlers

import (
	"context"
	"net/http"

	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
)

// GazetteerCache is the part of the gazetteer cache the API exposes
type GazetteerCache interface {
	Status() gazetteer.Status
	Rebuild(ctx context.Context) (*gazetteer.Gazetteer, error)
}

// GazetteerHandler reports on and rebuilds the gazetteer
type GazetteerHandler struct {
	Cache GazetteerCache
}

// Status returns the cache status
func (h *GazetteerHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Status())
}

// Rebuild forces a full rebuild and returns the new status
func (h *GazetteerHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Cache.Rebuild(r.Context()); err != nil {
		writeStoreError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, h.Cache.Status())
}
