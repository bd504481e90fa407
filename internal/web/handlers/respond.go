package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/opensupplyhub/dedupe-hub/internal/store"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	BatchID string `json:"batch_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeStoreError maps a store or matcher error to a status code
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, batchID string) {
	status := http.StatusInternalServerError
	if store.ErrNotFound.Has(err) {
		status = http.StatusNotFound
	} else {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("batch_id", batchID).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), BatchID: batchID})
}
