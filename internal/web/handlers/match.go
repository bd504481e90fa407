package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/opensupplyhub/dedupe-hub/internal/match"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
	"github.com/opensupplyhub/dedupe-hub/internal/payload"
)

// Matcher runs match requests synchronously
type Matcher interface {
	MatchList(ctx context.Context, listID int64) (*match.Summary, error)
	MatchItems(ctx context.Context, ids []int64) (*match.Summary, error)
}

// Enqueuer queues match requests for a consumer
type Enqueuer interface {
	Enqueue(ctx context.Context, req payload.MatchRequest) (string, error)
}

// RunGetter looks up recorded match runs
type RunGetter interface {
	GetRun(ctx context.Context, batchID string) (model.MatchRun, error)
}

// MatchHandler handles the matching endpoints
type MatchHandler struct {
	Matcher Matcher
	Runs    RunGetter
	// Queue is nil when no queue is configured
	Queue Enqueuer
}

// EnqueueResponse acknowledges a queued request
type EnqueueResponse struct {
	EntryID string `json:"entry_id"`
}

// MatchList matches every item of the list named in the path
func (h *MatchHandler) MatchList(w http.ResponseWriter, r *http.Request) {
	listID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || listID < 1 {
		writeError(w, http.StatusBadRequest, "invalid list ID")
		return
	}

	summary, err := h.Matcher.MatchList(r.Context(), listID)
	h.respond(w, r, summary, err)
}

// MatchItems matches the items named in a {"item_ids": [...]} body
func (h *MatchHandler) MatchItems(w http.ResponseWriter, r *http.Request) {
	req, ok := readRequest(w, r)
	if !ok {
		return
	}
	if len(req.ItemIDs) == 0 {
		writeError(w, http.StatusBadRequest, "item_ids is required, use /api/match/lists/{id} for lists")
		return
	}

	summary, err := h.Matcher.MatchItems(r.Context(), req.ItemIDs)
	h.respond(w, r, summary, err)
}

// Enqueue queues a list or item request for asynchronous matching
func (h *MatchHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "no queue configured")
		return
	}

	req, ok := readRequest(w, r)
	if !ok {
		return
	}

	id, err := h.Queue.Enqueue(r.Context(), *req)
	if err != nil {
		writeStoreError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{EntryID: id})
}

// GetRun returns the run record of a batch
func (h *MatchHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Runs.GetRun(r.Context(), mux.Vars(r)["batch"])
	if err != nil {
		writeStoreError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *MatchHandler) respond(w http.ResponseWriter, r *http.Request, summary *match.Summary, err error) {
	if err != nil {
		batchID := ""
		if summary != nil {
			batchID = summary.Run.BatchID
		}
		writeStoreError(w, r, err, batchID)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func readRequest(w http.ResponseWriter, r *http.Request) (*payload.MatchRequest, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}

	req, err := payload.ValidateMatchRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return req, true
}
