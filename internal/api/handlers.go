package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bull/catalog-search/internal/checkpoint"
	"github.com/bull/catalog-search/internal/connector"
	"github.com/bull/catalog-search/internal/embedding"
	"github.com/bull/catalog-search/internal/search"
	"github.com/bull/catalog-search/internal/storage"
	"github.com/bull/catalog-search/internal/syncer"
)

type errorResponse struct {
	Error string `json:"error"`
}

type syncRequest struct {
	Platform  string `json:"platform"`
	BatchSize int    `json:"batchSize"`
}

type syncStartedResponse struct {
	JobID string `json:"jobId"`
}

type jobResponse struct {
	JobID            string     `json:"jobId"`
	Collection       string     `json:"collection"`
	Platform         string     `json:"platform"`
	BatchSize        int        `json:"batchSize"`
	Status           string     `json:"status"`
	RecordsProcessed int        `json:"recordsProcessed"`
	RecordsFailed    int        `json:"recordsFailed"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	Error            string     `json:"error,omitempty"`
}

type searchResponse struct {
	Query   string       `json:"query"`
	Count   int          `json:"count"`
	Results []search.Hit `json:"results"`
}

type statsResponse struct {
	Collection string `json:"collection"`
	PointCount uint64 `json:"pointCount"`
}

type createCollectionRequest struct {
	Name     string `json:"name"`
	Recreate bool   `json:"recreate"`
	Confirm  bool   `json:"confirm"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Index     string `json:"index"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
}

// statusForError maps the domain error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, search.ErrInvalidQuery),
		errors.Is(err, connector.ErrUnknownPlatform):
		return http.StatusBadRequest
	case errors.Is(err, checkpoint.ErrJobNotFound),
		errors.Is(err, storage.ErrCollectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, syncer.ErrSyncAlreadyRunning),
		errors.Is(err, syncer.ErrModelMismatch),
		errors.Is(err, syncer.ErrJobNotCancellable):
		return http.StatusConflict
	case errors.Is(err, embedding.ErrEmbeddingUnavailable),
		errors.Is(err, storage.ErrIndexUnreachable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toJobResponse(job checkpoint.SyncJob) jobResponse {
	return jobResponse{
		JobID:            job.ID,
		Collection:       job.Collection,
		Platform:         job.Platform,
		BatchSize:        job.BatchSize,
		Status:           job.Status,
		RecordsProcessed: job.RecordsProcessed,
		RecordsFailed:    job.RecordsFailed,
		StartedAt:        job.StartedAt,
		FinishedAt:       job.FinishedAt,
		Error:            job.Error,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := s.index.Health(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Index = "disconnected"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Status = "healthy"
	resp.Index = "connected"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Platform == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "platform is required"})
		return
	}

	jobID, err := s.syncer.StartSync(r.Context(), req.Platform, req.BatchSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, syncStartedResponse{JobID: jobID})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.syncer.JobStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleCancelSync(w http.ResponseWriter, r *http.Request) {
	if err := s.syncer.Cancel(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	hits, err := s.searcher.Search(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Query:   params.Query,
		Count:   len(hits),
		Results: hits,
	})
}

func parseSearchParams(r *http.Request) (search.Params, error) {
	q := r.URL.Query()
	params := search.Params{
		Query:    q.Get("q"),
		Limit:    10,
		Platform: q.Get("platform"),
		Category: q.Get("category"),
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return params, fmt.Errorf("%w: limit %q is not an integer", search.ErrInvalidQuery, raw)
		}
		params.Limit = limit
	}
	for name, dst := range map[string]**float64{"minPrice": &params.MinPrice, "maxPrice": &params.MaxPrice} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return params, fmt.Errorf("%w: %s %q is not a number", search.ErrInvalidQuery, name, raw)
		}
		*dst = &v
	}
	if raw := q.Get("hybrid"); raw != "" {
		hybrid, err := strconv.ParseBool(raw)
		if err != nil {
			return params, fmt.Errorf("%w: hybrid %q is not a boolean", search.ErrInvalidQuery, raw)
		}
		params.Hybrid = hybrid
	}
	if raw := q.Get("alpha"); raw != "" {
		alpha, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return params, fmt.Errorf("%w: alpha %q is not a number", search.ErrInvalidQuery, raw)
		}
		params.Alpha = &alpha
	}
	return params, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	if collection == "" {
		collection = s.collection
	}

	count, err := s.index.Stats(r.Context(), collection)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Collection: collection, PointCount: count})
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Name == "" {
		req.Name = s.collection
	}
	// Recreation drops every point in the collection; require an explicit
	// acknowledgement rather than trusting a lone boolean.
	if req.Recreate && !req.Confirm {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "recreate destroys all indexed points; set confirm to proceed",
		})
		return
	}

	if err := s.index.EnsureCollection(r.Context(), req.Name, req.Recreate); err != nil {
		writeError(w, err)
		return
	}
	if req.Recreate {
		if err := s.checkpoints.ClearCollection(r.Context(), req.Name); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"collection": req.Name, "status": "ready"})
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"platforms": s.platforms.Platforms()})
}
