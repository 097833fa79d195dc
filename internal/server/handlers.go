package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/ragindex/internal/indexing"
	"github.com/54b3r/ragindex/internal/ingestion"
	"github.com/54b3r/ragindex/internal/ledger"
	"github.com/54b3r/ragindex/internal/logging"
	"github.com/54b3r/ragindex/internal/queue"
	"github.com/54b3r/ragindex/internal/rag"
	"github.com/54b3r/ragindex/internal/store"
	"github.com/54b3r/ragindex/internal/vectordb"
)

// Defaults applied to request bodies that omit a field.
const (
	defaultChunkSize   = 100
	defaultOverlapSize = 20
	// maxJSONBody caps the size of JSON request bodies.
	maxJSONBody = 1 << 20
)

// handleUpload handles POST /api/v1/data/upload/{project_id}.
// The file is read from the multipart form field "file".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	projectID := r.PathValue("project_id")

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "upload exceeds the request size limit")
			return
		}
		s.writeError(w, r, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	stored, err := s.deps.Uploader.Upload(r.Context(), projectID, header.Filename, header.Size, file)
	switch {
	case errors.Is(err, ingestion.ErrUnsupportedType):
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ingestion.ErrFileTooLarge):
		s.writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		log.Error("upload failed", slog.String("project_id", projectID), slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, "upload failed")
		return
	}

	s.metrics.uploadBytesTotal.Add(float64(stored.Size))
	writeJSON(w, r, http.StatusOK, uploadResponse{
		FileID:  stored.FileID,
		Size:    stored.Size,
		Message: "file uploaded",
	})
}

// handleProcess handles POST /api/v1/data/process/{project_id}. It queues
// the process-then-index workflow and returns its task id.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	req := processRequest{ChunkSize: defaultChunkSize, OverlapSize: defaultOverlapSize}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.ChunkSize < 1 {
		s.writeError(w, r, http.StatusBadRequest, "chunk_size must be positive")
		return
	}
	if req.OverlapSize < 0 || req.OverlapSize >= req.ChunkSize {
		s.writeError(w, r, http.StatusBadRequest, "overlap_size must be at least 0 and less than chunk_size")
		return
	}

	id, err := s.deps.Submitter.SubmitWorkflow(r.Context(), ingestion.Request{
		ProjectID: r.PathValue("project_id"),
		FileID:    req.FileID,
		ChunkSize: req.ChunkSize,
		Overlap:   req.OverlapSize,
		Reset:     req.Reset,
	})
	s.metrics.submitted("workflow", err)
	if err != nil {
		s.submitFailed(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, submitResponse{TaskID: id, Message: "processing workflow queued"})
}

// handlePush handles POST /api/v1/nlp/index/push/{project_id}. It queues
// an indexing run on its own.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	id, err := s.deps.Submitter.SubmitIndex(r.Context(), indexing.Request{
		ProjectID: r.PathValue("project_id"),
		Reset:     req.Reset,
	})
	s.metrics.submitted("index", err)
	if err != nil {
		s.submitFailed(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, submitResponse{TaskID: id, Message: "indexing queued"})
}

// handleInfo handles GET /api/v1/nlp/index/info/{project_id}.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	name := s.deps.Searcher.Collection(r.PathValue("project_id"))

	info, err := s.deps.Vectors.GetCollectionInfo(r.Context(), name)
	switch {
	case errors.Is(err, vectordb.ErrCollectionNotFound):
		s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("collection %s not found", name))
		return
	case err != nil:
		logging.FromContext(r.Context()).Error("collection info failed", slog.String("collection", name), slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, "collection info failed")
		return
	}
	writeJSON(w, r, http.StatusOK, infoResponse{CollectionInfo: info, Message: "collection info retrieved"})
}

// handleSearch handles POST /api/v1/nlp/index/search/{project_id}.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearch(w, r)
	if !ok {
		return
	}

	results, err := s.deps.Searcher.Search(r.Context(), r.PathValue("project_id"), req.Text, req.Limit)
	if err != nil {
		s.queryFailed(w, r, "search", err)
		return
	}
	if len(results) == 0 {
		s.writeError(w, r, http.StatusNotFound, "no results found")
		return
	}
	writeJSON(w, r, http.StatusOK, searchResponse{Results: results, Message: "search completed"})
}

// handleAnswer handles POST /api/v1/nlp/index/answer/{project_id}.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearch(w, r)
	if !ok {
		return
	}

	answer, err := s.deps.Answerer.Answer(r.Context(), r.PathValue("project_id"), req.Text, req.Limit)
	if err != nil {
		s.queryFailed(w, r, "answer", err)
		return
	}
	if answer == nil {
		s.writeError(w, r, http.StatusNotFound, "no relevant documents found")
		return
	}
	writeJSON(w, r, http.StatusOK, answer)
}

// handleTaskStatus handles GET /api/v1/tasks/{task_id}. Tasks known to the
// dispatcher report live state; otherwise the ledger's latest record for the
// id is returned.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("task_id")

	st, err := s.deps.Tasks.Status(id)
	if err == nil {
		writeJSON(w, r, http.StatusOK, st)
		return
	}
	if !errors.Is(err, queue.ErrNotFound) {
		s.writeError(w, r, http.StatusInternalServerError, "task status failed")
		return
	}

	rec, err := s.deps.Ledger.LatestByExternalID(r.Context(), id)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("task %s not found", id))
		return
	case err != nil:
		logging.FromContext(r.Context()).Error("ledger lookup failed", slog.String("task_id", id), slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, "task status failed")
		return
	}

	resp := taskResponse{
		TaskID:      id,
		TaskName:    rec.TaskName,
		Status:      string(rec.Status),
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if len(rec.Result) > 0 {
		resp.Result = rec.Result
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// decodeSearch decodes and validates a search or answer body.
func (s *Server) decodeSearch(w http.ResponseWriter, r *http.Request) (searchRequest, bool) {
	req := searchRequest{Limit: rag.DefaultLimit}
	if !s.decodeBody(w, r, &req) {
		return req, false
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, r, http.StatusBadRequest, "text must not be empty")
		return req, false
	}
	if req.Limit < 1 {
		s.writeError(w, r, http.StatusBadRequest, "limit must be positive")
		return req, false
	}
	return req, true
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched. It writes a 400 and returns false on malformed input.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// submitFailed maps a job submission error to a response.
func (s *Server) submitFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, queue.ErrClosed) {
		s.writeError(w, r, http.StatusServiceUnavailable, "worker is shutting down")
		return
	}
	logging.FromContext(r.Context()).Error("submit failed", slog.Any("error", err))
	s.writeError(w, r, http.StatusInternalServerError, "failed to queue task")
}

// queryFailed maps a search or answer error to a response.
func (s *Server) queryFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, rag.ErrEmptyQuery), errors.Is(err, vectordb.ErrValidation):
		s.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, vectordb.ErrCollectionNotFound), errors.Is(err, store.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, err.Error())
	default:
		logging.FromContext(r.Context()).Error(op+" failed", slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, op+" failed")
	}
}

// writeError writes a JSON error body with the given status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Message: msg})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
