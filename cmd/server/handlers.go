package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/brunobiangulo/docdiff"
)

type handler struct {
	engine         docdiff.Engine
	compareTimeout time.Duration
}

func newHandler(e docdiff.Engine) *handler {
	return &handler{engine: e, compareTimeout: 30 * time.Minute}
}

type compareRequest struct {
	TaskID         string `json:"task_id"`
	SourceFileName string `json:"source_file_name"`
	TargetFileName string `json:"target_file_name"`
}

type artifactPair struct {
	Page        int    `json:"page"`
	SourceImage string `json:"source_image"`
	TargetImage string `json:"target_image"`
}

type compareResponse struct {
	Status      string                `json:"status"`
	RunID       string                `json:"run_id"`
	Pages       int                   `json:"pages"`
	Artifacts   []artifactPair        `json:"artifacts"`
	FailedPages []docdiff.PageFailure `json:"failed_pages"`
	ManifestKey string                `json:"manifest_key,omitempty"`
}

// POST /compare
func (h *handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.compareTimeout)
	defer cancel()

	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TaskID == "" || req.SourceFileName == "" || req.TargetFileName == "" {
		writeError(w, http.StatusBadRequest, "task_id, source_file_name and target_file_name are required")
		return
	}

	res, err := h.engine.Compare(ctx, req.TaskID, req.SourceFileName, req.TargetFileName)
	if err != nil {
		status := statusFor(err)
		slog.Error("compare error",
			"request_id", middleware.GetReqID(r.Context()),
			"task_id", req.TaskID,
			"source", req.SourceFileName,
			"target", req.TargetFileName,
			"status", status,
			"error", err,
		)
		writeError(w, status, err.Error())
		return
	}

	resp := compareResponse{
		Status:      "completed",
		RunID:       res.RunID,
		Pages:       res.Pages,
		Artifacts:   make([]artifactPair, len(res.Artifacts)),
		FailedPages: res.FailedPages,
		ManifestKey: res.ManifestKey,
	}
	for i, a := range res.Artifacts {
		resp.Artifacts[i] = artifactPair(a)
	}
	if resp.FailedPages == nil {
		resp.FailedPages = []docdiff.PageFailure{}
	}
	if len(resp.FailedPages) > 0 {
		resp.Status = "partial"
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /classify
func (h *handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	roles, err := h.engine.Classify(r.Context(), req.TaskID)
	if err != nil {
		status := statusFor(err)
		slog.Error("classify error", "task_id", req.TaskID, "status", status, "error", err)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": req.TaskID,
		"roles":   roles,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var mismatch *docdiff.PageCountMismatchError
	var conv *docdiff.ConversionError
	switch {
	case errors.As(err, &mismatch), errors.As(err, &conv), errors.Is(err, docdiff.ErrNoPages):
		return http.StatusUnprocessableEntity
	case errors.Is(err, docdiff.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, docdiff.ErrInvalidTask), errors.Is(err, docdiff.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, docdiff.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
