package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/minsukang/datapilot/apperrors"
	"github.com/minsukang/datapilot/session"
)

// maxChunkBody caps one chunk request's body; chunks larger than the top
// tier (100MB) are never legitimate.
const maxChunkBody = 101 << 20

// UploadHandler exposes the chunked-upload session lifecycle over HTTP.
type UploadHandler struct {
	manager *session.Manager
	logger  *slog.Logger
}

func NewUploadHandler(manager *session.Manager, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{manager: manager, logger: logger}
}

type createSessionRequest struct {
	FileName  string `json:"file_name"`
	TotalSize int64  `json:"total_size"`
	ChunkSize int64  `json:"chunk_size,omitempty"`
}

type createSessionResponse struct {
	SessionID   string `json:"session_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
}

// CreateSession handles POST /uploads.
func (h *UploadHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s, err := h.manager.CreateSession(req.FileName, req.TotalSize, req.ChunkSize)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:   s.ID,
		ChunkSize:   s.ChunkSize,
		TotalChunks: s.TotalChunks,
	})
}

// UploadChunk handles POST /uploads/{id}/chunks/{index} with the raw chunk
// bytes as the request body.
func (h *UploadHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["id"]
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		writeJSONError(w, "Invalid chunk index", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, "Chunk body exceeds the maximum chunk size", http.StatusBadRequest)
			return
		}
		writeJSONError(w, "Failed to read chunk body", http.StatusBadRequest)
		return
	}

	progress, err := h.manager.AcceptChunk(r.Context(), sessionID, index, data)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// GetProgress handles GET /uploads/{id}/progress.
func (h *UploadHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.manager.GetProgress(mux.Vars(r)["id"])
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

type completeResponse struct {
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

// Complete handles POST /uploads/{id}/complete, reassembling the file.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	path, size, err := h.manager.Finalize(r.Context(), sessionID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{FilePath: path, FileSize: size})
}

// writeSessionError maps the error taxonomy onto HTTP statuses without
// downgrading the specific kind.
func (h *UploadHandler) writeSessionError(w http.ResponseWriter, err error) {
	var incomplete *apperrors.IncompleteUploadError
	switch {
	case errors.Is(err, apperrors.ErrSessionNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, apperrors.ErrInvalidInput):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":          "upload incomplete",
			"missing_chunks": incomplete.Missing,
		})
	default:
		h.logger.Error("upload request failed", slog.String("error", err.Error()))
		writeJSONError(w, "Internal error", http.StatusInternalServerError)
	}
}
