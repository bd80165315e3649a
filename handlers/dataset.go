package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/minsukang/datapilot/analysis"
	"github.com/minsukang/datapilot/contextbuild"
	"github.com/minsukang/datapilot/metastore"
	"github.com/minsukang/datapilot/stream"
)

// DatasetRegistry keeps the batches of parsed datasets available for
// query-time retrieval. It is in-process state; the metastore (when
// configured) records durable metadata only.
type DatasetRegistry struct {
	mu       sync.RWMutex
	datasets map[uuid.UUID]*datasetEntry
}

type datasetEntry struct {
	FileName string
	FilePath string
	Result   stream.ParseResult
	Batches  []*stream.Batch
	ParsedAt time.Time
}

func NewDatasetRegistry() *DatasetRegistry {
	return &DatasetRegistry{datasets: make(map[uuid.UUID]*datasetEntry)}
}

func (r *DatasetRegistry) put(id uuid.UUID, e *datasetEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.datasets[id] = e
}

func (r *DatasetRegistry) get(id uuid.UUID) (*datasetEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.datasets[id]
	return e, ok
}

// DatasetHandler drives the parse of a finalized upload and answers
// questions against parsed datasets.
type DatasetHandler struct {
	registry  *DatasetRegistry
	parser    *stream.Parser
	assembler *contextbuild.Assembler
	analyzers *analysis.Registry
	backend   string
	meta      *metastore.Store // nil when no database is configured
	logger    *slog.Logger
}

func NewDatasetHandler(registry *DatasetRegistry, parser *stream.Parser, assembler *contextbuild.Assembler,
	analyzers *analysis.Registry, backend string, meta *metastore.Store, logger *slog.Logger) *DatasetHandler {
	return &DatasetHandler{
		registry:  registry,
		parser:    parser,
		assembler: assembler,
		analyzers: analyzers,
		backend:   backend,
		meta:      meta,
		logger:    logger,
	}
}

type parseRequest struct {
	FilePath string `json:"file_path"`
}

type parseResponse struct {
	DatasetID    string `json:"dataset_id"`
	TotalRows    int64  `json:"total_rows"`
	TotalBatches int    `json:"total_batches"`
	RaggedRows   int64  `json:"ragged_rows"`
	DurationMS   int64  `json:"duration_ms"`
}

// Parse handles POST /datasets: it streams the file into batches and
// registers them for retrieval.
func (h *DatasetHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FilePath == "" {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var batches []*stream.Batch
	result, err := h.parser.ParseWith(r.Context(), req.FilePath, func(b *stream.Batch) {
		batches = append(batches, b)
	}, nil)
	if err != nil {
		h.logger.Error("parse failed",
			slog.String("path", req.FilePath),
			slog.String("error", err.Error()))
		writeJSONError(w, "Failed to parse file: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	id := uuid.New()
	h.registry.put(id, &datasetEntry{
		FileName: filepath.Base(req.FilePath),
		FilePath: req.FilePath,
		Result:   result,
		Batches:  batches,
		ParsedAt: time.Now(),
	})

	if h.meta != nil {
		h.persistMetadata(r.Context(), id, req.FilePath, result, batches)
	}

	writeJSON(w, http.StatusCreated, parseResponse{
		DatasetID:    id.String(),
		TotalRows:    result.TotalRows,
		TotalBatches: result.TotalBatches,
		RaggedRows:   result.RaggedRows,
		DurationMS:   result.Duration.Milliseconds(),
	})
}

func (h *DatasetHandler) persistMetadata(ctx context.Context, id uuid.UUID, path string, result stream.ParseResult, batches []*stream.Batch) {
	if err := h.meta.SaveDataset(ctx, id, filepath.Base(path), path, result); err != nil {
		h.logger.Error("failed to persist dataset metadata", slog.String("error", err.Error()))
		return
	}
	for _, b := range batches {
		if err := h.meta.SaveBatchSummary(ctx, id, b); err != nil {
			h.logger.Error("failed to persist batch summary",
				slog.Int("batch_index", b.Index),
				slog.String("error", err.Error()))
			return
		}
	}
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer        string `json:"answer"`
	Summary       string `json:"summary"`
	SampleRows    int    `json:"sample_rows"`
	RetrievalPath string `json:"retrieval_path"`
	Analyzer      string `json:"analyzer"`
}

// Ask handles POST /datasets/{id}/ask: it assembles a bounded context for
// the question and runs the configured analyzer. A failed model call
// degrades to the rule-based analyzer instead of failing the request.
func (h *DatasetHandler) Ask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, "Invalid dataset id", http.StatusBadRequest)
		return
	}
	entry, ok := h.registry.get(id)
	if !ok {
		writeJSONError(w, "Dataset not found", http.StatusNotFound)
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	pc := h.assembler.BuildContext(req.Question, entry.Batches)

	used := h.backend
	analyzer, err := h.analyzers.Get(used)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	answer, err := analyzer.Analyze(r.Context(), pc, req.Question)
	if err != nil && used != "rules" {
		h.logger.Warn("model analysis failed, falling back to rule-based",
			slog.String("error", err.Error()))
		if fallback, ferr := h.analyzers.Get("rules"); ferr == nil {
			used = "rules"
			answer, err = fallback.Analyze(r.Context(), pc, req.Question)
		}
	}
	if err != nil {
		writeJSONError(w, "Analysis failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:        answer,
		Summary:       pc.Summary,
		SampleRows:    len(pc.SampleRows),
		RetrievalPath: pc.RetrievalPath,
		Analyzer:      used,
	})
}
