package contextbuild

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/minsukang/datapilot/retrieval"
	"github.com/minsukang/datapilot/stream"
)

const (
	DefaultRowBudget  = 200
	DefaultByteBudget = 64 * 1024
)

// PromptContext is the bounded payload handed to the model-invocation
// collaborator: a short human-readable summary plus a capped row sample. The
// core knows nothing about prompt formatting or the model API.
type PromptContext struct {
	Summary    string       `json:"summary"`
	SampleRows []stream.Row `json:"sample_rows"`
	// RetrievalPath records which selection route produced the sample:
	// "single-pass", "full-dataset", or "chunked".
	RetrievalPath string `json:"retrieval_path"`
}

// Assembler combines the relevance selector's output with a row/byte budget.
// Budgets only ever truncate the sample, never the summary.
type Assembler struct {
	selector   *retrieval.Selector
	rowBudget  int
	byteBudget int
	logger     *slog.Logger
}

func NewAssembler(selector *retrieval.Selector, rowBudget, byteBudget int, logger *slog.Logger) *Assembler {
	if rowBudget <= 0 {
		rowBudget = DefaultRowBudget
	}
	if byteBudget <= 0 {
		byteBudget = DefaultByteBudget
	}
	return &Assembler{
		selector:   selector,
		rowBudget:  rowBudget,
		byteBudget: byteBudget,
		logger:     logger,
	}
}

// BuildContext selects the batches most relevant to the query and renders
// the bounded context payload.
func (a *Assembler) BuildContext(query string, batches []*stream.Batch) PromptContext {
	selected := a.selector.SelectRelevant(batches, query)

	path := retrievalPath(len(batches), len(selected))
	sample := retrieval.ExtractSample(selected, a.rowBudget)
	sample = capSampleBytes(sample, a.byteBudget)

	var totalRows, columns int
	for _, b := range batches {
		if b.Summary != nil {
			totalRows += b.Summary.RowCount
		}
	}
	if len(batches) > 0 {
		columns = len(batches[0].Headers)
	}

	summary := fmt.Sprintf(
		"Dataset: %d rows, %d columns, %d batches. Retrieval: %s over %d selected batch(es), %d sample rows.",
		totalRows, columns, len(batches), path, len(selected), len(sample))

	a.logger.Debug("context assembled",
		slog.String("query", query),
		slog.String("path", path),
		slog.Int("selected_batches", len(selected)),
		slog.Int("sample_rows", len(sample)))

	return PromptContext{
		Summary:       summary,
		SampleRows:    sample,
		RetrievalPath: path,
	}
}

func retrievalPath(total, selected int) string {
	switch {
	case total <= 1:
		return "single-pass"
	case selected >= total:
		return "full-dataset"
	default:
		return "chunked"
	}
}

// capSampleBytes drops rows from the tail until the JSON-encoded sample fits
// the byte budget. The sample shrinks; the summary is untouchable.
func capSampleBytes(rows []stream.Row, budget int) []stream.Row {
	for len(rows) > 0 {
		encoded, err := json.Marshal(rows)
		if err != nil || len(encoded) <= budget {
			return rows
		}
		// Shed proportionally rather than one row at a time.
		next := len(rows) * budget / len(encoded)
		if next >= len(rows) {
			next = len(rows) - 1
		}
		rows = rows[:next]
	}
	return rows
}
