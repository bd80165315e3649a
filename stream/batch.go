package stream

import (
	"time"
)

// Row maps a column name to a typed scalar: float64, bool, time.Time, string,
// or nil for an empty cell.
type Row map[string]any

// Batch is a bounded, ordered group of rows produced while streaming a file.
// It is the unit of summarization and retrieval. StartLine/EndLine is the
// half-open range of data lines the batch covers (header excluded).
type Batch struct {
	ID        string
	Index     int
	StartLine int64
	EndLine   int64
	Headers   []string
	Rows      []Row
	Summary   *BatchSummary
}

// ColumnStats holds the per-column portion of a batch summary. A column can
// carry several sections at once when a file mixes value types within it.
type ColumnStats struct {
	// UniqueValues is a capped sample of distinct string values, a coarse
	// index rather than ground truth for "all distinct values".
	UniqueValues []string

	HasNumbers   bool
	Min          float64
	Max          float64
	Mean         float64
	NumericCount int

	HasDates bool
	Earliest time.Time
	Latest   time.Time
}

// BatchSummary is derived once when a batch is finalized and never mutated
// afterwards. It references at most a fixed sample of the batch's raw values
// so memory stays bounded regardless of batch size.
type BatchSummary struct {
	RowCount int
	Columns  map[string]*ColumnStats
	// Keywords is a capped, approximate index used only to rank batches
	// against a query, never to answer exact-match questions.
	Keywords []string
}

// HasKeyword reports whether term is in the keyword index.
func (s *BatchSummary) HasKeyword(term string) bool {
	for _, k := range s.Keywords {
		if k == term {
			return true
		}
	}
	return false
}

// ParseResult summarizes one complete parse run.
type ParseResult struct {
	Headers       []string
	TotalRows     int64
	TotalBatches  int
	RaggedRows    int64
	ForcedFlushes int
	Duration      time.Duration
}
