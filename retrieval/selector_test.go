package retrieval_test

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/minsukang/datapilot/retrieval"
	"github.com/minsukang/datapilot/stream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeBatch(index int, keywords []string, rows int) *stream.Batch {
	return &stream.Batch{
		ID:    fmt.Sprintf("batch-%d", index),
		Index: index,
		Summary: &stream.BatchSummary{
			RowCount: rows,
			Columns:  map[string]*stream.ColumnStats{},
			Keywords: keywords,
		},
	}
}

func batchIndices(batches []*stream.Batch) []int {
	out := make([]int, len(batches))
	for i, b := range batches {
		out[i] = b.Index
	}
	return out
}

func TestSelectRelevantEmptyQueryStride(t *testing.T) {
	var batches []*stream.Batch
	for i := 0; i < 10; i++ {
		batches = append(batches, makeBatch(i, nil, 100))
	}
	selector := retrieval.NewSelector(5, discardLogger())

	got := batchIndices(selector.SelectRelevant(batches, ""))
	want := []int{0, 2, 4, 6, 8}
	if len(got) != len(want) {
		t.Fatalf("selected %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selected %v, want evenly spaced %v", got, want)
		}
	}
}

func TestSelectRelevantNoMatchFallsBackToStride(t *testing.T) {
	var batches []*stream.Batch
	for i := 0; i < 10; i++ {
		batches = append(batches, makeBatch(i, []string{"sales", "region"}, 100))
	}
	selector := retrieval.NewSelector(5, discardLogger())

	empty := batchIndices(selector.SelectRelevant(batches, ""))
	noMatch := batchIndices(selector.SelectRelevant(batches, "zzz_no_match_token"))

	if len(empty) != len(noMatch) {
		t.Fatalf("fallbacks differ: %v vs %v", empty, noMatch)
	}
	for i := range empty {
		if empty[i] != noMatch[i] {
			t.Fatalf("no-match query %v must equal empty-query selection %v", noMatch, empty)
		}
	}
}

func TestSelectRelevantExactKeyword(t *testing.T) {
	matching := makeBatch(0, []string{"revenue"}, 100)
	other := makeBatch(1, []string{"inventory"}, 100)
	selector := retrieval.NewSelector(1, discardLogger())

	got := selector.SelectRelevant([]*stream.Batch{other, matching}, "revenue")
	if len(got) != 1 || got[0].Index != 0 {
		t.Errorf("selected %v, want the keyword-matching batch 0", batchIndices(got))
	}
}

func TestSelectRelevantNumericRange(t *testing.T) {
	inRange := makeBatch(0, nil, 100)
	inRange.Summary.Columns["age"] = &stream.ColumnStats{HasNumbers: true, Min: 10, Max: 20}
	outOfRange := makeBatch(1, nil, 100)
	outOfRange.Summary.Columns["age"] = &stream.ColumnStats{HasNumbers: true, Min: 30, Max: 40}

	selector := retrieval.NewSelector(1, discardLogger())
	got := selector.SelectRelevant([]*stream.Batch{outOfRange, inRange}, "15")
	if len(got) != 1 || got[0].Index != 0 {
		t.Errorf("query 15 should select the batch whose age range covers it, got %v", batchIndices(got))
	}
}

func TestSelectRelevantDateSignal(t *testing.T) {
	dated := makeBatch(0, nil, 100)
	dated.Summary.Columns["created"] = &stream.ColumnStats{HasDates: true}
	plain := makeBatch(1, nil, 100)

	selector := retrieval.NewSelector(1, discardLogger())
	got := selector.SelectRelevant([]*stream.Batch{plain, dated}, "when")
	if len(got) != 1 || got[0].Index != 0 {
		t.Errorf("a date-word query should favor the batch with a date range, got %v", batchIndices(got))
	}
}

func TestSelectRelevantSizeBonusBreaksTies(t *testing.T) {
	small := makeBatch(0, []string{"sales"}, 500)
	large := makeBatch(1, []string{"sales"}, 4000)

	selector := retrieval.NewSelector(1, discardLogger())
	got := selector.SelectRelevant([]*stream.Batch{small, large}, "sales")
	if len(got) != 1 || got[0].Index != 1 {
		t.Errorf("the denser batch should win an otherwise tied score, got %v", batchIndices(got))
	}
}

func TestSelectRelevantEmptyBatches(t *testing.T) {
	selector := retrieval.NewSelector(5, discardLogger())
	if got := selector.SelectRelevant(nil, "anything"); got != nil {
		t.Errorf("nil batches should select nothing, got %v", batchIndices(got))
	}
}

func rowsOf(n int) []stream.Row {
	rows := make([]stream.Row, n)
	for i := range rows {
		rows[i] = stream.Row{"i": float64(i)}
	}
	return rows
}

func TestExtractSampleBudgetSplit(t *testing.T) {
	b1 := makeBatch(0, nil, 100)
	b1.Rows = rowsOf(100)
	b2 := makeBatch(1, nil, 100)
	b2.Rows = rowsOf(100)

	sample := retrieval.ExtractSample([]*stream.Batch{b1, b2}, 10)
	if len(sample) != 10 {
		t.Errorf("sample size = %d, want the full budget 10", len(sample))
	}
}

func TestExtractSampleSpread(t *testing.T) {
	b := makeBatch(0, nil, 100)
	b.Rows = rowsOf(100)

	sample := retrieval.ExtractSample([]*stream.Batch{b}, 4)
	// Stride 25 picks indices 0, 25, 50, 75 so the sample spans the batch
	// instead of clustering at its head.
	want := []float64{0, 25, 50, 75}
	if len(sample) != 4 {
		t.Fatalf("sample size = %d, want 4", len(sample))
	}
	for i, row := range sample {
		if row["i"] != want[i] {
			t.Errorf("sample[%d] = %v, want row %g", i, row["i"], want[i])
		}
	}
}

func TestExtractSampleSmallBatch(t *testing.T) {
	b := makeBatch(0, nil, 3)
	b.Rows = rowsOf(3)
	sample := retrieval.ExtractSample([]*stream.Batch{b}, 10)
	if len(sample) != 3 {
		t.Errorf("sample size = %d, want all 3 rows of a small batch", len(sample))
	}
}

func TestExtractSampleTruncates(t *testing.T) {
	var batches []*stream.Batch
	for i := 0; i < 7; i++ {
		b := makeBatch(i, nil, 10)
		b.Rows = rowsOf(10)
		batches = append(batches, b)
	}
	sample := retrieval.ExtractSample(batches, 5)
	if len(sample) > 5 {
		t.Errorf("sample size = %d, want at most the budget 5", len(sample))
	}
}
