package retrieval

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/minsukang/datapilot/stream"
)

// Scoring weights. Numeric-range hits weigh highest because a query number
// landing inside a column's min/max is the least ambiguous signal we have.
const (
	exactKeywordScore = 15
	partialMatchScore = 5
	numericRangeScore = 20
	dateSignalScore   = 10
	maxSizeBonus      = 5
)

const DefaultMaxBatches = 8

// dateWords are query tokens treated as asking about time, in the two
// languages the dashboard's users write in.
var dateWords = map[string]struct{}{
	"date": {}, "dates": {}, "day": {}, "month": {}, "year": {},
	"time": {}, "when": {}, "recent": {}, "latest": {}, "earliest": {},
	"날짜": {}, "시간": {}, "연도": {}, "월": {}, "일자": {}, "기간": {}, "최근": {},
}

// Selector ranks batches against a free-text query using their summaries.
// It never returns an error: when scoring carries no signal it degrades to an
// even-stride selection so the sample still spans the whole file.
type Selector struct {
	MaxBatches int
	logger     *slog.Logger
}

func NewSelector(maxBatches int, logger *slog.Logger) *Selector {
	if maxBatches <= 0 {
		maxBatches = DefaultMaxBatches
	}
	return &Selector{MaxBatches: maxBatches, logger: logger}
}

// SelectRelevant returns up to maxBatches batches, best-scoring first. An
// empty query, or a query no batch matched, falls back to an evenly spaced
// subset rather than an arbitrary tie-break ordering.
func (s *Selector) SelectRelevant(batches []*stream.Batch, query string) []*stream.Batch {
	if len(batches) == 0 {
		return nil
	}
	tokens := tokenizeQuery(query)
	if len(tokens) == 0 {
		return strideSelect(batches, s.MaxBatches)
	}

	type scored struct {
		batch *stream.Batch
		score float64
	}
	ranked := make([]scored, 0, len(batches))
	anySignal := false
	for _, b := range batches {
		sc := scoreBatch(b, tokens)
		if sc > 0 {
			anySignal = true
		}
		ranked = append(ranked, scored{batch: b, score: sc})
	}
	if !anySignal {
		s.logger.Debug("no batch matched query tokens, using stride fallback",
			slog.String("query", query))
		return strideSelect(batches, s.MaxBatches)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	n := s.MaxBatches
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]*stream.Batch, 0, n)
	for _, r := range ranked[:n] {
		out = append(out, r.batch)
	}
	return out
}

func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(strings.TrimSpace(query)))
}

// scoreBatch sums per-token signals from the batch summary, plus a small
// density bonus so fuller batches win ties.
func scoreBatch(b *stream.Batch, tokens []string) float64 {
	sum := b.Summary
	if sum == nil {
		return 0
	}

	var score float64
	for _, tok := range tokens {
		if sum.HasKeyword(tok) {
			score += exactKeywordScore
		}
		for _, kw := range sum.Keywords {
			if kw == tok {
				continue
			}
			if strings.Contains(kw, tok) || strings.Contains(tok, kw) {
				score += partialMatchScore
			}
		}

		if n, err := strconv.Atoi(tok); err == nil {
			v := float64(n)
			for _, col := range sum.Columns {
				if col.HasNumbers && v >= col.Min && v <= col.Max {
					score += numericRangeScore
					break
				}
			}
		}

		if _, isDateWord := dateWords[tok]; isDateWord {
			for _, col := range sum.Columns {
				if col.HasDates {
					score += dateSignalScore
					break
				}
			}
		}
	}

	if score > 0 {
		bonus := float64(sum.RowCount) / 1000
		if bonus > maxSizeBonus {
			bonus = maxSizeBonus
		}
		score += bonus
	}
	return score
}

// strideSelect picks up to maxBatches evenly spaced batches so the selection
// spans the whole file instead of collapsing to its head.
func strideSelect(batches []*stream.Batch, maxBatches int) []*stream.Batch {
	if len(batches) <= maxBatches {
		out := make([]*stream.Batch, len(batches))
		copy(out, batches)
		return out
	}
	stride := len(batches) / maxBatches
	out := make([]*stream.Batch, 0, maxBatches)
	for i := 0; i < len(batches) && len(out) < maxBatches; i += stride {
		out = append(out, batches[i])
	}
	return out
}

// ExtractSample flattens up to maxSamples rows from the selected batches.
// The budget is split evenly per batch; within a batch rows are picked at a
// stride for spread, then the first/middle/last rows backfill any shortfall
// so boundary rows are always represented.
func ExtractSample(batches []*stream.Batch, maxSamples int) []stream.Row {
	if len(batches) == 0 || maxSamples <= 0 {
		return nil
	}
	perBatch := maxSamples / len(batches)
	if perBatch < 1 {
		perBatch = 1
	}

	var out []stream.Row
	for _, b := range batches {
		out = append(out, sampleBatch(b, perBatch)...)
	}
	if len(out) > maxSamples {
		out = out[:maxSamples]
	}
	return out
}

func sampleBatch(b *stream.Batch, quota int) []stream.Row {
	n := len(b.Rows)
	if n == 0 {
		return nil
	}
	if n <= quota {
		return b.Rows
	}

	picked := make([]stream.Row, 0, quota)
	taken := make(map[int]struct{})
	stride := n / quota
	if stride < 1 {
		stride = 1
	}
	for i := 0; i < n && len(picked) < quota; i += stride {
		picked = append(picked, b.Rows[i])
		taken[i] = struct{}{}
	}
	// Backfill with boundary rows if the stride pass came up short.
	for _, i := range []int{0, n / 2, n - 1} {
		if len(picked) >= quota {
			break
		}
		if _, dup := taken[i]; !dup {
			picked = append(picked, b.Rows[i])
			taken[i] = struct{}{}
		}
	}
	return picked
}
