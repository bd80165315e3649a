package stream

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SummaryConfig bounds the work done per batch summary. The caps are
// configuration rather than fixed heuristics; the defaults mirror the
// observed sweet spot for dashboard-sized files.
type SummaryConfig struct {
	MaxUniqueValues   int
	KeywordSampleRows int
	MaxKeywords       int
}

func DefaultSummaryConfig() SummaryConfig {
	return SummaryConfig{
		MaxUniqueValues:   100,
		KeywordSampleRows: 10,
		MaxKeywords:       50,
	}
}

// tokenPattern matches alphanumeric runs in Latin and Hangul, the two
// scripts the dashboard's datasets actually contain.
var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+|[\x{AC00}-\x{D7A3}]+`)

// Summarize computes the immutable BatchSummary for a finalized batch:
// per-column unique-value samples, numeric stats over the numeric subset,
// date ranges, and a capped keyword index for retrieval scoring.
func Summarize(headers []string, rows []Row, cfg SummaryConfig) *BatchSummary {
	summary := &BatchSummary{
		RowCount: len(rows),
		Columns:  make(map[string]*ColumnStats, len(headers)),
	}

	for _, col := range headers {
		stats := &ColumnStats{}
		seen := make(map[string]struct{})
		var sum float64

		for _, row := range rows {
			val, ok := row[col]
			if !ok || val == nil {
				continue
			}
			switch v := val.(type) {
			case float64:
				if !stats.HasNumbers || v < stats.Min {
					stats.Min = v
				}
				if !stats.HasNumbers || v > stats.Max {
					stats.Max = v
				}
				stats.HasNumbers = true
				sum += v
				stats.NumericCount++
			case time.Time:
				if !stats.HasDates || v.Before(stats.Earliest) {
					stats.Earliest = v
				}
				if !stats.HasDates || v.After(stats.Latest) {
					stats.Latest = v
				}
				stats.HasDates = true
			case string:
				if len(stats.UniqueValues) < cfg.MaxUniqueValues {
					if _, dup := seen[v]; !dup {
						seen[v] = struct{}{}
						stats.UniqueValues = append(stats.UniqueValues, v)
					}
				}
			}
		}

		if stats.NumericCount > 0 {
			stats.Mean = sum / float64(stats.NumericCount)
		}
		summary.Columns[col] = stats
	}

	summary.Keywords = extractKeywords(headers, rows, cfg)
	return summary
}

// extractKeywords builds the approximate retrieval index from lower-cased
// column names plus tokens drawn from a bounded row prefix. Numeric cells
// contribute coarse bucket tags instead of their literal values.
func extractKeywords(headers []string, rows []Row, cfg SummaryConfig) []string {
	keywords := make([]string, 0, cfg.MaxKeywords)
	seen := make(map[string]struct{})

	add := func(term string) bool {
		if len(keywords) >= cfg.MaxKeywords {
			return false
		}
		if _, dup := seen[term]; dup {
			return true
		}
		seen[term] = struct{}{}
		keywords = append(keywords, term)
		return true
	}

	for _, h := range headers {
		if !add(strings.ToLower(h)) {
			return keywords
		}
	}

	sample := rows
	if len(sample) > cfg.KeywordSampleRows {
		sample = sample[:cfg.KeywordSampleRows]
	}
	for _, row := range sample {
		for _, col := range headers {
			switch v := row[col].(type) {
			case string:
				for _, tok := range tokenPattern.FindAllString(strings.ToLower(v), -1) {
					if len([]rune(tok)) < 3 {
						continue
					}
					if !add(tok) {
						return keywords
					}
				}
			case float64:
				if tag := numericBucket(v); tag != "" {
					if !add(tag) {
						return keywords
					}
				}
			}
		}
	}
	return keywords
}

func numericBucket(v float64) string {
	switch {
	case v >= 0 && v <= 100:
		return "percentage_range"
	case v > 1000:
		return "large_number"
	default:
		return ""
	}
}

// String renders a compact one-line description of a column's summary,
// handy for logs and rule-based answers.
func (c *ColumnStats) String() string {
	var parts []string
	if c.HasNumbers {
		parts = append(parts, fmt.Sprintf("num[min=%g max=%g mean=%g n=%d]", c.Min, c.Max, c.Mean, c.NumericCount))
	}
	if c.HasDates {
		parts = append(parts, fmt.Sprintf("dates[%s..%s]", c.Earliest.Format("2006-01-02"), c.Latest.Format("2006-01-02")))
	}
	if len(c.UniqueValues) > 0 {
		parts = append(parts, fmt.Sprintf("strings[%d uniques]", len(c.UniqueValues)))
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, " ")
}
