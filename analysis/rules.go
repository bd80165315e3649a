package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/minsukang/datapilot/contextbuild"
	"github.com/minsukang/datapilot/stream"
)

// RuleBasedAnalyzer composes an answer directly from the assembled context
// without calling any external API. It is the degraded path when the model
// backend is unavailable, and the default for offline CLI use.
type RuleBasedAnalyzer struct{}

func NewRuleBasedAnalyzer() *RuleBasedAnalyzer { return &RuleBasedAnalyzer{} }

func (a *RuleBasedAnalyzer) Name() string { return "rules" }

func (a *RuleBasedAnalyzer) Analyze(ctx context.Context, pc contextbuild.PromptContext, question string) (string, error) {
	var b strings.Builder
	b.WriteString(pc.Summary)
	b.WriteString("\n")

	stats := columnProfile(pc.SampleRows)
	if len(stats) > 0 {
		b.WriteString("Column profile from the sampled rows:\n")
		for _, line := range stats {
			b.WriteString("  - ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if q := strings.TrimSpace(question); q != "" {
		fmt.Fprintf(&b, "The question %q was answered from summary statistics only; connect a model backend for deeper analysis.", q)
	}
	return b.String(), nil
}

// columnProfile derives quick per-column facts from the sample itself. The
// sample is already bounded, so a full pass over it is cheap.
func columnProfile(rows []stream.Row) []string {
	if len(rows) == 0 {
		return nil
	}

	type agg struct {
		numeric  int
		min, max float64
		sum      float64
		strings  int
		empty    int
	}
	byCol := make(map[string]*agg)
	for _, row := range rows {
		for col, val := range row {
			a, ok := byCol[col]
			if !ok {
				a = &agg{}
				byCol[col] = a
			}
			switch v := val.(type) {
			case float64:
				if a.numeric == 0 || v < a.min {
					a.min = v
				}
				if a.numeric == 0 || v > a.max {
					a.max = v
				}
				a.sum += v
				a.numeric++
			case string:
				a.strings++
			case nil:
				a.empty++
			}
		}
	}

	cols := make([]string, 0, len(byCol))
	for col := range byCol {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	lines := make([]string, 0, len(cols))
	for _, col := range cols {
		a := byCol[col]
		switch {
		case a.numeric > 0:
			lines = append(lines, fmt.Sprintf("%s: numeric, min %.4g, max %.4g, mean %.4g (%d values)",
				col, a.min, a.max, a.sum/float64(a.numeric), a.numeric))
		case a.strings > 0:
			lines = append(lines, fmt.Sprintf("%s: text (%d values)", col, a.strings))
		default:
			lines = append(lines, fmt.Sprintf("%s: mostly empty", col))
		}
	}
	return lines
}
