package analysis

import (
	"context"
	"fmt"

	"github.com/minsukang/datapilot/contextbuild"
)

// Analyzer answers a natural-language question about a dataset given the
// bounded context the assembler produced. Implementations are selected by
// name through the Registry so the model-backed and rule-based strategies
// stay interchangeable.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, pc contextbuild.PromptContext, question string) (string, error)
}

type Registry struct {
	analyzers map[string]Analyzer
}

func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[string]Analyzer)}
}

// Register adds an analyzer under its own name.
func (r *Registry) Register(a Analyzer) {
	r.analyzers[a.Name()] = a
}

// Get returns an analyzer by name.
func (r *Registry) Get(name string) (Analyzer, error) {
	a, ok := r.analyzers[name]
	if !ok {
		return nil, fmt.Errorf("unknown analyzer: %s", name)
	}
	return a, nil
}
