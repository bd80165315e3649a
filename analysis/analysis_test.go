package analysis_test

import (
	"context"
	"strings"
	"testing"

	"github.com/minsukang/datapilot/analysis"
	"github.com/minsukang/datapilot/contextbuild"
	"github.com/minsukang/datapilot/stream"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := analysis.NewRegistry()
	registry.Register(analysis.NewRuleBasedAnalyzer())

	a, err := registry.Get("rules")
	if err != nil {
		t.Fatalf("expected to retrieve analyzer, got error: %v", err)
	}
	if a.Name() != "rules" {
		t.Errorf("Name() = %q, want rules", a.Name())
	}
}

func TestRegistryUnknownAnalyzer(t *testing.T) {
	registry := analysis.NewRegistry()
	_, err := registry.Get("nope")
	if err == nil {
		t.Fatal("expected error for unregistered analyzer, got nil")
	}
	expectedErrorMsg := "unknown analyzer: nope"
	if err.Error() != expectedErrorMsg {
		t.Errorf("expected error %q, got %q", expectedErrorMsg, err.Error())
	}
}

func TestRuleBasedAnalyzerProfilesColumns(t *testing.T) {
	pc := contextbuild.PromptContext{
		Summary: "Dataset: 3 rows, 2 columns, 1 batches.",
		SampleRows: []stream.Row{
			{"age": float64(10), "name": "kim"},
			{"age": float64(30), "name": "lee"},
			{"age": nil, "name": "park"},
		},
		RetrievalPath: "single-pass",
	}

	answer, err := analysis.NewRuleBasedAnalyzer().Analyze(context.Background(), pc, "what ages appear?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(answer, pc.Summary) {
		t.Error("answer should start from the dataset summary")
	}
	if !strings.Contains(answer, "age: numeric, min 10, max 30, mean 20") {
		t.Errorf("answer should profile the numeric column, got:\n%s", answer)
	}
	if !strings.Contains(answer, "name: text") {
		t.Errorf("answer should profile the text column, got:\n%s", answer)
	}
}

func TestRuleBasedAnalyzerEmptyContext(t *testing.T) {
	answer, err := analysis.NewRuleBasedAnalyzer().Analyze(context.Background(),
		contextbuild.PromptContext{Summary: "Dataset: 0 rows, 0 columns, 0 batches."}, "")
	if err != nil {
		t.Fatal(err)
	}
	if answer == "" {
		t.Error("expected a non-empty answer even for an empty context")
	}
}
