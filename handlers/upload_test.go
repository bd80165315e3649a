package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/minsukang/datapilot/analysis"
	"github.com/minsukang/datapilot/chunkstore"
	"github.com/minsukang/datapilot/contextbuild"
	"github.com/minsukang/datapilot/handlers"
	"github.com/minsukang/datapilot/retrieval"
	"github.com/minsukang/datapilot/server"
	"github.com/minsukang/datapilot/session"
	"github.com/minsukang/datapilot/stream"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := t.TempDir()
	finalDir := filepath.Join(root, "complete")
	if err := os.MkdirAll(finalDir, 0755); err != nil {
		t.Fatal(err)
	}

	chunks := chunkstore.NewLocalStore(filepath.Join(root, "staging"), false, logger)
	manager := session.NewManager(session.NewStore(), chunks, finalDir, time.Hour, logger)

	parser := stream.NewParser(stream.Options{BatchSize: 10}, logger)
	selector := retrieval.NewSelector(4, logger)
	assembler := contextbuild.NewAssembler(selector, 50, 1<<20, logger)
	registry := analysis.NewRegistry()
	registry.Register(analysis.NewRuleBasedAnalyzer())

	uploadHandler := handlers.NewUploadHandler(manager, logger)
	datasetHandler := handlers.NewDatasetHandler(
		handlers.NewDatasetRegistry(), parser, assembler, registry, "rules", nil, logger)

	srv := httptest.NewServer(server.SetupRoutes(uploadHandler, datasetHandler))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func TestUploadLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	content := []byte("name,age\nkim,31\nlee,28\n")

	// Create the session.
	resp := postJSON(t, srv.URL+"/uploads", map[string]any{
		"file_name":  "people.csv",
		"total_size": len(content),
		"chunk_size": 10,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	var created struct {
		SessionID   string `json:"session_id"`
		ChunkSize   int64  `json:"chunk_size"`
		TotalChunks int    `json:"total_chunks"`
	}
	decodeBody(t, resp, &created)
	if created.TotalChunks != 3 {
		t.Fatalf("total_chunks = %d, want 3", created.TotalChunks)
	}

	// Send chunks out of order.
	for _, i := range []int{2, 0, 1} {
		end := (i + 1) * 10
		if end > len(content) {
			end = len(content)
		}
		url := fmt.Sprintf("%s/uploads/%s/chunks/%d", srv.URL, created.SessionID, i)
		resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(content[i*10:end]))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("chunk %d: status %d", i, resp.StatusCode)
		}
	}

	// Progress should show a complete upload.
	resp, err := http.Get(fmt.Sprintf("%s/uploads/%s/progress", srv.URL, created.SessionID))
	if err != nil {
		t.Fatal(err)
	}
	var progress session.Progress
	decodeBody(t, resp, &progress)
	if progress.UploadedChunks != 3 || progress.Percent != 100 {
		t.Errorf("progress = %+v, want 3 chunks at 100%%", progress)
	}

	// Finalize and check the reassembled bytes.
	resp = postJSON(t, fmt.Sprintf("%s/uploads/%s/complete", srv.URL, created.SessionID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: status %d", resp.StatusCode)
	}
	var completed struct {
		FilePath string `json:"file_path"`
		FileSize int64  `json:"file_size"`
	}
	decodeBody(t, resp, &completed)
	data, err := os.ReadFile(completed.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, content) {
		t.Error("reassembled file differs from uploaded bytes")
	}

	// Parse the finalized file and ask a question end to end.
	resp = postJSON(t, srv.URL+"/datasets", map[string]string{"file_path": completed.FilePath})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("parse: status %d", resp.StatusCode)
	}
	var parsed struct {
		DatasetID string `json:"dataset_id"`
		TotalRows int64  `json:"total_rows"`
	}
	decodeBody(t, resp, &parsed)
	if parsed.TotalRows != 2 {
		t.Errorf("total_rows = %d, want 2", parsed.TotalRows)
	}

	resp = postJSON(t, fmt.Sprintf("%s/datasets/%s/ask", srv.URL, parsed.DatasetID),
		map[string]string{"question": "what is the average age?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask: status %d", resp.StatusCode)
	}
	var answer struct {
		Answer   string `json:"answer"`
		Analyzer string `json:"analyzer"`
	}
	decodeBody(t, resp, &answer)
	if answer.Analyzer != "rules" {
		t.Errorf("analyzer = %q, want rules", answer.Analyzer)
	}
	if answer.Answer == "" {
		t.Error("expected a non-empty rule-based answer")
	}
}

func TestCompleteIncompleteUploadReturnsMissing(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/uploads", map[string]any{
		"file_name":  "big.bin",
		"total_size": 30,
		"chunk_size": 10,
	})
	var created struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, resp, &created)

	// Only chunk 1 arrives.
	url := fmt.Sprintf("%s/uploads/%s/chunks/1", srv.URL, created.SessionID)
	r, err := http.Post(url, "application/octet-stream", bytes.NewReader(bytes.Repeat([]byte("x"), 10)))
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()

	resp = postJSON(t, fmt.Sprintf("%s/uploads/%s/complete", srv.URL, created.SessionID), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("complete: status %d, want 409", resp.StatusCode)
	}
	var failure struct {
		MissingChunks []int `json:"missing_chunks"`
	}
	decodeBody(t, resp, &failure)
	want := []int{0, 2}
	if len(failure.MissingChunks) != 2 || failure.MissingChunks[0] != want[0] || failure.MissingChunks[1] != want[1] {
		t.Errorf("missing_chunks = %v, want %v", failure.MissingChunks, want)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/uploads/no-such-session/progress")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestOversizedChunkBodyRejected(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/uploads", map[string]any{
		"file_name":  "huge.bin",
		"total_size": 500 << 20,
	})
	var created struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, resp, &created)

	// One byte over the cap must be rejected outright, never staged as a
	// silently truncated chunk.
	oversized := make([]byte, 101<<20+1)
	url := fmt.Sprintf("%s/uploads/%s/chunks/0", srv.URL, created.SessionID)
	chunkResp, err := http.Post(url, "application/octet-stream", bytes.NewReader(oversized))
	if err != nil {
		t.Fatal(err)
	}
	chunkResp.Body.Close()
	if chunkResp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", chunkResp.StatusCode)
	}

	progressResp, err := http.Get(srv.URL + "/uploads/" + created.SessionID + "/progress")
	if err != nil {
		t.Fatal(err)
	}
	var progress struct {
		UploadedChunks int `json:"uploaded_chunks"`
	}
	decodeBody(t, progressResp, &progress)
	if progress.UploadedChunks != 0 {
		t.Errorf("uploaded_chunks = %d, want 0 after a rejected body", progress.UploadedChunks)
	}
}

func TestCreateSessionRejectsBadSize(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/uploads", map[string]any{
		"file_name":  "bad.bin",
		"total_size": 0,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
