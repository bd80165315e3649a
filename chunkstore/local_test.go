package chunkstore_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/minsukang/datapilot/chunkstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		compress bool
	}{
		{"plain", false},
		{"lz4 compressed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()
			store := chunkstore.NewLocalStore(root, tt.compress, discardLogger())

			dir := store.SessionDir("sess-1")
			chunks := [][]byte{
				bytes.Repeat([]byte("alpha"), 100),
				bytes.Repeat([]byte("beta"), 50),
				[]byte("tail"),
			}
			// Write out of order; assembly must follow index order.
			for _, i := range []int{2, 0, 1} {
				if err := store.WriteChunk(ctx, dir, i, chunks[i]); err != nil {
					t.Fatalf("WriteChunk(%d): %v", i, err)
				}
			}

			dest := filepath.Join(root, "out.bin")
			written, err := store.Assemble(ctx, dir, len(chunks), dest)
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}

			want := bytes.Join(chunks, nil)
			if written != int64(len(want)) {
				t.Errorf("Assemble wrote %d bytes, want %d", written, len(want))
			}
			got, err := os.ReadFile(dest)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, want) {
				t.Error("assembled bytes differ from source chunks")
			}
		})
	}
}

func TestLocalStoreOverwriteChunk(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := chunkstore.NewLocalStore(root, false, discardLogger())
	dir := store.SessionDir("sess-2")

	if err := store.WriteChunk(ctx, dir, 0, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteChunk(ctx, dir, 0, []byte("second")); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(root, "out.bin")
	if _, err := store.Assemble(ctx, dir, 1, dest); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "second" {
		t.Errorf("assembled = %q, want the overwriting copy %q", got, "second")
	}
}

func TestLocalStoreAssembleMissingChunk(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := chunkstore.NewLocalStore(root, false, discardLogger())
	dir := store.SessionDir("sess-3")

	if err := store.WriteChunk(ctx, dir, 0, []byte("only")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Assemble(ctx, dir, 2, filepath.Join(root, "out.bin")); err == nil {
		t.Error("Assemble with a missing chunk should fail")
	}
}

func TestLocalStoreRemoveSession(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := chunkstore.NewLocalStore(root, false, discardLogger())
	dir := store.SessionDir("sess-4")

	if err := store.WriteChunk(ctx, dir, 0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := store.RemoveSession(ctx, dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("staging dir should be removed")
	}
}
