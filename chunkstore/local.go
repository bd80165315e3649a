package chunkstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/minsukang/datapilot/apperrors"
)

const compressedExt = ".lz4"

// LocalStore stages chunks as discrete files under root/<sessionID>/.
// With Compress enabled, fragments are LZ4-framed at rest and transparently
// decompressed during Assemble, so the reassembled bytes are identical to
// what the client sent.
type LocalStore struct {
	root     string
	compress bool
	logger   *slog.Logger
}

func NewLocalStore(root string, compress bool, logger *slog.Logger) *LocalStore {
	return &LocalStore{
		root:     root,
		compress: compress,
		logger:   logger,
	}
}

func (s *LocalStore) SessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *LocalStore) chunkPath(sessionDir string, index int) string {
	name := chunkName(index)
	if s.compress {
		name += compressedExt
	}
	return filepath.Join(sessionDir, name)
}

func (s *LocalStore) WriteChunk(ctx context.Context, sessionDir string, index int, data []byte) error {
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return apperrors.NewIOError("mkdir", sessionDir, err)
	}

	path := s.chunkPath(sessionDir, index)
	f, err := os.Create(path)
	if err != nil {
		return apperrors.NewIOError("create chunk", path, err)
	}

	var w io.Writer = f
	var zw *lz4.Writer
	if s.compress {
		zw = lz4.NewWriter(f)
		w = zw
	}

	if _, err := w.Write(data); err != nil {
		f.Close()
		return apperrors.NewIOError("write chunk", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return apperrors.NewIOError("flush chunk", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return apperrors.NewIOError("close chunk", path, err)
	}
	return nil
}

func (s *LocalStore) Assemble(ctx context.Context, sessionDir string, totalChunks int, destPath string) (int64, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return 0, apperrors.NewIOError("create output", destPath, err)
	}
	defer out.Close()

	var written int64
	for i := 0; i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := s.appendChunk(out, sessionDir, i)
		if err != nil {
			return written, err
		}
		written += n
	}

	if err := out.Sync(); err != nil {
		return written, apperrors.NewIOError("sync output", destPath, err)
	}
	return written, nil
}

func (s *LocalStore) appendChunk(out io.Writer, sessionDir string, index int) (int64, error) {
	path := s.chunkPath(sessionDir, index)
	f, err := os.Open(path)
	if err != nil {
		return 0, apperrors.NewIOError("open chunk", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if s.compress {
		r = lz4.NewReader(f)
	}
	n, err := io.Copy(out, r)
	if err != nil {
		return n, apperrors.NewIOError("read chunk", path, err)
	}
	return n, nil
}

func (s *LocalStore) RemoveSession(ctx context.Context, sessionDir string) error {
	if err := os.RemoveAll(sessionDir); err != nil {
		return apperrors.NewIOError("remove staging dir", sessionDir, err)
	}
	return nil
}
