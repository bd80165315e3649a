package chunkstore

import (
	"context"
	"fmt"
)

// Store is the staging area for one upload session's binary fragments.
// Chunks are addressed by their zero-based index; the store derives ordering
// from the index, never from arrival order.
type Store interface {
	// SessionDir returns the staging location for a session. For the local
	// store this is a directory path, for S3 it is a key prefix.
	SessionDir(sessionID string) string

	// WriteChunk stores one fragment. Writing the same index twice replaces
	// the previous copy.
	WriteChunk(ctx context.Context, sessionDir string, index int, data []byte) error

	// Assemble concatenates chunks 0..totalChunks-1 in ascending index order
	// into destPath and returns the number of bytes written. Every index must
	// be present.
	Assemble(ctx context.Context, sessionDir string, totalChunks int, destPath string) (int64, error)

	// RemoveSession deletes the staging area and everything in it.
	RemoveSession(ctx context.Context, sessionDir string) error
}

// chunkName builds the zero-padded fragment name so lexical order equals
// numeric order.
func chunkName(index int) string {
	return fmt.Sprintf("chunk_%06d", index)
}
