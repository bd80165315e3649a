package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the upload/session layer. Callers are expected to
// classify failures with errors.Is/errors.As, never by string matching.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionNotFound = errors.New("upload session not found")
)

// IncompleteUploadError is returned by Finalize when one or more chunk
// indices have not been received. Missing is sorted ascending so the client
// can re-send exactly those chunks.
type IncompleteUploadError struct {
	SessionID string
	Missing   []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("upload %s incomplete: %d chunk(s) missing %v", e.SessionID, len(e.Missing), e.Missing)
}

// IOError wraps a disk read/write failure with the path it happened on.
// It is never retried automatically; the caller decides.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError builds an IOError for the given operation and path.
func NewIOError(op, path string, err error) *IOError {
	return &IOError{Op: op, Path: path, Err: err}
}
