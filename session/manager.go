package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/minsukang/datapilot/apperrors"
	"github.com/minsukang/datapilot/chunkstore"
)

const mb = int64(1 << 20)

// DefaultIdleTimeout is how long a session may sit without activity before
// the sweep discards it.
const DefaultIdleTimeout = 24 * time.Hour

// Progress reports how far an upload has come, plus a throughput-derived
// time-remaining estimate. EstimatedSecsLeft and BytesPerSecond are zero when
// no time has elapsed yet.
type Progress struct {
	SessionID         string  `json:"session_id"`
	UploadedChunks    int     `json:"uploaded_chunks"`
	TotalChunks       int     `json:"total_chunks"`
	UploadedBytes     int64   `json:"uploaded_bytes"`
	TotalBytes        int64   `json:"total_bytes"`
	Percent           float64 `json:"percent"`
	BytesPerSecond    float64 `json:"bytes_per_second"`
	EstimatedSecsLeft float64 `json:"estimated_secs_left"`
}

// Manager owns the upload session lifecycle: create, accept chunks, report
// progress, finalize into a single file, and expire abandoned sessions.
type Manager struct {
	store       *Store
	chunks      chunkstore.Store
	finalDir    string
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewManager(store *Store, chunks chunkstore.Store, finalDir string, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Manager{
		store:       store,
		chunks:      chunks,
		finalDir:    finalDir,
		idleTimeout: idleTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the manager's time source. Tests use it to drive the
// idle sweep deterministically.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// PickChunkSize applies the size-tiered policy: bigger files get bigger
// chunks so the chunk count and per-request overhead stay bounded.
func PickChunkSize(totalSize int64) int64 {
	switch {
	case totalSize < 100*mb:
		return 5 * mb
	case totalSize < 500*mb:
		return 20 * mb
	case totalSize < 1024*mb:
		return 50 * mb
	default:
		return 100 * mb
	}
}

// CreateSession registers a new upload. When requestedChunkSize is zero the
// size-tiered policy picks one.
func (m *Manager) CreateSession(fileName string, totalSize, requestedChunkSize int64) (*UploadSession, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("%w: total size must be positive, got %d", apperrors.ErrInvalidInput, totalSize)
	}
	chunkSize := requestedChunkSize
	if chunkSize <= 0 {
		chunkSize = PickChunkSize(totalSize)
	}

	totalChunks := int((totalSize + chunkSize - 1) / chunkSize)
	if totalChunks <= 0 {
		return nil, fmt.Errorf("%w: computed zero chunks for size %d", apperrors.ErrInvalidInput, totalSize)
	}

	id := uuid.New().String()
	now := m.now()
	s := &UploadSession{
		ID:           id,
		FileName:     fileName,
		TotalSize:    totalSize,
		ChunkSize:    chunkSize,
		TotalChunks:  totalChunks,
		StagingDir:   m.chunks.SessionDir(id),
		CreatedAt:    now,
		received:     make(map[int]int64),
		lastActivity: now,
	}
	m.store.Put(s)

	m.logger.Info("upload session created",
		slog.String("session_id", id),
		slog.String("file_name", fileName),
		slog.Int64("total_size", totalSize),
		slog.Int64("chunk_size", chunkSize),
		slog.Int("total_chunks", totalChunks))
	return s, nil
}

// AcceptChunk stages one fragment. Safe to retry: re-sending an index
// overwrites the previous copy.
func (m *Manager) AcceptChunk(ctx context.Context, sessionID string, index int, data []byte) (Progress, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return Progress{}, fmt.Errorf("%w: %s", apperrors.ErrSessionNotFound, sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= s.TotalChunks {
		return Progress{}, fmt.Errorf("%w: chunk index %d out of range [0,%d)", apperrors.ErrInvalidInput, index, s.TotalChunks)
	}

	if err := m.chunks.WriteChunk(ctx, s.StagingDir, index, data); err != nil {
		return Progress{}, err
	}
	s.markReceived(index, int64(len(data)), m.now())

	return m.progressLocked(s), nil
}

// GetProgress reports the session's current state.
func (m *Manager) GetProgress(sessionID string) (Progress, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return Progress{}, fmt.Errorf("%w: %s", apperrors.ErrSessionNotFound, sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.progressLocked(s), nil
}

func (m *Manager) progressLocked(s *UploadSession) Progress {
	p := Progress{
		SessionID:      s.ID,
		UploadedChunks: len(s.received),
		TotalChunks:    s.TotalChunks,
		UploadedBytes:  s.bytesReceived,
		TotalBytes:     s.TotalSize,
	}
	if s.TotalSize > 0 {
		p.Percent = float64(s.bytesReceived) / float64(s.TotalSize) * 100
	}
	elapsed := m.now().Sub(s.CreatedAt).Seconds()
	if elapsed > 0 && s.bytesReceived > 0 {
		p.BytesPerSecond = float64(s.bytesReceived) / elapsed
		remaining := s.TotalSize - s.bytesReceived
		if remaining > 0 {
			p.EstimatedSecsLeft = float64(remaining) / p.BytesPerSecond
		}
	}
	return p
}

// Finalize reassembles the upload once every chunk index is present. Chunks
// are read strictly by ascending index; arrival order carries no meaning.
// On success the staging area is deleted and the session evicted.
func (m *Manager) Finalize(ctx context.Context, sessionID string) (string, int64, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return "", 0, fmt.Errorf("%w: %s", apperrors.ErrSessionNotFound, sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if missing := s.missingChunks(); len(missing) > 0 {
		return "", 0, &apperrors.IncompleteUploadError{SessionID: s.ID, Missing: missing}
	}

	destPath := filepath.Join(m.finalDir, s.ID+"_"+filepath.Base(s.FileName))
	written, err := m.chunks.Assemble(ctx, s.StagingDir, s.TotalChunks, destPath)
	if err != nil {
		return "", 0, err
	}
	if written != s.bytesReceived {
		return "", 0, apperrors.NewIOError("verify output", destPath,
			fmt.Errorf("wrote %d bytes, staged %d", written, s.bytesReceived))
	}
	if written != s.TotalSize {
		m.logger.Warn("assembled size differs from declared size",
			slog.String("session_id", s.ID),
			slog.Int64("declared", s.TotalSize),
			slog.Int64("assembled", written))
	}

	if err := m.chunks.RemoveSession(ctx, s.StagingDir); err != nil {
		m.logger.Error("failed to remove staging dir after finalize",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
	}
	m.store.Remove(s.ID)

	m.logger.Info("upload finalized",
		slog.String("session_id", s.ID),
		slog.String("path", destPath),
		slog.Int64("size", written))
	return destPath, written, nil
}

// ExpireIdle discards sessions whose last activity is older than the idle
// timeout and returns how many were evicted. It takes each session's lock, so
// it can never delete chunk data out from under an in-flight AcceptChunk.
func (m *Manager) ExpireIdle(ctx context.Context) int {
	now := m.now()
	var expired int
	for _, s := range m.store.Snapshot() {
		s.mu.Lock()
		idle := now.Sub(s.lastActivity)
		if idle <= m.idleTimeout {
			s.mu.Unlock()
			continue
		}
		if err := m.chunks.RemoveSession(ctx, s.StagingDir); err != nil {
			m.logger.Error("failed to remove staging dir for expired session",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()))
		}
		m.store.Remove(s.ID)
		s.mu.Unlock()

		expired++
		m.logger.Info("expired idle upload session",
			slog.String("session_id", s.ID),
			slog.Duration("idle", idle))
	}
	return expired
}
