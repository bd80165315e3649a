package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyFileHandler tees slog records to stdout and a per-day log file
// (ingest-YYYY-MM-DD.log), rotating when the date changes. The file state is
// shared through a pointer so WithAttrs/WithGroup clones write to the same
// rotated file.
type DailyFileHandler struct {
	state          *fileState
	defaultHandler slog.Handler
}

type fileState struct {
	mu              sync.Mutex
	logDir          string
	currentFile     *os.File
	currentFileName string
}

func NewDailyFileHandler(logDir string, opts *slog.HandlerOptions) (*DailyFileHandler, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	h := &DailyFileHandler{
		state:          &fileState{logDir: logDir},
		defaultHandler: slog.NewTextHandler(os.Stdout, opts),
	}
	if err := h.state.rotateIfNeeded(); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *fileState) rotateIfNeeded() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fileName := fmt.Sprintf("ingest-%s.log", time.Now().Format("2006-01-02"))
	if fileName == s.currentFileName {
		return nil
	}

	if s.currentFile != nil {
		s.currentFile.Close()
	}

	f, err := os.OpenFile(filepath.Join(s.logDir, fileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	s.currentFile = f
	s.currentFileName = fileName
	return nil
}

func (s *fileState) write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.currentFile.WriteString(line)
	return err
}

func (h *DailyFileHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.state.rotateIfNeeded(); err != nil {
		// If rotation fails, at least log to stdout.
		return h.defaultHandler.Handle(ctx, r)
	}

	var attrs string
	r.Attrs(func(a slog.Attr) bool {
		attrs += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	logLine := fmt.Sprintf("[%s] %-5s %s%s\n",
		r.Time.Format("2006/01/02 15:04:05.000"), r.Level.String(), r.Message, attrs)

	err := h.state.write(logLine)
	if err2 := h.defaultHandler.Handle(ctx, r); err2 != nil && err == nil {
		err = err2
	}
	return err
}

func (h *DailyFileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DailyFileHandler{
		state:          h.state,
		defaultHandler: h.defaultHandler.WithAttrs(attrs),
	}
}

func (h *DailyFileHandler) WithGroup(name string) slog.Handler {
	return &DailyFileHandler{
		state:          h.state,
		defaultHandler: h.defaultHandler.WithGroup(name),
	}
}

func (h *DailyFileHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.defaultHandler.Enabled(ctx, level)
}
