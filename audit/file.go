package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// FileSink appends events to a local file, one JSON object per line.
type FileSink struct {
	path string
	log  *slog.Logger

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

var _ Sink = (*FileSink)(nil)

// NewFileSink opens (or creates) the file at path for appending.
func NewFileSink(path string, log *slog.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit file: %w", err)
	}
	return &FileSink{
		path: path,
		log:  log,
		f:    f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Record appends one event line.
func (s *FileSink) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("audit file sink %s is closed", s.path)
	}
	return s.enc.Encode(ev)
}

// Name returns a unique identifier for this sink.
func (s *FileSink) Name() string {
	return "file-" + s.path
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.enc = nil
	return err
}
