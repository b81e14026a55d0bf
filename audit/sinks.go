package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
)

// StderrSink writes events as JSON lines to standard error.
type StderrSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ Sink = (*StderrSink)(nil)

// NewStderrSink creates a sink writing to standard error.
func NewStderrSink() *StderrSink {
	return &StderrSink{enc: json.NewEncoder(os.Stderr)}
}

// Record writes one event line.
func (s *StderrSink) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(ev)
}

// Name returns a unique identifier for this sink.
func (s *StderrSink) Name() string { return "stderr" }

// Close is a no-op.
func (s *StderrSink) Close() error { return nil }

// NoopSink discards all events.
type NoopSink struct{}

var _ Sink = NoopSink{}

// Record discards the event.
func (NoopSink) Record(context.Context, Event) error { return nil }

// Name returns a unique identifier for this sink.
func (NoopSink) Name() string { return "noop" }

// Close is a no-op.
func (NoopSink) Close() error { return nil }

// MultiSink fans every event out to a set of sinks.
type MultiSink struct {
	sinks []Sink
}

var _ Sink = (*MultiSink)(nil)

// NewMultiSink composes several sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record delivers the event to every sink, aggregating failures.
func (m *MultiSink) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name returns a unique identifier for this sink.
func (m *MultiSink) Name() string { return "multi" }

// Close closes every composed sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
