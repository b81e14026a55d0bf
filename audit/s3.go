package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
)

const (
	defaultFlushInterval = 30 * time.Second
	defaultMaxBatch      = 256
	uploadTimeout        = 30 * time.Second
)

// S3Sink batches events and uploads them as JSONL objects to an S3 bucket.
// Objects are keyed by prefix, UTC timestamp and a random suffix so
// concurrent processes never collide.
type S3Sink struct {
	client s3iface.S3API
	bucket string
	prefix string
	log    *slog.Logger

	mu  sync.Mutex
	buf []Event

	flushInterval time.Duration
	maxBatch      int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var _ Sink = (*S3Sink)(nil)

// NewS3Sink creates a batching S3 sink and starts its flush loop.
func NewS3Sink(client s3iface.S3API, bucket, prefix string, log *slog.Logger) *S3Sink {
	s := &S3Sink{
		client:        client,
		bucket:        bucket,
		prefix:        prefix,
		log:           log,
		flushInterval: defaultFlushInterval,
		maxBatch:      defaultMaxBatch,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Record buffers one event. The batch is flushed in the background on a
// timer, or immediately once it reaches the batch limit.
func (s *S3Sink) Record(ctx context.Context, ev Event) error {
	s.mu.Lock()
	s.buf = append(s.buf, ev)
	full := len(s.buf) >= s.maxBatch
	s.mu.Unlock()

	if full {
		return s.flush(ctx)
	}
	return nil
}

// Name returns a unique identifier for this sink.
func (s *S3Sink) Name() string {
	return fmt.Sprintf("s3-%s-%s", s.bucket, s.prefix)
}

// Close stops the flush loop and uploads any buffered events.
func (s *S3Sink) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	return s.flush(ctx)
}

func (s *S3Sink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
			if err := s.flush(ctx); err != nil {
				s.log.Error("Audit batch upload failed", "err", err)
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

func (s *S3Sink) flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ev := range batch {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encoding audit batch: %w", err)
		}
	}

	key := s.objectKey(time.Now().UTC())
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		// Requeue so a transient outage does not drop events.
		s.mu.Lock()
		s.buf = append(batch, s.buf...)
		s.mu.Unlock()
		return fmt.Errorf("uploading audit batch: %w", err)
	}

	s.log.Debug("Uploaded audit batch",
		slog.String("key", key),
		slog.Int("events", len(batch)))
	return nil
}

func (s *S3Sink) objectKey(now time.Time) string {
	suffix := uuid.Must(uuid.NewRandom()).String()[:8]
	if s.prefix == "" {
		return fmt.Sprintf("%s-%s.jsonl", now.Format("20060102T150405Z"), suffix)
	}
	return fmt.Sprintf("%s/%s-%s.jsonl", s.prefix, now.Format("20060102T150405Z"), suffix)
}
