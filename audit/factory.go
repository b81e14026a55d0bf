package audit

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// SinkFor creates an audit sink from a location URI.
//
// Supported schemes:
//   - file:///var/log/harbormaster/audit.jsonl - append JSON lines to a file
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=...
//     batch-upload JSONL objects
//   - stderr:// - JSON lines on standard error
//   - noop:// - discard everything
func SinkFor(uri string, log *slog.Logger) (Sink, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid audit sink URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return createFileSink(u, log)
	case "s3":
		return createS3Sink(u, log)
	case "stderr":
		return NewStderrSink(), nil
	case "noop":
		return NoopSink{}, nil
	default:
		return nil, fmt.Errorf("unsupported audit sink scheme: %s", u.Scheme)
	}
}

// Combined creates one sink from a list of URIs. Invalid entries are logged
// and skipped; at least one sink must come up. A single survivor is
// returned directly, more are composed into a MultiSink.
func Combined(uris []string, log *slog.Logger) (Sink, error) {
	sinks := make([]Sink, 0, len(uris))
	for _, uri := range uris {
		sink, err := SinkFor(uri, log)
		if err != nil {
			log.Warn("Failed to create audit sink",
				"err", err,
				slog.String("uri", uri))
			continue
		}
		sinks = append(sinks, sink)
	}

	switch len(sinks) {
	case 0:
		return nil, fmt.Errorf("no valid audit sinks created")
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}

func createFileSink(u *url.URL, log *slog.Logger) (Sink, error) {
	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("empty path in audit file URI: %s", u.String())
	}
	return NewFileSink(path, log)
}

func createS3Sink(u *url.URL, log *slog.Logger) (Sink, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("missing bucket in audit s3 URI: %s", u.String())
	}
	prefix := strings.Trim(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	cfg := aws.Config{Region: aws.String(region)}
	if endpoint := query.Get("endpoint"); endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if u.User != nil {
		accessKey := u.User.Username()
		secretKey, _ := u.User.Password()
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}

	return NewS3Sink(s3.New(sess), bucket, prefix, log), nil
}
