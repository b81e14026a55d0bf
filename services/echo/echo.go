// Package echo implements a line-oriented echo service, the reference
// protocol service used by the daemon's sample configuration and the
// integration tests.
package echo

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/harborgrid/harbormaster/interfaces"
	"github.com/harborgrid/harbormaster/server"
)

// Kind is the echo service's registered kind name.
const Kind interfaces.ServiceKind = "echo"

// Service echoes every received line back to the client. Lines are treated
// as opaque bytes; the session encoding is advisory only.
type Service struct {
	log *slog.Logger
}

var _ interfaces.ProtocolService = (*Service)(nil)

// NewService creates the echo service.
func NewService(log *slog.Logger) *Service {
	return &Service{log: log}
}

// Register adds the echo service to the kind set.
func Register(ks *server.KindSet) error {
	return ks.RegisterService(server.ServiceKindInfo{
		Kind: Kind,
		New: func(log *slog.Logger) interfaces.ProtocolService {
			return NewService(log)
		},
	})
}

// Kind returns the service kind name.
func (s *Service) Kind() interfaces.ServiceKind { return Kind }

// NewSession creates one echo session for an accepted connection.
func (s *Service) NewSession(env interfaces.SessionEnv) (interfaces.Session, error) {
	return &session{env: env}, nil
}

type session struct {
	env interfaces.SessionEnv
}

// Serve reads newline-delimited lines and writes each one back. A string
// UserState is sent as a banner line before the first read. Serve returns
// once the client disconnects, the idle timeout strikes or ctx is canceled.
func (s *session) Serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	// Force in-flight reads and writes to fail once the server stops.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	opts := s.env.Options
	w := bufio.NewWriter(conn)

	if banner, ok := s.env.UserState.(string); ok && banner != "" {
		if err := s.writeLine(conn, w, []byte(banner)); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(conn)
	if opts.MaxLineBytes > 0 {
		scanner.Buffer(make([]byte, 0, 64*1024), opts.MaxLineBytes)
	}

	for {
		if opts.IdleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(opts.IdleTimeout)); err != nil {
				return err
			}
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			return nil
		}

		if err := s.writeLine(conn, w, scanner.Bytes()); err != nil {
			return err
		}
	}
}

func (s *session) writeLine(conn net.Conn, w *bufio.Writer, line []byte) error {
	if t := s.env.Options.WriteTimeout; t > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t)); err != nil {
			return err
		}
	}
	if _, err := w.Write(line); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
