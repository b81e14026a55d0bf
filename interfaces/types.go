package interfaces

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint identifies a listening assignment as an (address, port) pair.
// An empty address means all interfaces. Endpoint is comparable and is used
// directly as the registry's exclusivity key.
type Endpoint struct {
	Address string
	Port    int
}

// NewEndpoint creates an endpoint with validation. The address may be empty
// (listen on all interfaces), an IP literal, or a hostname. Port must be in
// [0, 65535].
func NewEndpoint(address string, port int) (Endpoint, error) {
	if port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, port)
	}

	address = strings.TrimSpace(address)
	if address != "" && strings.ContainsAny(address, " /?#") {
		return Endpoint{}, fmt.Errorf("%w: malformed address %q", ErrInvalidEndpoint, address)
	}

	return Endpoint{Address: address, Port: port}, nil
}

// ParseEndpoint parses "host:port" notation, accepting ":port" for all
// interfaces.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: non-numeric port %q", ErrInvalidEndpoint, portStr)
	}

	return NewEndpoint(host, port)
}

// String returns the host:port form, rendering the all-interfaces address
// as 0.0.0.0.
func (ep Endpoint) String() string {
	host := ep.Address
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(ep.Port))
}

// Equal compares two endpoints for identity.
func (ep Endpoint) Equal(other Endpoint) bool {
	return ep == other
}

// ServiceKind names a registered protocol service implementation.
type ServiceKind string

// ServerKind names a registered server runner implementation.
type ServerKind string

// DefaultServerKind is the runner used when a creation request does not name
// one: a plain TCP accept loop hosting any service kind.
const DefaultServerKind ServerKind = "tcp"

// String returns the kind name.
func (k ServiceKind) String() string { return string(k) }

// String returns the kind name.
func (k ServerKind) String() string { return string(k) }

// Encoding names the fallback text encoding handed to protocol sessions for
// use when the peer does not negotiate one.
type Encoding string

const (
	// EncodingUTF8 is the default fallback encoding.
	EncodingUTF8 Encoding = "utf-8"

	// EncodingASCII restricts sessions to 7-bit text.
	EncodingASCII Encoding = "ascii"

	// EncodingLatin1 selects ISO 8859-1 for legacy peers.
	EncodingLatin1 Encoding = "latin-1"
)

// NewEncoding validates an encoding name, mapping the empty string to the
// UTF-8 default.
func NewEncoding(name string) (Encoding, error) {
	switch Encoding(strings.ToLower(name)) {
	case "":
		return EncodingUTF8, nil
	case EncodingUTF8:
		return EncodingUTF8, nil
	case EncodingASCII:
		return EncodingASCII, nil
	case EncodingLatin1:
		return EncodingLatin1, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
}

// String returns the encoding name.
func (e Encoding) String() string { return string(e) }

// ServerState tracks a server instance through its lifecycle. The state only
// moves forward; Stopped is terminal and a stopped server cannot be restarted.
type ServerState int

const (
	// StateCreated means the instance exists but its accept loop has not
	// been started.
	StateCreated ServerState = iota

	// StateStarting means the accept loop is binding its socket.
	StateStarting

	// StateRunning means the endpoint is bound, the registration is live
	// and connections are being accepted.
	StateRunning

	// StateStopping means a stop was requested or the accept loop failed;
	// teardown is in progress.
	StateStopping

	// StateStopped means the accept loop has exited, the registration is
	// removed and the dependency scope is disposed. Terminal.
	StateStopped
)

// String returns the lowercase state name.
func (s ServerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrPortInUse is returned when a creation request targets an endpoint
	// already held by a live registration. Recoverable: the caller may retry
	// on a different endpoint or after stopping the holder.
	ErrPortInUse = errors.New("endpoint already has a registered server")

	// ErrBindFailed is returned when the transport cannot bind or listen on
	// the requested endpoint (OS-level address-in-use, permission denial).
	// The registry is left untouched.
	ErrBindFailed = errors.New("failed to bind listening socket")

	// ErrInvalidArgument is the umbrella for creation requests rejected
	// before any side effect. The specialized sentinels below wrap it, so
	// errors.Is(err, ErrInvalidArgument) matches all of them.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidEndpoint is returned for a malformed address or an out of
	// range port.
	ErrInvalidEndpoint = fmt.Errorf("%w: invalid endpoint", ErrInvalidArgument)

	// ErrUnknownServiceKind is returned when no protocol service is
	// registered under the requested kind.
	ErrUnknownServiceKind = fmt.Errorf("%w: unknown service kind", ErrInvalidArgument)

	// ErrUnknownServerKind is returned when no server runner is registered
	// under the requested kind.
	ErrUnknownServerKind = fmt.Errorf("%w: unknown server kind", ErrInvalidArgument)

	// ErrIncompatibleKinds is returned when the requested server kind does
	// not declare the requested service kind as hostable.
	ErrIncompatibleKinds = fmt.Errorf("%w: server kind cannot host service kind", ErrInvalidArgument)

	// ErrUnknownEncoding is returned for an unrecognized fallback encoding
	// name.
	ErrUnknownEncoding = fmt.Errorf("%w: unknown encoding", ErrInvalidArgument)

	// ErrScopeClosed is returned by operations on a disposed dependency
	// scope.
	ErrScopeClosed = errors.New("dependency scope already closed")

	// ErrRegistrationNotFound is returned by lookups for an endpoint or
	// server id with no live registration.
	ErrRegistrationNotFound = errors.New("registration not found")

	// ErrInvalidCertificateRef is returned when a certificate reference URI
	// is malformed or names an unsupported source scheme. Failures while
	// reading from a valid reference surface the source's own error instead.
	ErrInvalidCertificateRef = fmt.Errorf("%w: invalid certificate reference", ErrInvalidArgument)
)
