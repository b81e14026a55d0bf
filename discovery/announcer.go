package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miekg/dns"

	"github.com/harborgrid/harbormaster/interfaces"
	"github.com/harborgrid/harbormaster/server"
)

// Config configures the DNS announcer.
type Config struct {
	// Server is the authoritative DNS server receiving dynamic updates,
	// as host:port.
	Server string

	// Zone is the DNS zone holding the service records.
	Zone string

	// Hostname is the target every announced SRV record points at,
	// normally this machine's public name.
	Hostname string

	// TTL of announced records in seconds. Zero selects 60.
	TTL uint32

	// TSIGKeyName and TSIGSecret enable HMAC-SHA256 signed updates.
	TSIGKeyName string
	TSIGSecret  string

	// Timeout per update exchange. Zero selects 5 seconds.
	Timeout time.Duration

	Log *slog.Logger
}

// Announcer publishes provisioned endpoints as DNS SRV records through
// RFC 2136 dynamic updates. Each service kind gets a
// _<service>._tcp.<zone> record pointing at the configured hostname.
type Announcer struct {
	client   *dns.Client
	server   string
	zone     string
	hostname string
	ttl      uint32
	tsigKey  string
	log      *slog.Logger
}

var _ server.Announcer = (*Announcer)(nil)

// NewAnnouncer creates an announcer from its configuration.
func NewAnnouncer(cfg Config) (*Announcer, error) {
	if cfg.Server == "" {
		return nil, errors.New("discovery config missing server")
	}
	if cfg.Zone == "" {
		return nil, errors.New("discovery config missing zone")
	}
	if cfg.Hostname == "" {
		return nil, errors.New("discovery config missing hostname")
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 60
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	client := &dns.Client{Timeout: timeout}
	tsigKey := ""
	if cfg.TSIGKeyName != "" {
		tsigKey = dns.Fqdn(cfg.TSIGKeyName)
		client.TsigSecret = map[string]string{tsigKey: cfg.TSIGSecret}
	}

	return &Announcer{
		client:   client,
		server:   cfg.Server,
		zone:     dns.Fqdn(cfg.Zone),
		hostname: dns.Fqdn(cfg.Hostname),
		ttl:      ttl,
		tsigKey:  tsigKey,
		log:      cfg.Log,
	}, nil
}

// Announce inserts the SRV record for a newly provisioned endpoint.
func (a *Announcer) Announce(ctx context.Context, service interfaces.ServiceKind, ep interfaces.Endpoint) error {
	m := new(dns.Msg)
	m.SetUpdate(a.zone)
	m.Insert([]dns.RR{a.srvRecord(service, ep)})

	if err := a.exchange(ctx, m); err != nil {
		return fmt.Errorf("announcing %s: %w", service, err)
	}

	a.log.Debug("Announced service endpoint",
		slog.String("record", a.recordName(service)),
		slog.String("endpoint", ep.String()))
	return nil
}

// Withdraw removes the SRV record of a stopped endpoint.
func (a *Announcer) Withdraw(ctx context.Context, service interfaces.ServiceKind, ep interfaces.Endpoint) error {
	m := new(dns.Msg)
	m.SetUpdate(a.zone)
	m.Remove([]dns.RR{a.srvRecord(service, ep)})

	if err := a.exchange(ctx, m); err != nil {
		return fmt.Errorf("withdrawing %s: %w", service, err)
	}

	a.log.Debug("Withdrew service endpoint",
		slog.String("record", a.recordName(service)),
		slog.String("endpoint", ep.String()))
	return nil
}

func (a *Announcer) recordName(service interfaces.ServiceKind) string {
	return fmt.Sprintf("_%s._tcp.%s", service, a.zone)
}

func (a *Announcer) srvRecord(service interfaces.ServiceKind, ep interfaces.Endpoint) *dns.SRV {
	return &dns.SRV{
		Hdr: dns.RR_Header{
			Name:   a.recordName(service),
			Rrtype: dns.TypeSRV,
			Class:  dns.ClassINET,
			Ttl:    a.ttl,
		},
		Priority: 0,
		Weight:   0,
		Port:     uint16(ep.Port),
		Target:   a.hostname,
	}
}

func (a *Announcer) exchange(ctx context.Context, m *dns.Msg) error {
	if a.tsigKey != "" {
		m.SetTsig(a.tsigKey, dns.HmacSHA256, 300, time.Now().Unix())
	}

	reply, _, err := a.client.ExchangeContext(ctx, m, a.server)
	if err != nil {
		return fmt.Errorf("dns update exchange: %w", err)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("dns update rejected: %s", dns.RcodeToString[reply.Rcode])
	}
	return nil
}
