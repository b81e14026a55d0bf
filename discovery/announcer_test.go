package discovery

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid/harbormaster/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dnsRecorder is an in-process DNS server handler recording dynamic
// updates and serving canned SRV answers.
type dnsRecorder struct {
	mu      sync.Mutex
	updates []*dns.Msg
	answers []dns.RR
	refuse  bool
}

func (h *dnsRecorder) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)

	h.mu.Lock()
	if h.refuse {
		m.Rcode = dns.RcodeRefused
	} else if r.Opcode == dns.OpcodeUpdate {
		h.updates = append(h.updates, r.Copy())
	} else {
		m.Answer = append(m.Answer, h.answers...)
	}
	h.mu.Unlock()

	w.WriteMsg(m)
}

func (h *dnsRecorder) recorded() []*dns.Msg {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*dns.Msg(nil), h.updates...)
}

func startDNS(t *testing.T, h dns.Handler) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: h}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func testAnnouncer(t *testing.T, server string) *Announcer {
	t.Helper()
	a, err := NewAnnouncer(Config{
		Server:   server,
		Zone:     "svc.example.com",
		Hostname: "host-1.example.com",
		Log:      testLogger(),
	})
	require.NoError(t, err)
	return a
}

func TestAnnounceInsertsSRV(t *testing.T) {
	recorder := &dnsRecorder{}
	a := testAnnouncer(t, startDNS(t, recorder))

	ep := interfaces.Endpoint{Address: "10.0.0.4", Port: 104}
	require.NoError(t, a.Announce(context.Background(), "echo", ep))

	updates := recorder.recorded()
	require.Len(t, updates, 1)
	assert.Equal(t, dns.OpcodeUpdate, updates[0].Opcode)

	require.Len(t, updates[0].Ns, 1)
	srv, ok := updates[0].Ns[0].(*dns.SRV)
	require.True(t, ok)
	assert.Equal(t, "_echo._tcp.svc.example.com.", srv.Hdr.Name)
	assert.Equal(t, uint16(104), srv.Port)
	assert.Equal(t, "host-1.example.com.", srv.Target)
	assert.Equal(t, uint32(60), srv.Hdr.Ttl)
}

func TestWithdrawRemovesSRV(t *testing.T) {
	recorder := &dnsRecorder{}
	a := testAnnouncer(t, startDNS(t, recorder))

	ep := interfaces.Endpoint{Address: "10.0.0.4", Port: 104}
	require.NoError(t, a.Withdraw(context.Background(), "echo", ep))

	updates := recorder.recorded()
	require.Len(t, updates, 1)
	require.Len(t, updates[0].Ns, 1)

	srv, ok := updates[0].Ns[0].(*dns.SRV)
	require.True(t, ok)
	assert.Equal(t, uint16(dns.ClassNONE), srv.Hdr.Class)
	assert.Equal(t, uint32(0), srv.Hdr.Ttl)
}

func TestAnnounceRejected(t *testing.T) {
	recorder := &dnsRecorder{refuse: true}
	a := testAnnouncer(t, startDNS(t, recorder))

	err := a.Announce(context.Background(), "echo", interfaces.Endpoint{Port: 104})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REFUSED")
}

func TestNewAnnouncerValidation(t *testing.T) {
	_, err := NewAnnouncer(Config{Zone: "z", Hostname: "h"})
	require.Error(t, err)

	_, err = NewAnnouncer(Config{Server: "s", Hostname: "h"})
	require.Error(t, err)

	_, err = NewAnnouncer(Config{Server: "s", Zone: "z"})
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	recorder := &dnsRecorder{
		answers: []dns.RR{&dns.SRV{
			Hdr: dns.RR_Header{
				Name:   "_echo._tcp.svc.example.com.",
				Rrtype: dns.TypeSRV,
				Class:  dns.ClassINET,
				Ttl:    60,
			},
			Port:   104,
			Target: "host-1.example.com.",
		}},
	}
	server := startDNS(t, recorder)

	targets, err := Resolve(server, "echo", "svc.example.com")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, Target{Host: "host-1.example.com", Port: 104}, targets[0])
}
