package discovery

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/harborgrid/harbormaster/interfaces"
)

// Target is one resolved service instance.
type Target struct {
	Host string
	Port int
}

// Resolve queries server for the SRV records of a service kind in zone and
// returns the advertised targets.
func Resolve(server string, service interfaces.ServiceKind, zone string) ([]Target, error) {
	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{
		Name:   dns.Fqdn(fmt.Sprintf("_%s._tcp.%s", service, zone)),
		Qtype:  dns.TypeSRV,
		Qclass: dns.ClassINET,
	}}

	c := new(dns.Client)
	in, _, err := c.Exchange(m, server)
	if err != nil {
		return nil, fmt.Errorf("srv lookup: %w", err)
	}

	targets := make([]Target, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if srv, ok := answer.(*dns.SRV); ok {
			targets = append(targets, Target{
				Host: strings.TrimSuffix(srv.Target, "."),
				Port: int(srv.Port),
			})
		}
	}
	return targets, nil
}
