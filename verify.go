package main

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type VerifyResult struct {
	Domain      string
	MailCapable bool
	Reason      string
}

type dnsQuery struct {
	host  string
	qtype uint16
}

type Verifier struct {
	resolve resolveFunc
	logger  *logrus.Logger
}

func NewVerifier(resolver *Resolver, logger *logrus.Logger) *Verifier {
	return &Verifier{resolve: resolver.Resolve, logger: logger}
}

// Verify classifies one domain as mail-capable or not. The worklist starts
// with a single MX query; exchanges fan out into A queries, and the first
// public address short-circuits the rest.
func (v *Verifier) Verify(domain string) VerifyResult {
	queue := []dnsQuery{{host: domain, qtype: dns.TypeMX}}
	visited := make(map[dnsQuery]struct{})

	for len(queue) > 0 {
		q := queue[0]
		queue = queue[1:]
		if _, done := visited[q]; done {
			continue
		}
		visited[q] = struct{}{}

		answers, status := v.resolve(q.host, q.qtype)
		if status != statusOK {
			v.logger.WithFields(logrus.Fields{
				"domain": domain,
				"host":   q.host,
				"qtype":  dns.TypeToString[q.qtype],
				"status": status.String(),
			}).Debug("no usable record")
			if q.qtype == dns.TypeMX {
				// Absent MX is not disqualifying: misconfigured zones often
				// still deliver through the bare domain's address record.
				queue = append(queue, dnsQuery{host: domain, qtype: dns.TypeA})
			}
			continue
		}

		switch q.qtype {
		case dns.TypeMX:
			exchanges := mxExchanges(answers)
			if len(exchanges) == 0 {
				queue = append(queue, dnsQuery{host: domain, qtype: dns.TypeA})
				continue
			}
			for _, ex := range exchanges {
				if ex == "." || strings.EqualFold(strings.TrimSuffix(ex, "."), "localhost") {
					// Null MX: the zone explicitly refuses mail.
					return VerifyResult{Domain: domain, MailCapable: false, Reason: "null mx exchange"}
				}
			}
			for _, ex := range exchanges {
				queue = append(queue, dnsQuery{host: strings.TrimSuffix(ex, "."), qtype: dns.TypeA})
			}
		case dns.TypeA:
			if usableMailHost(aAddresses(answers)) {
				return VerifyResult{Domain: domain, MailCapable: true}
			}
		}
	}
	return VerifyResult{Domain: domain, MailCapable: false, Reason: "no reachable mail host"}
}

// VerifyAll fans the domain set out over a bounded worker group. Each worker
// fills its own slot; results are merged only after the group joins.
func (v *Verifier) VerifyAll(ctx context.Context, domains []string, workers int) []VerifyResult {
	if workers < 1 {
		workers = 1
	}
	results := make([]VerifyResult, len(domains))

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, d := range domains {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = VerifyResult{Domain: d, MailCapable: false, Reason: "canceled"}
				return nil
			}
			results[i] = v.Verify(d)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func mxExchanges(answers []dns.RR) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, rr := range answers {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}
		if _, dup := seen[mx.Mx]; dup {
			continue
		}
		seen[mx.Mx] = struct{}{}
		out = append(out, mx.Mx)
	}
	return out
}

func aAddresses(answers []dns.RR) []net.IP {
	var out []net.IP
	for _, rr := range answers {
		if a, ok := rr.(*dns.A); ok {
			out = append(out, a.A)
		}
	}
	return out
}

// usableMailHost requires every address to be a well-formed public IPv4.
// One private, loopback, multicast or reserved address invalidates the
// whole answer for the host.
func usableMailHost(addrs []net.IP) bool {
	if len(addrs) == 0 {
		return false
	}
	for _, ip := range addrs {
		if !isPublicIPv4(ip) {
			return false
		}
	}
	return true
}

func isPublicIPv4(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	switch {
	case v4.IsPrivate(), v4.IsLoopback(), v4.IsMulticast(), v4.IsUnspecified(),
		v4.IsLinkLocalUnicast(), v4.IsLinkLocalMulticast():
		return false
	case v4[0] == 0 || v4[0] >= 240: // "this network", class E, broadcast
		return false
	}
	return true
}
