package main

import (
	"net"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// resolveStatus classifies a lookup without usable records. These are
// ordinary outcomes, not errors: a refused or timed-out query downgrades a
// domain, it never aborts the run.
type resolveStatus int

const (
	statusOK resolveStatus = iota
	statusNXDomain
	statusRefused
	statusNoAnswer
	statusTimeout
)

func (s resolveStatus) String() string {
	switch s {
	case statusOK:
		return "ok"
	case statusNXDomain:
		return "nxdomain"
	case statusRefused:
		return "refused"
	case statusNoAnswer:
		return "no-answer"
	case statusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type resolveFunc func(host string, qtype uint16) ([]dns.RR, resolveStatus)

type cacheKey struct {
	config string
	host   string
	qtype  uint16
}

type cacheEntry struct {
	answers []dns.RR
	status  resolveStatus
}

type Resolver struct {
	client   *dns.Client
	servers  []string
	cacheTag string
	cache    *lru.Cache[cacheKey, cacheEntry]
	logger   *logrus.Logger
}

func NewResolver(cfg *Config, logger *logrus.Logger) (*Resolver, error) {
	servers := cfg.DNSServers
	if len(servers) == 0 {
		servers = systemNameservers()
	}
	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		addrs = append(addrs, net.JoinHostPort(s, strconv.Itoa(cfg.DNSPort)))
	}

	cache, err := lru.New[cacheKey, cacheEntry](cfg.DNSCacheSize)
	if err != nil {
		return nil, err
	}

	return &Resolver{
		client:   &dns.Client{Timeout: cfg.DNSTimeout},
		servers:  addrs,
		cacheTag: strings.Join(addrs, ","),
		cache:    cache,
		logger:   logger,
	}, nil
}

func systemNameservers() []string {
	if cc, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cc.Servers) > 0 {
		return cc.Servers
	}
	return []string{"8.8.8.8", "1.1.1.1"}
}

// Resolve memoizes through a bounded LRU. The key carries the server set so
// resolvers with different upstreams never share answers.
func (r *Resolver) Resolve(host string, qtype uint16) ([]dns.RR, resolveStatus) {
	key := cacheKey{config: r.cacheTag, host: host, qtype: qtype}
	if ent, ok := r.cache.Get(key); ok {
		return ent.answers, ent.status
	}
	answers, status := r.exchange(host, qtype)
	r.cache.Add(key, cacheEntry{answers: answers, status: status})
	return answers, status
}

// exchange walks the server list until one gives a definitive reply.
// Refusals and server failures move on to the next upstream, matching how
// stub resolvers treat a broken nameserver.
func (r *Resolver) exchange(host string, qtype uint16) ([]dns.RR, resolveStatus) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	last := statusRefused
	for _, server := range r.servers {
		in, _, err := r.client.Exchange(m, server)
		if err != nil {
			if isTimeoutErr(err) {
				last = statusTimeout
			}
			r.logger.WithFields(logrus.Fields{
				"host":   host,
				"server": server,
				"error":  err.Error(),
			}).Debug("dns exchange failed")
			continue
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
			if len(in.Answer) == 0 {
				return nil, statusNoAnswer
			}
			return in.Answer, statusOK
		case dns.RcodeNameError:
			return nil, statusNXDomain
		case dns.RcodeRefused, dns.RcodeServerFailure:
			last = statusRefused
		default:
			return nil, statusNoAnswer
		}
	}
	return nil, last
}
