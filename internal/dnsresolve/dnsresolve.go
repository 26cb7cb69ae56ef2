// Package dnsresolve runs reverse-DNS lookups for newly accepted
// connections off the server hub's own goroutine, so a slow or unreachable
// resolver never stalls accepting new players.
package dnsresolve

import (
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/beirdo/havokmud/internal/netmsg"
)

// lookupTimeout bounds a single PTR query. A connection whose reverse
// lookup doesn't complete in time keeps its bare IP address as its Host
// forever; Resolve is never retried for it.
const lookupTimeout = 3 * time.Second

const resultsCapacity = 32

// Resolver issues PTR queries against a configured nameserver and reports
// results asynchronously. It implements server.Resolver.
type Resolver struct {
	client     *dns.Client
	nameserver string
	results    chan netmsg.HostReply
}

// New builds a Resolver that queries nameserver (host:port, e.g.
// "127.0.0.1:53"). If nameserver is empty, the first nameserver in the
// system's resolv.conf is used.
func New(nameserver string) *Resolver {
	if nameserver == "" {
		nameserver = systemNameserver()
	}
	return &Resolver{
		client:     &dns.Client{Timeout: lookupTimeout},
		nameserver: nameserver,
		results:    make(chan netmsg.HostReply, resultsCapacity),
	}
}

func systemNameserver() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "8.8.8.8:53"
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

// Resolve starts a PTR lookup for ip in its own goroutine, filing a
// HostReply on the channel Results returns once it completes (or falls
// back to ip unchanged on error or timeout).
func (r *Resolver) Resolve(id netmsg.ConnID, ip string) {
	go func() {
		host := r.lookup(ip)
		select {
		case r.results <- netmsg.HostReply{ID: id, Host: host}:
		default:
			// The hub isn't keeping up with DNS replies; dropping one just
			// means this connection keeps showing its bare IP.
		}
	}()
}

// Results returns the channel the server hub selects on for completed
// lookups.
func (r *Resolver) Results() <-chan netmsg.HostReply {
	return r.results
}

func (r *Resolver) lookup(ip string) string {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return ip
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	reply, _, err := r.client.Exchange(msg, r.nameserver)
	if err != nil || reply == nil || reply.Rcode != dns.RcodeSuccess {
		return ip
	}

	for _, ans := range reply.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ip
}
