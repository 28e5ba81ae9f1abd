package rpc

import (
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Party selects which name servers a probe interrogates (§4.2).
type Party int

const (
	OPENDNSSEC Party = iota
	AUTHORITATIVES
	PARENTS
)

// Quorum selects how per-NS answers combine (§4.2).
type Quorum int

const (
	SOME Quorum = iota
	ALL
	NONE
)

// Scope bundles a Party and a Quorum, the unit callers select.
type Scope struct {
	Party  Party
	Quorum Quorum
}

// individual is a tri-state per-NS probe outcome: true, false, or
// unknown (nil), mirroring the Python `None` sentinel for "no answer".
type individual = *bool

func tp(b bool) individual { return &b }

// combine implements §4.2's quorum combination rule. An empty result
// set combines as false for SOME and ALL and as true for NONE. An
// absent (nil) result counts as false for SOME and makes both ALL and
// NONE false.
func combine(results []individual, q Quorum) bool {
	switch q {
	case SOME:
		for _, r := range results {
			if r != nil && *r {
				return true
			}
		}
		return false
	case ALL:
		if len(results) == 0 {
			return false
		}
		for _, r := range results {
			if r == nil || !*r {
				return false
			}
		}
		return true
	case NONE:
		for _, r := range results {
			if r == nil || *r {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Prober is the contract for C2, the DNS probe.
type Prober interface {
	TestForSignedDNSKEY(ctx context.Context, zone string, scope Scope) bool
	DNSKeyTTL(ctx context.Context, zone string, scope Scope) (uint32, error)
	HaveDS(ctx context.Context, zone string, scope Scope) bool
	DSTTL(ctx context.Context, zone string) (uint32, error)
	NegativeCachingTTL(ctx context.Context, zone string, scope Scope) uint32
}

// DNSProbe implements Prober against live DNS, grounded on the
// teacher's tdns/do53.go and tdns/query.go query patterns (miekg/dns
// dns.Client, EDNS0 DNSSEC-OK, 4096-byte payload).
type DNSProbe struct {
	// SignerAddress is the single configured local signer name server
	// address (host:port) for the OPENDNSSEC party.
	SignerAddress string
	// Resolver resolves NS/A/AAAA RRsets for the zone/parent itself.
	Resolver *net.Resolver
	// InitialBackoff and Timeout bound the per-request retry loop
	// (§4.2, §5).
	InitialBackoff time.Duration
	Timeout        time.Duration
}

// NewDNSProbe returns a DNSProbe with the spec's defaults: 100ms
// initial backoff, doubling.
func NewDNSProbe(signerAddress string, timeout time.Duration) *DNSProbe {
	return &DNSProbe{
		SignerAddress:  signerAddress,
		Resolver:       net.DefaultResolver,
		InitialBackoff: 100 * time.Millisecond,
		Timeout:        timeout,
	}
}

// nameServers resolves the list of NS names/addresses to interrogate
// for a given zone and party, per §4.2's publisher selection.
func (p *DNSProbe) nameServers(ctx context.Context, zone string, party Party) ([]string, error) {
	switch party {
	case OPENDNSSEC:
		if p.SignerAddress == "" {
			return nil, fmt.Errorf("no local signer address configured")
		}
		return []string{p.SignerAddress}, nil

	case AUTHORITATIVES:
		return p.lookupNS(ctx, zone)

	case PARENTS:
		labels := dns.SplitDomainName(zone)
		if len(labels) < 2 {
			return nil, fmt.Errorf("zone %q has no parent label", zone)
		}
		parent := strings.Join(labels[1:], ".") + "."
		return p.lookupNS(ctx, parent)

	default:
		return nil, fmt.Errorf("unknown party %v", party)
	}
}

func (p *DNSProbe) lookupNS(ctx context.Context, zone string) ([]string, error) {
	nss, err := p.Resolver.LookupNS(ctx, zone)
	if err != nil {
		return nil, fmt.Errorf("NS lookup for %s: %w", zone, err)
	}
	out := make([]string, 0, len(nss))
	for _, ns := range nss {
		out = append(out, ns.Host)
	}
	return out, nil
}

// resolveAddrs resolves A and AAAA for an NS host, tolerating
// NXDOMAIN on either family (§4.2).
func (p *DNSProbe) resolveAddrs(ctx context.Context, host string) []string {
	var addrs []string
	ips, err := p.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return addrs
	}
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.String(), "53"))
	}
	return addrs
}

// exchange sends qname/qtype to one NS host with exponential backoff
// until a response arrives, RCODE=NXDOMAIN is treated as final
// negative, RCODE=YXDOMAIN is fatal to this NS, or the timeout
// expires (§4.2).
func (p *DNSProbe) exchange(ctx context.Context, qname string, qtype uint16, host string) (*dns.Msg, error) {
	addrs := p.resolveAddrs(ctx, host)
	if len(addrs) == 0 {
		// host may already be an address:port (e.g. the OPENDNSSEC party).
		addrs = []string{ensurePort(host)}
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(qname), qtype)
	m.SetEdns0(4096, true)

	c := &dns.Client{Timeout: p.Timeout}
	backoff := p.InitialBackoff
	deadline := time.Now().Add(p.Timeout)

	for {
		for _, addr := range addrs {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			resp, _, err := c.ExchangeContext(ctx, m, addr)
			if err != nil {
				continue
			}
			switch resp.Rcode {
			case dns.RcodeSuccess, dns.RcodeNameError:
				return resp, nil
			case dns.RcodeYXDomain:
				return nil, fmt.Errorf("fatal YXDOMAIN answer from %s for %s", addr, qname)
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout querying %s %s at %v", qname, dns.TypeToString[qtype], host)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

func ensurePort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "53")
}

// signedRRsetPresent is the "non-empty RRset plus non-empty RRSIG
// set" criterion used by test_for_signed_dnskey and have_ds (§4.2).
func signedRRsetPresent(msg *dns.Msg, rrtype uint16) bool {
	if msg == nil {
		return false
	}
	var data, sigs int
	for _, rr := range msg.Answer {
		if rr.Header().Rrtype == rrtype {
			data++
		} else if _, ok := rr.(*dns.RRSIG); ok {
			sigs++
		}
	}
	return data > 0 && sigs > 0
}

func maxTTL(msg *dns.Msg, rrtype uint16) (uint32, bool) {
	var max uint32
	var found bool
	for _, rr := range msg.Answer {
		if rr.Header().Rrtype == rrtype {
			if !found || rr.Header().Ttl > max {
				max = rr.Header().Ttl
			}
			found = true
		}
	}
	return max, found
}

// queryAll fans a query out to every NS of the selected party and
// returns one result per server: proc's verdict for each server that
// answered, nil for each that did not.
func (p *DNSProbe) queryAll(ctx context.Context, zone string, party Party, qtype uint16, proc func(*dns.Msg) individual) []individual {
	nss, err := p.nameServers(ctx, zone, party)
	if err != nil {
		log.Printf("DNSProbe: %v", err)
		return nil
	}
	results := make([]individual, 0, len(nss))
	for _, ns := range nss {
		resp, err := p.exchange(ctx, zone, qtype, ns)
		if err != nil {
			results = append(results, nil)
			continue
		}
		results = append(results, proc(resp))
	}
	return results
}

func (p *DNSProbe) TestForSignedDNSKEY(ctx context.Context, zone string, scope Scope) bool {
	results := p.queryAll(ctx, zone, scope.Party, dns.TypeDNSKEY, func(m *dns.Msg) individual {
		return tp(signedRRsetPresent(m, dns.TypeDNSKEY))
	})
	return combine(results, scope.Quorum)
}

func (p *DNSProbe) DNSKeyTTL(ctx context.Context, zone string, scope Scope) (uint32, error) {
	nss, err := p.nameServers(ctx, zone, scope.Party)
	if err != nil {
		return 0, err
	}
	var max uint32
	var found bool
	for _, ns := range nss {
		resp, err := p.exchange(ctx, zone, dns.TypeDNSKEY, ns)
		if err != nil {
			continue
		}
		if ttl, ok := maxTTL(resp, dns.TypeDNSKEY); ok && (!found || ttl > max) {
			max, found = ttl, true
		}
	}
	if !found {
		return 86400, fmt.Errorf("no DNSKEY TTL observed for %s; assuming 1 day", zone)
	}
	return max, nil
}

func (p *DNSProbe) HaveDS(ctx context.Context, zone string, scope Scope) bool {
	results := p.queryAll(ctx, zone, scope.Party, dns.TypeDS, func(m *dns.Msg) individual {
		return tp(signedRRsetPresent(m, dns.TypeDS))
	})
	return combine(results, scope.Quorum)
}

func (p *DNSProbe) DSTTL(ctx context.Context, zone string) (uint32, error) {
	nss, err := p.nameServers(ctx, zone, PARENTS)
	if err != nil {
		return 0, err
	}
	var max uint32
	var found bool
	for _, ns := range nss {
		resp, err := p.exchange(ctx, zone, dns.TypeDS, ns)
		if err != nil {
			continue
		}
		if ttl, ok := maxTTL(resp, dns.TypeDS); ok && (!found || ttl > max) {
			max, found = ttl, true
		}
	}
	if !found {
		return 86400, fmt.Errorf("no DS TTL observed for %s; assuming 1 day", zone)
	}
	return max, nil
}

// NegativeCachingTTL implements the SOA-derived min(ttl,minimum), max
// across servers rule (§4.2), defaulting to 86400 on parse failure.
func (p *DNSProbe) NegativeCachingTTL(ctx context.Context, zone string, scope Scope) uint32 {
	nss, err := p.nameServers(ctx, zone, scope.Party)
	if err != nil {
		return 86400
	}
	var max uint32
	var found bool
	for _, ns := range nss {
		resp, err := p.exchange(ctx, zone, dns.TypeSOA, ns)
		if err != nil {
			continue
		}
		for _, rr := range resp.Answer {
			soa, ok := rr.(*dns.SOA)
			if !ok {
				continue
			}
			nc := soa.Header().Ttl
			if soa.Minttl < nc {
				nc = soa.Minttl
			}
			if !found || nc > max {
				max, found = nc, true
			}
		}
	}
	if !found {
		return 86400
	}
	return max
}

// TTL2EndTime returns ceil(now) + ttl, the absolute epoch second by
// which a cache of the given TTL is guaranteed drained (§4.2).
func TTL2EndTime(now time.Time, ttl uint32) time.Time {
	ceiled := time.Unix(int64(math.Ceil(float64(now.UnixNano())/1e9)), 0)
	return ceiled.Add(time.Duration(ttl) * time.Second)
}
