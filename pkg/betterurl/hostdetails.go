// Package betterurl wraps net/url with parsed host metadata and
// segment-level addressing of the domain, path and query.
//
// Host Classification:
//
//   - Domain hosts get public-suffix-list derived boundaries (subdomain,
//     registrable domain, domain suffix) computed once per mutation.
//   - IPv4 and IPv6 hosts carry no domain boundaries; domain getters
//     return not-found for them.
package betterurl

import (
	"net/netip"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HostKind classifies a URL host.
type HostKind int

const (
	HostKindDomain HostKind = iota
	HostKindIPv4
	HostKindIPv6
)

func (k HostKind) String() string {
	switch k {
	case HostKindDomain:
		return "domain"
	case HostKindIPv4:
		return "ipv4"
	case HostKindIPv6:
		return "ipv6"
	}
	return "unknown"
}

// DomainDetails holds byte offsets into the hostname identifying the
// public-suffix derived sub-parts. Offsets refer to the hostname with
// any trailing dot removed.
//
// For "a.b.example.co.uk":
//
//	subdomain        = host[:RegStart-1]   ("a.b")
//	reg domain       = host[RegStart:]     ("example.co.uk")
//	domain middle    = host[RegStart:SuffixStart-1] ("example")
//	not domain suffix= host[:SuffixStart-1] ("a.b.example")
//	domain suffix    = host[SuffixStart:]  ("co.uk")
//
// A start offset of -1 means the corresponding part does not exist.
type DomainDetails struct {
	// RegStart is the offset of the registrable domain, or -1 when the
	// host is itself a public suffix.
	RegStart int
	// SuffixStart is the offset of the public suffix, or -1 when the
	// public suffix list yields nothing (never happens in practice).
	SuffixStart int
	// FQDN records a trailing dot on the original hostname.
	FQDN bool
}

// HostDetails is the cached classification of a URL host.
type HostDetails struct {
	Kind   HostKind
	Domain *DomainDetails // nil unless Kind == HostKindDomain
}

// computeHostDetails classifies hostname (no brackets, no port) and, for
// domain hosts, computes the public-suffix boundaries.
func computeHostDetails(hostname string) HostDetails {
	if hostname == "" {
		return HostDetails{Kind: HostKindDomain, Domain: &DomainDetails{RegStart: -1, SuffixStart: -1}}
	}
	if addr, err := netip.ParseAddr(hostname); err == nil {
		if addr.Is4() || addr.Is4In6() {
			return HostDetails{Kind: HostKindIPv4}
		}
		return HostDetails{Kind: HostKindIPv6}
	}

	fqdn := strings.HasSuffix(hostname, ".")
	bare := strings.TrimSuffix(hostname, ".")
	details := &DomainDetails{RegStart: -1, SuffixStart: -1, FQDN: fqdn}

	suffix, _ := publicsuffix.PublicSuffix(strings.ToLower(bare))
	if suffix != "" && len(suffix) <= len(bare) {
		details.SuffixStart = len(bare) - len(suffix)
		if details.SuffixStart > 0 {
			// Offset of the label immediately before the suffix.
			rest := bare[:details.SuffixStart-1]
			if i := strings.LastIndexByte(rest, '.'); i >= 0 {
				details.RegStart = i + 1
			} else {
				details.RegStart = 0
			}
		}
	}
	return HostDetails{Kind: HostKindDomain, Domain: details}
}

// bareLen returns the hostname length excluding any trailing dot.
func bareLen(hostname string) int {
	return len(strings.TrimSuffix(hostname, "."))
}

// subdomainOf returns the subdomain part of hostname, if any.
func (d *DomainDetails) subdomainOf(hostname string) (string, bool) {
	if d == nil || d.RegStart <= 0 {
		return "", false
	}
	return hostname[:d.RegStart-1], true
}

// regDomainOf returns the registrable domain part of hostname, if any.
func (d *DomainDetails) regDomainOf(hostname string) (string, bool) {
	if d == nil || d.RegStart < 0 {
		return "", false
	}
	return hostname[d.RegStart:bareLen(hostname)], true
}

// middleOf returns the label between subdomain and suffix, if any.
func (d *DomainDetails) middleOf(hostname string) (string, bool) {
	if d == nil || d.RegStart < 0 || d.SuffixStart <= 0 {
		return "", false
	}
	return hostname[d.RegStart : d.SuffixStart-1], true
}

// notSuffixOf returns everything before the public suffix, if any.
func (d *DomainDetails) notSuffixOf(hostname string) (string, bool) {
	if d == nil || d.SuffixStart <= 0 {
		return "", false
	}
	return hostname[:d.SuffixStart-1], true
}

// suffixOf returns the public suffix part of hostname, if any.
func (d *DomainDetails) suffixOf(hostname string) (string, bool) {
	if d == nil || d.SuffixStart < 0 {
		return "", false
	}
	return hostname[d.SuffixStart:bareLen(hostname)], true
}
