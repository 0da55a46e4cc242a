package betterurl

import (
	"fmt"
	"strings"
)

// Host is a standalone parsed host, for contexts that carry a host but
// no full URL (for example the page a cleaned link was found on).
type Host struct {
	host    string
	details HostDetails
}

// ParseHost parses a bare hostname (optionally bracketed IPv6, no port).
func ParseHost(raw string) (*Host, error) {
	if raw == "" {
		return nil, ErrNoHost
	}
	hostname := raw
	if strings.HasPrefix(hostname, "[") && strings.HasSuffix(hostname, "]") {
		hostname = hostname[1 : len(hostname)-1]
	}
	if strings.ContainsAny(hostname, "/?#@ ") {
		return nil, fmt.Errorf("invalid host %q", raw)
	}
	return &Host{host: raw, details: computeHostDetails(hostname)}, nil
}

func (h *Host) String() string { return h.host }

// Kind returns the host classification.
func (h *Host) Kind() HostKind { return h.details.Kind }

func (h *Host) hostname() string {
	if strings.HasPrefix(h.host, "[") && strings.HasSuffix(h.host, "]") {
		return h.host[1 : len(h.host)-1]
	}
	return h.host
}

// Domain returns the hostname when the host is a domain.
func (h *Host) Domain() (string, bool) {
	if h.details.Kind != HostKindDomain {
		return "", false
	}
	return strings.TrimSuffix(h.hostname(), "."), true
}

// Subdomain returns the labels before the registrable domain.
func (h *Host) Subdomain() (string, bool) {
	if h.details.Kind != HostKindDomain {
		return "", false
	}
	return h.details.Domain.subdomainOf(h.hostname())
}

// RegDomain returns the registrable domain.
func (h *Host) RegDomain() (string, bool) {
	if h.details.Kind != HostKindDomain {
		return "", false
	}
	return h.details.Domain.regDomainOf(h.hostname())
}

// DomainMiddle returns the label between subdomain and suffix.
func (h *Host) DomainMiddle() (string, bool) {
	if h.details.Kind != HostKindDomain {
		return "", false
	}
	return h.details.Domain.middleOf(h.hostname())
}

// NotDomainSuffix returns everything before the domain suffix.
func (h *Host) NotDomainSuffix() (string, bool) {
	if h.details.Kind != HostKindDomain {
		return "", false
	}
	return h.details.Domain.notSuffixOf(h.hostname())
}

// DomainSuffix returns the public-suffix part.
func (h *Host) DomainSuffix() (string, bool) {
	if h.details.Kind != HostKindDomain {
		return "", false
	}
	return h.details.Domain.suffixOf(h.hostname())
}

// NormalizedHost returns the hostname with a leading "www." and a
// trailing "." removed.
func (h *Host) NormalizedHost() string {
	return strings.TrimPrefix(strings.TrimSuffix(h.hostname(), "."), "www.")
}
