package betterurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrNotADomain is returned by domain-part setters when the host is
	// an IP address or absent.
	ErrNotADomain = errors.New("host is not a domain")
	// ErrNoHost is returned when an operation needs a host and the URL
	// has none.
	ErrNoHost = errors.New("url has no host")
	// ErrSegmentNotFound is returned by segment setters addressing an
	// index outside the current segment range.
	ErrSegmentNotFound = errors.New("segment not found")
	// ErrPartCannotBeNone is returned when a required part is set to none.
	ErrPartCannotBeNone = errors.New("part cannot be none")
)

// URL is a parsed URL plus cached host details.
//
// Invariant: details always matches the current host; every setter that
// changes the hostname (setHostname, SetHost) recomputes it.
type URL struct {
	u       url.URL
	details HostDetails
}

// Parse parses raw as an absolute URL and classifies its host.
func Parse(raw string) (*URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", raw)
	}
	b := &URL{u: *u}
	b.details = computeHostDetails(u.Hostname())
	return b, nil
}

// MustParse is Parse for tests and bundled constants.
func MustParse(raw string) *URL {
	b, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return b
}

// Clone returns an independent copy.
func (b *URL) Clone() *URL {
	c := *b
	if b.u.User != nil {
		// url.Userinfo is immutable, sharing is fine.
		c.u.User = b.u.User
	}
	return &c
}

func (b *URL) String() string { return b.u.String() }

// Equal reports value equality of the serialized form.
func (b *URL) Equal(o *URL) bool { return o != nil && b.u.String() == o.u.String() }

// HostDetails returns the cached host classification.
func (b *URL) HostDetails() HostDetails { return b.details }

// Scheme returns the URL scheme.
func (b *URL) Scheme() string { return b.u.Scheme }

// Username returns the username, if present.
func (b *URL) Username() (string, bool) {
	if b.u.User == nil {
		return "", false
	}
	return b.u.User.Username(), true
}

// Password returns the password, if present.
func (b *URL) Password() (string, bool) {
	if b.u.User == nil {
		return "", false
	}
	return b.u.User.Password()
}

// Host returns the host including any port, if present.
func (b *URL) Host() (string, bool) {
	if b.u.Host == "" {
		return "", false
	}
	return b.u.Host, true
}

// Hostname returns the host without port or IPv6 brackets, if present.
func (b *URL) Hostname() (string, bool) {
	if b.u.Host == "" {
		return "", false
	}
	return b.u.Hostname(), true
}

// NormalizedHost returns the hostname with a leading "www." and a
// trailing "." removed.
func (b *URL) NormalizedHost() (string, bool) {
	host, ok := b.Hostname()
	if !ok {
		return "", false
	}
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	return host, true
}

// Port returns the explicit port, if present.
func (b *URL) Port() (string, bool) {
	p := b.u.Port()
	return p, p != ""
}

// Path returns the URL path.
func (b *URL) Path() string { return b.u.EscapedPath() }

// Query returns the raw query, if present.
func (b *URL) Query() (string, bool) {
	if b.u.RawQuery == "" && !b.u.ForceQuery {
		return "", false
	}
	return b.u.RawQuery, true
}

// Fragment returns the fragment, if present.
func (b *URL) Fragment() (string, bool) {
	if b.u.Fragment == "" {
		return "", false
	}
	return b.u.EscapedFragment(), true
}

// Domain returns the full hostname when the host is a domain.
func (b *URL) Domain() (string, bool) {
	if b.details.Kind != HostKindDomain || b.u.Host == "" {
		return "", false
	}
	h := b.u.Hostname()
	return strings.TrimSuffix(h, "."), true
}

// Subdomain returns the labels before the registrable domain.
func (b *URL) Subdomain() (string, bool) {
	if b.details.Kind != HostKindDomain {
		return "", false
	}
	return b.details.Domain.subdomainOf(b.u.Hostname())
}

// RegDomain returns the registrable domain (eTLD+1).
func (b *URL) RegDomain() (string, bool) {
	if b.details.Kind != HostKindDomain {
		return "", false
	}
	return b.details.Domain.regDomainOf(b.u.Hostname())
}

// DomainMiddle returns the label between subdomain and domain suffix.
func (b *URL) DomainMiddle() (string, bool) {
	if b.details.Kind != HostKindDomain {
		return "", false
	}
	return b.details.Domain.middleOf(b.u.Hostname())
}

// NotDomainSuffix returns everything before the domain suffix.
func (b *URL) NotDomainSuffix() (string, bool) {
	if b.details.Kind != HostKindDomain {
		return "", false
	}
	return b.details.Domain.notSuffixOf(b.u.Hostname())
}

// DomainSuffix returns the public-suffix part of the host.
func (b *URL) DomainSuffix() (string, bool) {
	if b.details.Kind != HostKindDomain {
		return "", false
	}
	return b.details.Domain.suffixOf(b.u.Hostname())
}

// setHostname replaces the hostname, keeping any port, and recomputes
// the cached host details.
func (b *URL) setHostname(hostname string) {
	port := b.u.Port()
	if strings.Contains(hostname, ":") && !strings.HasPrefix(hostname, "[") {
		hostname = "[" + hostname + "]"
	}
	if port != "" {
		b.u.Host = hostname + ":" + port
	} else {
		b.u.Host = hostname
	}
	b.details = computeHostDetails(b.u.Hostname())
}

// SetHost sets the host (which may include a port). nil removes the host.
func (b *URL) SetHost(host *string) error {
	if host == nil {
		b.u.Host = ""
		b.details = computeHostDetails("")
		return nil
	}
	parsed, err := url.Parse(b.u.Scheme + "://" + *host)
	if err != nil {
		return fmt.Errorf("invalid host %q: %w", *host, err)
	}
	if parsed.Host != *host {
		return fmt.Errorf("invalid host %q", *host)
	}
	b.u.Host = *host
	b.details = computeHostDetails(b.u.Hostname())
	return nil
}

// SetScheme sets the URL scheme.
func (b *URL) SetScheme(scheme string) error {
	if scheme == "" {
		return ErrPartCannotBeNone
	}
	lower := strings.ToLower(scheme)
	for i, r := range lower {
		valid := r >= 'a' && r <= 'z' || i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.')
		if !valid {
			return fmt.Errorf("invalid scheme %q", scheme)
		}
	}
	b.u.Scheme = lower
	return nil
}

// SetPort sets or removes the explicit port.
func (b *URL) SetPort(port *string) error {
	if b.u.Host == "" {
		return ErrNoHost
	}
	hostname := b.u.Hostname()
	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == nil {
		b.u.Host = hostname
		return nil
	}
	for _, r := range *port {
		if r < '0' || r > '9' {
			return fmt.Errorf("invalid port %q", *port)
		}
	}
	b.u.Host = hostname + ":" + *port
	return nil
}

// SetPath sets the URL path.
func (b *URL) SetPath(path string) {
	b.u.Path = path
	b.u.RawPath = ""
}

// SetQuery sets or removes the raw query.
func (b *URL) SetQuery(query *string) {
	if query == nil {
		b.u.RawQuery = ""
		b.u.ForceQuery = false
		return
	}
	b.u.RawQuery = *query
	b.u.ForceQuery = *query == ""
}

// SetFragment sets or removes the fragment.
func (b *URL) SetFragment(fragment *string) {
	if fragment == nil {
		b.u.Fragment = ""
		b.u.RawFragment = ""
		return
	}
	b.u.Fragment = *fragment
	b.u.RawFragment = ""
}

// SetUsername sets or removes the username. Removing the username also
// removes the password.
func (b *URL) SetUsername(username *string) {
	if username == nil {
		b.u.User = nil
		return
	}
	if pass, ok := b.Password(); ok {
		b.u.User = url.UserPassword(*username, pass)
	} else {
		b.u.User = url.User(*username)
	}
}

// SetPassword sets or removes the password. Setting a password on a URL
// without a username gives it an empty username.
func (b *URL) SetPassword(password *string) {
	user := ""
	if b.u.User != nil {
		user = b.u.User.Username()
	}
	if password == nil {
		if b.u.User != nil {
			b.u.User = url.User(user)
		}
		return
	}
	b.u.User = url.UserPassword(user, *password)
}

// SetDomain replaces the entire hostname; the new value must classify as
// a domain. nil removes the host.
func (b *URL) SetDomain(domain *string) error {
	if domain == nil {
		return b.SetHost(nil)
	}
	if computeHostDetails(*domain).Kind != HostKindDomain {
		return ErrNotADomain
	}
	b.setHostname(*domain)
	return nil
}

// SetSubdomain sets or removes the labels before the registrable domain.
func (b *URL) SetSubdomain(subdomain *string) error {
	if b.details.Kind != HostKindDomain || b.u.Host == "" {
		return ErrNotADomain
	}
	reg, ok := b.RegDomain()
	if !ok {
		return ErrNotADomain
	}
	fqdn := ""
	if b.details.Domain.FQDN {
		fqdn = "."
	}
	if subdomain == nil || *subdomain == "" {
		b.setHostname(reg + fqdn)
		return nil
	}
	b.setHostname(*subdomain + "." + reg + fqdn)
	return nil
}

// SetRegDomain replaces the registrable domain, keeping the subdomain.
func (b *URL) SetRegDomain(reg *string) error {
	if b.details.Kind != HostKindDomain || b.u.Host == "" {
		return ErrNotADomain
	}
	if reg == nil {
		return ErrPartCannotBeNone
	}
	sub, hasSub := b.Subdomain()
	fqdn := ""
	if b.details.Domain.FQDN {
		fqdn = "."
	}
	if hasSub {
		b.setHostname(sub + "." + *reg + fqdn)
	} else {
		b.setHostname(*reg + fqdn)
	}
	return nil
}

// SetDomainMiddle replaces the label between subdomain and suffix.
func (b *URL) SetDomainMiddle(middle *string) error {
	if b.details.Kind != HostKindDomain || b.u.Host == "" {
		return ErrNotADomain
	}
	suffix, ok := b.DomainSuffix()
	if !ok {
		return ErrNotADomain
	}
	if middle == nil {
		return ErrPartCannotBeNone
	}
	sub, hasSub := b.Subdomain()
	fqdn := ""
	if b.details.Domain.FQDN {
		fqdn = "."
	}
	host := *middle + "." + suffix
	if hasSub {
		host = sub + "." + host
	}
	b.setHostname(host + fqdn)
	return nil
}

// SetNotDomainSuffix replaces everything before the domain suffix.
func (b *URL) SetNotDomainSuffix(notSuffix *string) error {
	if b.details.Kind != HostKindDomain || b.u.Host == "" {
		return ErrNotADomain
	}
	suffix, ok := b.DomainSuffix()
	if !ok {
		return ErrNotADomain
	}
	fqdn := ""
	if b.details.Domain.FQDN {
		fqdn = "."
	}
	if notSuffix == nil || *notSuffix == "" {
		b.setHostname(suffix + fqdn)
		return nil
	}
	b.setHostname(*notSuffix + "." + suffix + fqdn)
	return nil
}

// SetDomainSuffix replaces the public suffix. The new host is
// reclassified against the public suffix list, so boundaries may move
// when the new suffix has a different label count.
func (b *URL) SetDomainSuffix(suffix *string) error {
	if b.details.Kind != HostKindDomain || b.u.Host == "" {
		return ErrNotADomain
	}
	notSuffix, hasNotSuffix := b.NotDomainSuffix()
	fqdn := ""
	if b.details.Domain.FQDN {
		fqdn = "."
	}
	switch {
	case suffix == nil && hasNotSuffix:
		b.setHostname(notSuffix + fqdn)
	case suffix == nil:
		return ErrPartCannotBeNone
	case hasNotSuffix:
		b.setHostname(notSuffix + "." + *suffix + fqdn)
	default:
		b.setHostname(*suffix + fqdn)
	}
	return nil
}
