package betterurl

import (
	"net/url"
	"strings"
)

// QueryPair is one &-separated entry of a query string, decoded.
type QueryPair struct {
	Name     string
	Value    string
	HasValue bool // distinguishes "a" from "a="
}

// decodeQueryComponent percent-decodes s, mapping "+" to space.
// Malformed escapes are kept literally; invalid UTF-8 after decoding is
// replaced with U+FFFD.
func decodeQueryComponent(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '+':
			sb.WriteByte(' ')
		case '%':
			if i+2 < len(s) {
				if hi, ok1 := unhex(s[i+1]); ok1 {
					if lo, ok2 := unhex(s[i+2]); ok2 {
						sb.WriteByte(hi<<4 | lo)
						i += 2
						continue
					}
				}
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return strings.ToValidUTF8(sb.String(), "�")
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// encodeQueryComponent encodes s so that decodeQueryComponent round-trips.
func encodeQueryComponent(s string) string {
	return url.QueryEscape(s)
}

// QueryPairs returns the decoded query pairs in order. Empty
// &-separated chunks are skipped.
func (b *URL) QueryPairs() ([]QueryPair, bool) {
	raw, ok := b.Query()
	if !ok {
		return nil, false
	}
	var pairs []QueryPair
	for chunk := range strings.SplitSeq(raw, "&") {
		if chunk == "" {
			continue
		}
		name, value, hasValue := strings.Cut(chunk, "=")
		pairs = append(pairs, QueryPair{
			Name:     decodeQueryComponent(name),
			Value:    decodeQueryComponent(value),
			HasValue: hasValue,
		})
	}
	return pairs, true
}

// setQueryPairs re-encodes pairs as the raw query. An empty slice
// removes the query entirely.
func (b *URL) setQueryPairs(pairs []QueryPair) {
	if len(pairs) == 0 {
		b.SetQuery(nil)
		return
	}
	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(encodeQueryComponent(p.Name))
		if p.HasValue {
			sb.WriteByte('=')
			sb.WriteString(encodeQueryComponent(p.Value))
		}
	}
	raw := sb.String()
	b.SetQuery(&raw)
}

// QueryParam returns the value of the nth occurrence of name (signed
// index over the occurrences of that name). A valueless pair ("a"
// rather than "a=") yields ("", true, false).
func (b *URL) QueryParam(name string, nth int) (value string, found, hasValue bool) {
	pairs, ok := b.QueryPairs()
	if !ok {
		return "", false, false
	}
	var matches []int
	for i, p := range pairs {
		if p.Name == name {
			matches = append(matches, i)
		}
	}
	at, ok := resolveIndex(nth, len(matches))
	if !ok {
		return "", false, false
	}
	p := pairs[matches[at]]
	return p.Value, true, p.HasValue
}

// SetQueryParam sets the nth occurrence of name, or removes it when
// value is nil. Addressing one occurrence past the last appends a new
// pair; removing the only pair removes the query.
func (b *URL) SetQueryParam(name string, nth int, value *string) error {
	pairs, _ := b.QueryPairs()
	var matches []int
	for i, p := range pairs {
		if p.Name == name {
			matches = append(matches, i)
		}
	}
	if at, ok := resolveIndex(nth, len(matches)); ok {
		if value == nil {
			i := matches[at]
			pairs = append(pairs[:i], pairs[i+1:]...)
		} else {
			pairs[matches[at]].Value = *value
			pairs[matches[at]].HasValue = true
		}
		b.setQueryPairs(pairs)
		return nil
	}
	// One past the end is a valid insert position for set.
	if value != nil {
		if at, ok := resolveInsertIndex(nth, len(matches)); ok && at == len(matches) {
			pairs = append(pairs, QueryPair{Name: name, Value: *value, HasValue: true})
			b.setQueryPairs(pairs)
			return nil
		}
	}
	if value == nil {
		return nil // removing an absent pair is a no-op
	}
	return ErrSegmentNotFound
}

// RemoveQueryParams removes every pair whose decoded name matches.
func (b *URL) RemoveQueryParams(match func(name string) bool) {
	pairs, ok := b.QueryPairs()
	if !ok {
		return
	}
	kept := pairs[:0]
	for _, p := range pairs {
		if !match(p.Name) {
			kept = append(kept, p)
		}
	}
	if len(kept) != len(pairs) {
		b.setQueryPairs(kept)
	}
}
