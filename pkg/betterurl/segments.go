package betterurl

import "strings"

// resolveIndex maps a signed, Python-like index onto [0, length).
// Negative indices count from the end: -1 is the last segment.
func resolveIndex(i, length int) (int, bool) {
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, false
	}
	return i, true
}

// resolveInsertIndex maps a signed index onto [0, length]. length is a
// valid insert position (append).
func resolveInsertIndex(i, length int) (int, bool) {
	if i < 0 {
		i += length
	}
	if i < 0 || i > length {
		return 0, false
	}
	return i, true
}

// PathSegments returns the path split at "/", or not-found when the
// path is empty or not rooted. A path of "/" is one empty segment.
func (b *URL) PathSegments() ([]string, bool) {
	path := b.u.EscapedPath()
	if !strings.HasPrefix(path, "/") {
		return nil, false
	}
	return strings.Split(path[1:], "/"), true
}

// PathSegment returns the segment at signed index i.
func (b *URL) PathSegment(i int) (string, bool) {
	segments, ok := b.PathSegments()
	if !ok {
		return "", false
	}
	at, ok := resolveIndex(i, len(segments))
	if !ok {
		return "", false
	}
	return segments[at], true
}

func (b *URL) setPathSegments(segments []string) {
	if len(segments) == 0 {
		b.SetPath("")
		return
	}
	b.SetPath("/" + strings.Join(segments, "/"))
}

// SetPathSegment replaces the segment at signed index i, or removes it
// when value is nil. Removing the only segment empties the path.
func (b *URL) SetPathSegment(i int, value *string) error {
	segments, ok := b.PathSegments()
	if !ok {
		return ErrSegmentNotFound
	}
	at, ok := resolveIndex(i, len(segments))
	if !ok {
		return ErrSegmentNotFound
	}
	if value == nil {
		segments = append(segments[:at], segments[at+1:]...)
	} else {
		segments[at] = *value
	}
	b.setPathSegments(segments)
	return nil
}

// InsertPathSegmentAt inserts value at signed index i, shifting i and
// later segments right. i == segment count appends.
func (b *URL) InsertPathSegmentAt(i int, value string) error {
	segments, ok := b.PathSegments()
	if !ok {
		if i == 0 || i == -1 {
			b.setPathSegments([]string{value})
			return nil
		}
		return ErrSegmentNotFound
	}
	at, ok := resolveInsertIndex(i, len(segments))
	if !ok {
		return ErrSegmentNotFound
	}
	segments = append(segments[:at], append([]string{value}, segments[at:]...)...)
	b.setPathSegments(segments)
	return nil
}

// InsertPathSegmentAfter inserts value just after signed index i.
func (b *URL) InsertPathSegmentAfter(i int, value string) error {
	segments, ok := b.PathSegments()
	if !ok {
		return ErrSegmentNotFound
	}
	at, ok := resolveIndex(i, len(segments))
	if !ok {
		return ErrSegmentNotFound
	}
	return b.InsertPathSegmentAt(at+1, value)
}

// DomainSegments returns the dot-separated labels of a domain host.
func (b *URL) DomainSegments() ([]string, bool) {
	domain, ok := b.Domain()
	if !ok || domain == "" {
		return nil, false
	}
	return strings.Split(domain, "."), true
}

// DomainSegment returns the label at signed index i.
func (b *URL) DomainSegment(i int) (string, bool) {
	segments, ok := b.DomainSegments()
	if !ok {
		return "", false
	}
	at, ok := resolveIndex(i, len(segments))
	if !ok {
		return "", false
	}
	return segments[at], true
}

// SetDomainSegment replaces the label at signed index i, or removes it
// when value is nil. Removing the last label removes the host.
func (b *URL) SetDomainSegment(i int, value *string) error {
	segments, ok := b.DomainSegments()
	if !ok {
		return ErrNotADomain
	}
	at, ok := resolveIndex(i, len(segments))
	if !ok {
		return ErrSegmentNotFound
	}
	if value == nil {
		segments = append(segments[:at], segments[at+1:]...)
	} else {
		segments[at] = *value
	}
	if len(segments) == 0 {
		return b.SetHost(nil)
	}
	joined := strings.Join(segments, ".")
	return b.SetDomain(&joined)
}

// InsertDomainSegmentAt inserts a label at signed index i.
func (b *URL) InsertDomainSegmentAt(i int, value string) error {
	segments, ok := b.DomainSegments()
	if !ok {
		return ErrNotADomain
	}
	at, ok := resolveInsertIndex(i, len(segments))
	if !ok {
		return ErrSegmentNotFound
	}
	segments = append(segments[:at], append([]string{value}, segments[at:]...)...)
	joined := strings.Join(segments, ".")
	return b.SetDomain(&joined)
}
