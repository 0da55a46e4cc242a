package rules

import (
	"encoding/json"
	"fmt"

	"github.com/edgecomet/urlclean/pkg/betterurl"
)

// UrlPart addresses one piece of a URL with get/set semantics.
//
// Unit parts serialize as their name ("Host", "Path", ...); indexed
// parts as {"PathSegment": -1}, {"DomainSegment": 0}, and query params
// as {"QueryParam": "name"} or {"QueryParam": {"name": "a", "index": 1}}.
type UrlPart struct {
	kind  partKind
	index int
	name  string
}

type partKind int

const (
	partWhole partKind = iota
	partScheme
	partUsername
	partPassword
	partHost
	partHostname
	partNormalizedHost
	partPort
	partDomain
	partSubdomain
	partDomainMiddle
	partRegDomain
	partNotDomainSuffix
	partDomainSuffix
	partPath
	partPathSegment
	partNextPathSegment
	partDomainSegment
	partQuery
	partQueryParam
	partFragment
)

var partNames = map[partKind]string{
	partWhole:           "Whole",
	partScheme:          "Scheme",
	partUsername:        "Username",
	partPassword:        "Password",
	partHost:            "Host",
	partHostname:        "Hostname",
	partNormalizedHost:  "NormalizedHost",
	partPort:            "Port",
	partDomain:          "Domain",
	partSubdomain:       "Subdomain",
	partDomainMiddle:    "DomainMiddle",
	partRegDomain:       "RegDomain",
	partNotDomainSuffix: "NotDomainSuffix",
	partDomainSuffix:    "DomainSuffix",
	partPath:            "Path",
	partPathSegment:     "PathSegment",
	partNextPathSegment: "NextPathSegment",
	partDomainSegment:   "DomainSegment",
	partQuery:           "Query",
	partQueryParam:      "QueryParam",
	partFragment:        "Fragment",
}

var partKindsByName = func() map[string]partKind {
	m := make(map[string]partKind, len(partNames))
	for k, n := range partNames {
		m[n] = k
	}
	return m
}()

// Part constructors used by code that builds rules programmatically.

func PartWhole() UrlPart          { return UrlPart{kind: partWhole} }
func PartScheme() UrlPart         { return UrlPart{kind: partScheme} }
func PartHost() UrlPart           { return UrlPart{kind: partHost} }
func PartNormalizedHost() UrlPart { return UrlPart{kind: partNormalizedHost} }
func PartDomain() UrlPart         { return UrlPart{kind: partDomain} }
func PartRegDomain() UrlPart      { return UrlPart{kind: partRegDomain} }
func PartSubdomain() UrlPart      { return UrlPart{kind: partSubdomain} }
func PartPath() UrlPart           { return UrlPart{kind: partPath} }
func PartQuery() UrlPart          { return UrlPart{kind: partQuery} }
func PartFragment() UrlPart       { return UrlPart{kind: partFragment} }

func PartPathSegment(i int) UrlPart   { return UrlPart{kind: partPathSegment, index: i} }
func PartDomainSegment(i int) UrlPart { return UrlPart{kind: partDomainSegment, index: i} }
func PartQueryParam(name string, nth int) UrlPart {
	return UrlPart{kind: partQueryParam, name: name, index: nth}
}

func (p UrlPart) String() string {
	switch p.kind {
	case partPathSegment, partDomainSegment:
		return fmt.Sprintf("%s(%d)", partNames[p.kind], p.index)
	case partQueryParam:
		return fmt.Sprintf("QueryParam(%s, %d)", p.name, p.index)
	}
	return partNames[p.kind]
}

// Get reads the addressed part. The bool is false when the part does
// not exist on this URL.
func (p UrlPart) Get(u *betterurl.URL) (string, bool) {
	switch p.kind {
	case partWhole:
		return u.String(), true
	case partScheme:
		return u.Scheme(), true
	case partUsername:
		return u.Username()
	case partPassword:
		return u.Password()
	case partHost:
		return u.Host()
	case partHostname:
		return u.Hostname()
	case partNormalizedHost:
		return u.NormalizedHost()
	case partPort:
		return u.Port()
	case partDomain:
		return u.Domain()
	case partSubdomain:
		return u.Subdomain()
	case partDomainMiddle:
		return u.DomainMiddle()
	case partRegDomain:
		return u.RegDomain()
	case partNotDomainSuffix:
		return u.NotDomainSuffix()
	case partDomainSuffix:
		return u.DomainSuffix()
	case partPath:
		return u.Path(), true
	case partPathSegment:
		return u.PathSegment(p.index)
	case partNextPathSegment:
		return "", false
	case partDomainSegment:
		return u.DomainSegment(p.index)
	case partQuery:
		return u.Query()
	case partQueryParam:
		value, found, _ := u.QueryParam(p.name, p.index)
		return value, found
	case partFragment:
		return u.Fragment()
	}
	return "", false
}

// Set writes the addressed part; nil removes it where removal makes
// sense. Setting a composite part (Host, Domain) re-derives its
// children.
func (p UrlPart) Set(u *betterurl.URL, value *string) error {
	switch p.kind {
	case partWhole:
		if value == nil {
			return betterurl.ErrPartCannotBeNone
		}
		parsed, err := betterurl.Parse(*value)
		if err != nil {
			return err
		}
		*u = *parsed
		return nil
	case partScheme:
		if value == nil {
			return betterurl.ErrPartCannotBeNone
		}
		return u.SetScheme(*value)
	case partUsername:
		u.SetUsername(value)
		return nil
	case partPassword:
		u.SetPassword(value)
		return nil
	case partHost, partHostname, partNormalizedHost:
		return u.SetHost(value)
	case partPort:
		return u.SetPort(value)
	case partDomain:
		return u.SetDomain(value)
	case partSubdomain:
		return u.SetSubdomain(value)
	case partDomainMiddle:
		return u.SetDomainMiddle(value)
	case partRegDomain:
		return u.SetRegDomain(value)
	case partNotDomainSuffix:
		return u.SetNotDomainSuffix(value)
	case partDomainSuffix:
		return u.SetDomainSuffix(value)
	case partPath:
		if value == nil {
			return betterurl.ErrPartCannotBeNone
		}
		u.SetPath(*value)
		return nil
	case partPathSegment:
		return u.SetPathSegment(p.index, value)
	case partNextPathSegment:
		if value == nil {
			return nil
		}
		segments, _ := u.PathSegments()
		if n := len(segments); n > 0 && segments[n-1] == "" {
			// A trailing empty segment ("/" or "/a/") is filled in
			// rather than kept in front of the new one.
			return u.SetPathSegment(n-1, value)
		}
		return u.InsertPathSegmentAt(len(segments), *value)
	case partDomainSegment:
		return u.SetDomainSegment(p.index, value)
	case partQuery:
		u.SetQuery(value)
		return nil
	case partQueryParam:
		return u.SetQueryParam(p.name, p.index, value)
	case partFragment:
		u.SetFragment(value)
		return nil
	}
	return fmt.Errorf("unknown url part kind %d", p.kind)
}

func (p UrlPart) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case partPathSegment, partDomainSegment:
		return encodeTagged(partNames[p.kind], p.index)
	case partQueryParam:
		if p.index == 0 {
			return encodeTagged("QueryParam", p.name)
		}
		return encodeTagged("QueryParam", map[string]any{"name": p.name, "index": p.index})
	}
	return json.Marshal(partNames[p.kind])
}

func (p *UrlPart) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return &ParseError{What: "url part", Err: err}
	}
	kind, ok := partKindsByName[tag]
	if !ok {
		return &ParseError{What: "url part", Err: fmt.Errorf("unknown part %q", tag)}
	}
	*p = UrlPart{kind: kind}

	switch kind {
	case partPathSegment, partDomainSegment:
		if payload == nil {
			return &ParseError{What: "url part", Err: fmt.Errorf("%s requires an index", tag)}
		}
		if err := json.Unmarshal(payload, &p.index); err != nil {
			return &ParseError{What: "url part", Err: err}
		}
	case partQueryParam:
		if payload == nil {
			return &ParseError{What: "url part", Err: fmt.Errorf("QueryParam requires a name")}
		}
		if err := json.Unmarshal(payload, &p.name); err == nil {
			return nil
		}
		var full struct {
			Name  string `json:"name"`
			Index int    `json:"index"`
		}
		if err := unmarshalStrict(payload, &full); err != nil {
			return &ParseError{What: "url part", Err: err}
		}
		p.name = full.Name
		p.index = full.Index
	default:
		if payload != nil {
			return &ParseError{What: "url part", Err: fmt.Errorf("%s takes no payload", tag)}
		}
	}
	return nil
}
