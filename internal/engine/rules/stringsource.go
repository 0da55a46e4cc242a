package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/edgecomet/urlclean/internal/engine/cache"
	"github.com/edgecomet/urlclean/pkg/betterurl"
)

// parseURLForExtraction parses a string that is expected to hold a URL,
// for reading parts out of values like redirect query params.
func parseURLForExtraction(raw string) (*betterurl.URL, error) {
	return betterurl.Parse(raw)
}

// StringSource lazily produces an optional string from task state.
// None is a first-class result distinct from the empty string.
//
// The JSON short form for a literal is a bare string; everything else
// is externally tagged: {"Part": "Host"}, {"Modified": {...}}, ...
type StringSource struct {
	kind string
	p    any
}

// Payload structs. Field names are the serialized schema.

type ssExtractPart struct {
	Value StringSource `json:"value"`
	Part  UrlPart      `json:"part"`
}

type ssMap struct {
	Map string       `json:"map"`
	Key StringSource `json:"key"`
}

type ssPartitioning struct {
	Partitioning string       `json:"partitioning"`
	Key          StringSource `json:"key"`
}

type ssModified struct {
	Value        StringSource       `json:"value"`
	Modification StringModification `json:"modification"`
}

type ssIf struct {
	If   Condition     `json:"if"`
	Then StringSource  `json:"then"`
	Else *StringSource `json:"else,omitempty"`
}

type ssIfSome struct {
	Value StringSource  `json:"value"`
	Then  *StringSource `json:"then,omitempty"`
	Else  *StringSource `json:"else,omitempty"`
}

type ssJoin struct {
	Sources   []StringSource `json:"sources"`
	Separator string         `json:"separator,omitempty"`
}

type ssNoneTo struct {
	Value  StringSource `json:"value"`
	IfNone StringSource `json:"if_none"`
}

type ssCacheRead struct {
	Subject StringSource `json:"subject"`
	Key     StringSource `json:"key"`
	Value   StringSource `json:"value"`
}

// String returns a literal source.
func String(s string) StringSource { return StringSource{kind: "String", p: s} }

// Part returns a source reading a URL part.
func Part(part UrlPart) StringSource { return StringSource{kind: "Part", p: part} }

// Var returns a source reading a var reference.
func Var(ref Ref) StringSource { return StringSource{kind: "Var", p: ref} }

// Get evaluates the source. The bool is false for a none result.
func (s StringSource) Get(view *TaskStateView) (string, bool, error) {
	switch s.kind {
	case "String":
		return s.p.(string), true, nil

	case "Part":
		v, ok := s.p.(UrlPart).Get(view.URL)
		return v, ok, nil

	case "ExtractPart":
		p := s.p.(*ssExtractPart)
		raw, ok, err := p.Value.Get(view)
		if err != nil || !ok {
			return "", false, err
		}
		parsed, err := parseURLForExtraction(raw)
		if err != nil {
			return "", false, err
		}
		v, ok := p.Part.Get(parsed)
		return v, ok, nil

	case "Var":
		return s.p.(Ref).Var(view)

	case "Env":
		v, ok := os.LookupEnv(s.p.(string))
		if ok && !utf8.ValidString(v) {
			return "", false, fmt.Errorf("%w: %s", ErrEnvVarNotUtf8, s.p.(string))
		}
		return v, ok, nil

	case "Map":
		p := s.p.(*ssMap)
		m, ok := view.Params.Maps[p.Map]
		if !ok {
			return "", false, &ResolutionError{Kind: "params map", Name: p.Map}
		}
		key, err := p.Key.getOpt(view)
		if err != nil {
			return "", false, err
		}
		v, found := m.Get(key)
		return v, found, nil

	case "Partitioning":
		p := s.p.(*ssPartitioning)
		np, ok := view.Params.NamedPartitionings[p.Partitioning]
		if !ok {
			return "", false, &ResolutionError{Kind: "named partitioning", Name: p.Partitioning}
		}
		key, err := p.Key.getOpt(view)
		if err != nil {
			return "", false, err
		}
		name, found := np.PartitionOf(key)
		return name, found, nil

	case "Modified":
		p := s.p.(*ssModified)
		v, ok, err := p.Value.Get(view)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, ErrStringSourceIsNone
		}
		if err := p.Modification.Apply(&v, view); err != nil {
			return "", false, err
		}
		return v, true, nil

	case "If":
		p := s.p.(*ssIf)
		cond, err := p.If.Check(view)
		if err != nil {
			return "", false, err
		}
		if cond {
			return p.Then.Get(view)
		}
		if p.Else == nil {
			return "", false, nil
		}
		return p.Else.Get(view)

	case "IfSome":
		p := s.p.(*ssIfSome)
		v, ok, err := p.Value.Get(view)
		if err != nil {
			return "", false, err
		}
		if ok {
			if p.Then == nil {
				return v, true, nil
			}
			return p.Then.Get(view)
		}
		if p.Else == nil {
			return "", false, nil
		}
		return p.Else.Get(view)

	case "FirstNotNone":
		for _, source := range s.p.([]StringSource) {
			v, ok, err := source.Get(view)
			if err != nil {
				return "", false, err
			}
			if ok {
				return v, true, nil
			}
		}
		return "", false, nil

	case "Join":
		p := s.p.(*ssJoin)
		parts := make([]string, 0, len(p.Sources))
		for _, source := range p.Sources {
			v, ok, err := source.Get(view)
			if err != nil {
				return "", false, err
			}
			if ok {
				parts = append(parts, v)
			}
		}
		if len(parts) == 0 {
			return "", false, nil
		}
		return strings.Join(parts, p.Separator), true, nil

	case "NoneTo":
		p := s.p.(*ssNoneTo)
		v, ok, err := p.Value.Get(view)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v, true, nil
		}
		return p.IfNone.Get(view)

	case "NoneToEmptyString":
		v, ok, err := s.p.(*StringSource).Get(view)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", true, nil
		}
		return v, true, nil

	case "IgnoreError":
		v, ok, err := s.p.(*StringSource).Get(view)
		if err != nil {
			return "", false, nil
		}
		return v, ok, err

	case "HttpRequest":
		return s.p.(*HttpRequestConfig).perform(view)

	case "CacheRead":
		return s.cacheRead(view)

	case "CommonCall":
		return s.p.(*CommonCall).getString(view)

	case "CommonCallArg":
		name := s.p.(string)
		if view.CommonArgs == nil {
			return "", false, ErrNoCommonArgs
		}
		source, ok := view.CommonArgs.StringSources[name]
		if !ok {
			return "", false, &ResolutionError{Kind: "common call arg string source", Name: name}
		}
		return source.Get(view)

	case "Debug":
		v, ok, err := s.p.(*StringSource).Get(view)
		view.logger().Debug("StringSource debug",
			zap.String("value", v), zap.Bool("some", ok), zap.Error(err))
		return v, ok, err
	}
	return "", false, fmt.Errorf("unknown string source %q", s.kind)
}

// getOpt is Get with the optional result as a *string.
func (s StringSource) getOpt(view *TaskStateView) (*string, error) {
	v, ok, err := s.Get(view)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// GetRequired errors on a none result.
func (s StringSource) GetRequired(view *TaskStateView) (string, error) {
	v, ok, err := s.Get(view)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrStringSourceIsNone
	}
	return v, nil
}

// cacheRead implements read-through caching: on a hit the stored value
// is returned (after any configured delay); on a miss the inner source
// is computed, timed, stored, and returned. The whole operation runs
// under the unthreader so cache timing is not observable sideways.
func (s StringSource) cacheRead(view *TaskStateView) (string, bool, error) {
	p := s.p.(*ssCacheRead)

	subject, err := p.Subject.GetRequired(view)
	if err != nil {
		return "", false, err
	}
	key, err := p.Key.GetRequired(view)
	if err != nil {
		return "", false, err
	}

	release := view.Unthreader.Acquire()
	defer release()

	if entry, found, err := view.Cache.Read(view.ctx(), subject, key); err != nil {
		return "", false, err
	} else if found {
		v, ok := optString(entry.Value)
		return v, ok, nil
	}

	start := time.Now()
	v, ok, err := p.Value.Get(view)
	if err != nil {
		return "", false, err
	}
	entry := cache.Entry{Subject: subject, Key: key, Duration: time.Since(start)}
	if ok {
		entry.Value = &v
	}
	if err := view.Cache.Write(view.ctx(), entry); err != nil {
		return "", false, err
	}
	return v, ok, nil
}

func (s StringSource) MarshalJSON() ([]byte, error) {
	if s.kind == "String" {
		return json.Marshal(s.p.(string))
	}
	if s.kind == "" {
		return nil, fmt.Errorf("cannot marshal zero string source")
	}
	return encodeTagged(s.kind, s.p)
}

func (s *StringSource) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		*s = String(literal)
		return nil
	}

	tag, payload, err := decodeTagged(data)
	if err != nil {
		return &ParseError{What: "string source", Err: err}
	}
	decode, ok := stringSourceDecoders[tag]
	if !ok {
		return &ParseError{What: "string source", Err: fmt.Errorf("unknown variant %q", tag)}
	}
	p, err := decode(payload)
	if err != nil {
		return &ParseError{What: "string source " + tag, Err: err}
	}
	*s = StringSource{kind: tag, p: p}
	return nil
}

var stringSourceDecoders = map[string]func(json.RawMessage) (any, error){
	"String":            decodeDirect[string],
	"Part":              decodeDirect[UrlPart],
	"ExtractPart":       decodeStruct[ssExtractPart],
	"Var":               decodeDirect[Ref],
	"Env":               decodeDirect[string],
	"Map":               decodeStruct[ssMap],
	"Partitioning":      decodeStruct[ssPartitioning],
	"Modified":          decodeStruct[ssModified],
	"If":                decodeStruct[ssIf],
	"IfSome":            decodeStruct[ssIfSome],
	"FirstNotNone":      decodeDirect[[]StringSource],
	"Join":              decodeStruct[ssJoin],
	"NoneTo":            decodeStruct[ssNoneTo],
	"NoneToEmptyString": decodeChild[StringSource],
	"IgnoreError":       decodeChild[StringSource],
	"HttpRequest":       decodeStruct[HttpRequestConfig],
	"CacheRead":         decodeStruct[ssCacheRead],
	"CommonCall":        decodeStruct[CommonCall],
	"CommonCallArg":     decodeDirect[string],
	"Debug":             decodeChild[StringSource],
}

// decodeDirect decodes a payload stored by value (literals, refs,
// slices).
func decodeDirect[T any](payload json.RawMessage) (any, error) {
	var v T
	if payload == nil {
		return nil, fmt.Errorf("payload required")
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeStruct decodes an object payload into *T, rejecting unknown
// fields.
func decodeStruct[T any](payload json.RawMessage) (any, error) {
	var v T
	if payload == nil {
		return nil, fmt.Errorf("payload required")
	}
	if err := unmarshalStrict(payload, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// decodeChild decodes a payload that is directly another component.
func decodeChild[T any](payload json.RawMessage) (any, error) {
	var v T
	if payload == nil {
		return nil, fmt.Errorf("payload required")
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// decodeUnit rejects any payload.
func decodeUnit(payload json.RawMessage) (any, error) {
	if payload != nil {
		return nil, fmt.Errorf("variant takes no payload")
	}
	return nil, nil
}
