package rules

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"sync"

	xhtml "golang.org/x/net/html"

	"go.uber.org/zap"
)

// StringModification transforms a string in place.
type StringModification struct {
	kind string
	p    any
}

type smReplace struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

type smRegexReplace struct {
	Regex   lazyRegex `json:"regex"`
	Replace string    `json:"replace"`
}

type smRegexExtract struct {
	Regex    lazyRegex `json:"regex"`
	Template string    `json:"template"`
}

type smKeepSegments struct {
	Split string `json:"split"`
	Start int    `json:"start,omitempty"`
	End   *int   `json:"end,omitempty"`
}

type smKeepNthSegment struct {
	Split string `json:"split"`
	N     int    `json:"n"`
}

type smIf struct {
	If   StringMatcher       `json:"if"`
	Then StringModification  `json:"then"`
	Else *StringModification `json:"else,omitempty"`
}

// lazyRegex compiles its pattern on first use, so loading a cleaner
// stays cheap and compile failures surface as interpretation errors
// (the suitability pass compiles eagerly instead).
type lazyRegex struct {
	Pattern string
	state   *regexState
}

type regexState struct {
	once sync.Once
	re   *regexp.Regexp
	err  error
}

func (r lazyRegex) compiled() (*regexp.Regexp, error) {
	if r.state == nil {
		return regexp.Compile(r.Pattern)
	}
	r.state.once.Do(func() {
		r.state.re, r.state.err = regexp.Compile(r.Pattern)
	})
	return r.state.re, r.state.err
}

func (r lazyRegex) MarshalJSON() ([]byte, error) { return json.Marshal(r.Pattern) }

func (r *lazyRegex) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.Pattern); err != nil {
		return err
	}
	r.state = &regexState{}
	return nil
}

// Apply transforms *value. On error *value is left unchanged.
func (m StringModification) Apply(value *string, view *TaskStateView) error {
	out, err := m.apply(*value, view)
	if err != nil {
		return err
	}
	*value = out
	return nil
}

func (m StringModification) apply(value string, view *TaskStateView) (string, error) {
	switch m.kind {
	case "Lowercase":
		return strings.ToLower(value), nil
	case "Uppercase":
		return strings.ToUpper(value), nil
	case "Trim":
		return strings.TrimSpace(value), nil

	case "Append":
		return value + m.p.(string), nil
	case "Prepend":
		return m.p.(string) + value, nil

	case "Set":
		return m.p.(*StringSource).GetRequired(view)

	case "StripPrefix":
		prefix := m.p.(string)
		if !strings.HasPrefix(value, prefix) {
			return "", fmt.Errorf("value does not start with %q", prefix)
		}
		return value[len(prefix):], nil
	case "StripSuffix":
		suffix := m.p.(string)
		if !strings.HasSuffix(value, suffix) {
			return "", fmt.Errorf("value does not end with %q", suffix)
		}
		return value[:len(value)-len(suffix)], nil
	case "StripMaybePrefix":
		return strings.TrimPrefix(value, m.p.(string)), nil
	case "StripMaybeSuffix":
		return strings.TrimSuffix(value, m.p.(string)), nil

	case "Replace":
		p := m.p.(*smReplace)
		return strings.ReplaceAll(value, p.Find, p.Replace), nil

	case "RegexReplace":
		p := m.p.(*smRegexReplace)
		re, err := p.Regex.compiled()
		if err != nil {
			return "", err
		}
		return re.ReplaceAllString(value, p.Replace), nil

	case "RegexExtract":
		p := m.p.(*smRegexExtract)
		re, err := p.Regex.compiled()
		if err != nil {
			return "", err
		}
		match := re.FindStringSubmatchIndex(value)
		if match == nil {
			return "", fmt.Errorf("regex %q did not match", p.Regex.Pattern)
		}
		return string(re.ExpandString(nil, p.Template, value, match)), nil

	case "KeepBefore":
		needle := m.p.(string)
		i := strings.Index(value, needle)
		if i < 0 {
			return "", fmt.Errorf("value does not contain %q", needle)
		}
		return value[:i], nil
	case "KeepAfter":
		needle := m.p.(string)
		i := strings.Index(value, needle)
		if i < 0 {
			return "", fmt.Errorf("value does not contain %q", needle)
		}
		return value[i+len(needle):], nil

	case "KeepSegments":
		p := m.p.(*smKeepSegments)
		segments := strings.Split(value, p.Split)
		start, end, err := sliceRange(p.Start, p.End, len(segments))
		if err != nil {
			return "", err
		}
		return strings.Join(segments[start:end], p.Split), nil

	case "KeepNthSegment":
		p := m.p.(*smKeepNthSegment)
		segments := strings.Split(value, p.Split)
		at, ok := resolveSegmentIndex(p.N, len(segments))
		if !ok {
			return "", fmt.Errorf("segment %d out of range", p.N)
		}
		return segments[at], nil

	case "PercentEncode":
		return url.QueryEscape(value), nil
	case "PercentDecode":
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return "", fmt.Errorf("percent decode failed: %w", err)
		}
		return decoded, nil

	case "HtmlUnescape":
		return html.UnescapeString(value), nil
	case "HtmlEscape":
		return html.EscapeString(value), nil

	case "Base64Encode":
		return base64.StdEncoding.EncodeToString([]byte(value)), nil
	case "Base64Decode":
		decoded, err := laxBase64Decode(value)
		if err != nil {
			return "", fmt.Errorf("base64 decode failed: %w", err)
		}
		return decoded, nil

	case "JsonPointer":
		return jsonPointer(value, m.p.(string))

	case "ExtractJsStringLiteral":
		return extractJsStringLiteral(value)

	case "ExtractHtmlAttribute":
		return extractHTMLAttribute(value, m.p.(string))

	case "All":
		out := value
		for _, mod := range m.p.([]StringModification) {
			next, err := mod.apply(out, view)
			if err != nil {
				return "", err
			}
			out = next
		}
		return out, nil

	case "If":
		p := m.p.(*smIf)
		matched, err := p.If.Check(value, view)
		if err != nil {
			return "", err
		}
		if matched {
			return p.Then.apply(value, view)
		}
		if p.Else == nil {
			return value, nil
		}
		return p.Else.apply(value, view)

	case "IgnoreError":
		out, err := m.p.(*StringModification).apply(value, view)
		if err != nil {
			return value, nil
		}
		return out, nil

	case "CommonCall":
		return m.p.(*CommonCall).applyModification(value, view)

	case "CommonCallArg":
		name := m.p.(string)
		if view.CommonArgs == nil {
			return "", ErrNoCommonArgs
		}
		mod, ok := view.CommonArgs.StringModifications[name]
		if !ok {
			return "", &ResolutionError{Kind: "common call arg string modification", Name: name}
		}
		return mod.apply(value, view)

	case "Debug":
		out, err := m.p.(*StringModification).apply(value, view)
		view.logger().Debug("StringModification debug",
			zap.String("in", value), zap.String("out", out), zap.Error(err))
		return out, err
	}
	return "", fmt.Errorf("unknown string modification %q", m.kind)
}

// sliceRange resolves a signed [start, end) range over length items.
// A nil end means through the last item. Inverted ranges are rejected.
func sliceRange(start int, end *int, length int) (int, int, error) {
	from := start
	if from < 0 {
		from += length
	}
	to := length
	if end != nil {
		to = *end
		if to < 0 {
			to += length
		}
	}
	if from < 0 || to > length || from > to {
		return 0, 0, fmt.Errorf("range [%d, %v) invalid for %d segments", start, end, length)
	}
	return from, to, nil
}

func resolveSegmentIndex(i, length int) (int, bool) {
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, false
	}
	return i, true
}

func laxBase64Decode(s string) (string, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "-_") {
		out, err := base64.RawURLEncoding.DecodeString(s)
		return string(out), err
	}
	out, err := base64.RawStdEncoding.DecodeString(s)
	return string(out), err
}

// jsonPointer evaluates an RFC 6901 pointer against a JSON document.
// String results are returned verbatim; other values re-serialize.
func jsonPointer(document, pointer string) (string, error) {
	var root any
	if err := json.Unmarshal([]byte(document), &root); err != nil {
		return "", fmt.Errorf("value is not JSON: %w", err)
	}

	current := root
	if pointer != "" {
		if !strings.HasPrefix(pointer, "/") {
			return "", fmt.Errorf("json pointer %q must start with /", pointer)
		}
		for token := range strings.SplitSeq(pointer[1:], "/") {
			token = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
			switch node := current.(type) {
			case map[string]any:
				child, ok := node[token]
				if !ok {
					return "", fmt.Errorf("json pointer: no member %q", token)
				}
				current = child
			case []any:
				var i int
				if _, err := fmt.Sscanf(token, "%d", &i); err != nil || i < 0 || i >= len(node) {
					return "", fmt.Errorf("json pointer: bad array index %q", token)
				}
				current = node[i]
			default:
				return "", fmt.Errorf("json pointer: cannot descend into scalar at %q", token)
			}
		}
	}

	if s, ok := current.(string); ok {
		return s, nil
	}
	out, err := json.Marshal(current)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// extractJsStringLiteral decodes the first javascript string literal
// found in value, handling the usual backslash escapes.
func extractJsStringLiteral(value string) (string, error) {
	start := strings.IndexAny(value, `'"`)
	if start < 0 {
		return "", fmt.Errorf("no string literal found")
	}
	quote := value[start]
	var sb strings.Builder
	i := start + 1
	for i < len(value) {
		c := value[i]
		switch {
		case c == quote:
			return sb.String(), nil
		case c == '\\' && i+1 < len(value):
			i++
			switch e := value[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '0':
				sb.WriteByte(0)
			case 'x':
				if i+2 >= len(value) {
					return "", fmt.Errorf("truncated \\x escape")
				}
				var b byte
				if _, err := fmt.Sscanf(value[i+1:i+3], "%02x", &b); err != nil {
					return "", fmt.Errorf("bad \\x escape: %w", err)
				}
				sb.WriteByte(b)
				i += 2
			case 'u':
				if i+4 >= len(value) {
					return "", fmt.Errorf("truncated \\u escape")
				}
				var r rune
				if _, err := fmt.Sscanf(value[i+1:i+5], "%04x", &r); err != nil {
					return "", fmt.Errorf("bad \\u escape: %w", err)
				}
				sb.WriteRune(r)
				i += 4
			default:
				sb.WriteByte(e)
			}
		default:
			sb.WriteByte(c)
		}
		i++
	}
	return "", fmt.Errorf("unterminated string literal")
}

// extractHTMLAttribute returns the first occurrence of the named
// attribute in an HTML fragment.
func extractHTMLAttribute(fragment, attribute string) (string, error) {
	tokenizer := xhtml.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := tokenizer.Next()
		if tt == xhtml.ErrorToken {
			return "", fmt.Errorf("attribute %q not found", attribute)
		}
		if tt != xhtml.StartTagToken && tt != xhtml.SelfClosingTagToken {
			continue
		}
		for _, attr := range tokenizer.Token().Attr {
			if attr.Key == attribute {
				return attr.Val, nil
			}
		}
	}
}

func (m StringModification) MarshalJSON() ([]byte, error) {
	if m.kind == "" {
		return nil, fmt.Errorf("cannot marshal zero string modification")
	}
	return encodeTagged(m.kind, m.p)
}

func (m *StringModification) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return &ParseError{What: "string modification", Err: err}
	}
	decode, ok := stringModificationDecoders[tag]
	if !ok {
		return &ParseError{What: "string modification", Err: fmt.Errorf("unknown variant %q", tag)}
	}
	p, err := decode(payload)
	if err != nil {
		return &ParseError{What: "string modification " + tag, Err: err}
	}
	*m = StringModification{kind: tag, p: p}
	return nil
}

var stringModificationDecoders = map[string]func(json.RawMessage) (any, error){
	"Lowercase":              decodeUnit,
	"Uppercase":              decodeUnit,
	"Trim":                   decodeUnit,
	"Append":                 decodeDirect[string],
	"Prepend":                decodeDirect[string],
	"Set":                    decodeChild[StringSource],
	"StripPrefix":            decodeDirect[string],
	"StripSuffix":            decodeDirect[string],
	"StripMaybePrefix":       decodeDirect[string],
	"StripMaybeSuffix":       decodeDirect[string],
	"Replace":                decodeStruct[smReplace],
	"RegexReplace":           decodeStruct[smRegexReplace],
	"RegexExtract":           decodeStruct[smRegexExtract],
	"KeepBefore":             decodeDirect[string],
	"KeepAfter":              decodeDirect[string],
	"KeepSegments":           decodeStruct[smKeepSegments],
	"KeepNthSegment":         decodeStruct[smKeepNthSegment],
	"PercentEncode":          decodeUnit,
	"PercentDecode":          decodeUnit,
	"HtmlUnescape":           decodeUnit,
	"HtmlEscape":             decodeUnit,
	"Base64Encode":           decodeUnit,
	"Base64Decode":           decodeUnit,
	"JsonPointer":            decodeDirect[string],
	"ExtractJsStringLiteral": decodeUnit,
	"ExtractHtmlAttribute":   decodeDirect[string],
	"All":                    decodeDirect[[]StringModification],
	"If":                     decodeStruct[smIf],
	"IgnoreError":            decodeChild[StringModification],
	"CommonCall":             decodeStruct[CommonCall],
	"CommonCallArg":          decodeDirect[string],
	"Debug":                  decodeChild[StringModification],
}
