package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// StringMatcher is a predicate over a string.
type StringMatcher struct {
	kind string
	p    any
}

type smaInPartitioning struct {
	Partitioning string `json:"partitioning"`
	Partition    string `json:"partition"`
}

type smaModified struct {
	Modification StringModification `json:"modification"`
	Matcher      StringMatcher      `json:"matcher"`
}

type smaIf struct {
	If   StringMatcher  `json:"if"`
	Then StringMatcher  `json:"then"`
	Else *StringMatcher `json:"else,omitempty"`
}

type smaTreatErrorAs struct {
	Matcher StringMatcher `json:"matcher"`
	As      bool          `json:"as"`
}

// lazyGlob compiles on first use, like lazyRegex.
type lazyGlob struct {
	Pattern string
	state   *globState
}

type globState struct {
	once sync.Once
	g    glob.Glob
	err  error
}

func (g lazyGlob) compiled() (glob.Glob, error) {
	if g.state == nil {
		return glob.Compile(g.Pattern)
	}
	g.state.once.Do(func() {
		g.state.g, g.state.err = glob.Compile(g.Pattern)
	})
	return g.state.g, g.state.err
}

func (g lazyGlob) MarshalJSON() ([]byte, error) { return json.Marshal(g.Pattern) }

func (g *lazyGlob) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &g.Pattern); err != nil {
		return err
	}
	g.state = &globState{}
	return nil
}

// Check evaluates the matcher against value.
func (m StringMatcher) Check(value string, view *TaskStateView) (bool, error) {
	switch m.kind {
	case "Always":
		return true, nil
	case "Never":
		return false, nil

	case "All":
		for _, child := range m.p.([]StringMatcher) {
			ok, err := child.Check(value, view)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "Any":
		for _, child := range m.p.([]StringMatcher) {
			ok, err := child.Check(value, view)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "Not":
		ok, err := m.p.(*StringMatcher).Check(value, view)
		return !ok, err

	case "Is":
		other, err := m.p.(*StringSource).GetRequired(view)
		if err != nil {
			return false, err
		}
		return value == other, nil
	case "Contains":
		other, err := m.p.(*StringSource).GetRequired(view)
		if err != nil {
			return false, err
		}
		return strings.Contains(value, other), nil
	case "StartsWith":
		other, err := m.p.(*StringSource).GetRequired(view)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(value, other), nil
	case "EndsWith":
		other, err := m.p.(*StringSource).GetRequired(view)
		if err != nil {
			return false, err
		}
		return strings.HasSuffix(value, other), nil

	case "Regex":
		re, err := m.p.(*lazyRegex).compiled()
		if err != nil {
			return false, err
		}
		return re.MatchString(value), nil
	case "Glob":
		g, err := m.p.(*lazyGlob).compiled()
		if err != nil {
			return false, err
		}
		return g.Match(value), nil

	case "LengthIs":
		return len(value) == m.p.(int), nil
	case "MinLength":
		return len(value) >= m.p.(int), nil
	case "MaxLength":
		return len(value) <= m.p.(int), nil

	case "InSet":
		name := m.p.(string)
		set, ok := view.Params.Sets[name]
		if !ok {
			return false, &ResolutionError{Kind: "params set", Name: name}
		}
		return set.Contains(&value), nil
	case "InMap":
		name := m.p.(string)
		mp, ok := view.Params.Maps[name]
		if !ok {
			return false, &ResolutionError{Kind: "params map", Name: name}
		}
		_, found := mp.Map[value]
		return found, nil
	case "InPartitioning":
		p := m.p.(*smaInPartitioning)
		np, ok := view.Params.NamedPartitionings[p.Partitioning]
		if !ok {
			return false, &ResolutionError{Kind: "named partitioning", Name: p.Partitioning}
		}
		name, found := np.PartitionOf(&value)
		return found && name == p.Partition, nil

	case "Modified":
		p := m.p.(*smaModified)
		modified := value
		if err := p.Modification.Apply(&modified, view); err != nil {
			return false, err
		}
		return p.Matcher.Check(modified, view)

	case "If":
		p := m.p.(*smaIf)
		cond, err := p.If.Check(value, view)
		if err != nil {
			return false, err
		}
		if cond {
			return p.Then.Check(value, view)
		}
		if p.Else == nil {
			return false, nil
		}
		return p.Else.Check(value, view)

	case "TreatErrorAs":
		p := m.p.(*smaTreatErrorAs)
		ok, err := p.Matcher.Check(value, view)
		if err != nil {
			return p.As, nil
		}
		return ok, nil

	case "CommonCall":
		return m.p.(*CommonCall).checkMatcher(value, view)

	case "CommonCallArg":
		name := m.p.(string)
		if view.CommonArgs == nil {
			return false, ErrNoCommonArgs
		}
		matcher, ok := view.CommonArgs.StringMatchers[name]
		if !ok {
			return false, &ResolutionError{Kind: "common call arg string matcher", Name: name}
		}
		return matcher.Check(value, view)

	case "Debug":
		ok, err := m.p.(*StringMatcher).Check(value, view)
		view.logger().Debug("StringMatcher debug",
			zap.String("value", value), zap.Bool("matched", ok), zap.Error(err))
		return ok, err
	}
	return false, fmt.Errorf("unknown string matcher %q", m.kind)
}

func (m StringMatcher) MarshalJSON() ([]byte, error) {
	if m.kind == "" {
		return nil, fmt.Errorf("cannot marshal zero string matcher")
	}
	return encodeTagged(m.kind, m.p)
}

func (m *StringMatcher) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return &ParseError{What: "string matcher", Err: err}
	}
	decode, ok := stringMatcherDecoders[tag]
	if !ok {
		return &ParseError{What: "string matcher", Err: fmt.Errorf("unknown variant %q", tag)}
	}
	p, err := decode(payload)
	if err != nil {
		return &ParseError{What: "string matcher " + tag, Err: err}
	}
	*m = StringMatcher{kind: tag, p: p}
	return nil
}

var stringMatcherDecoders = map[string]func(json.RawMessage) (any, error){
	"Always":         decodeUnit,
	"Never":          decodeUnit,
	"All":            decodeDirect[[]StringMatcher],
	"Any":            decodeDirect[[]StringMatcher],
	"Not":            decodeChild[StringMatcher],
	"Is":             decodeChild[StringSource],
	"Contains":       decodeChild[StringSource],
	"StartsWith":     decodeChild[StringSource],
	"EndsWith":       decodeChild[StringSource],
	"Regex":          decodeChild[lazyRegex],
	"Glob":           decodeChild[lazyGlob],
	"LengthIs":       decodeDirect[int],
	"MinLength":      decodeDirect[int],
	"MaxLength":      decodeDirect[int],
	"InSet":          decodeDirect[string],
	"InMap":          decodeDirect[string],
	"InPartitioning": decodeStruct[smaInPartitioning],
	"Modified":       decodeStruct[smaModified],
	"If":             decodeStruct[smaIf],
	"TreatErrorAs":   decodeStruct[smaTreatErrorAs],
	"CommonCall":     decodeStruct[CommonCall],
	"CommonCallArg":  decodeDirect[string],
	"Debug":          decodeChild[StringMatcher],
}
