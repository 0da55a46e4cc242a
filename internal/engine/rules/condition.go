package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/edgecomet/urlclean/internal/engine/types"
)

// Condition is a predicate over task state.
type Condition struct {
	kind string
	p    any
}

type condPartIs struct {
	Part  UrlPart       `json:"part"`
	Value *StringSource `json:"value"` // nil means "part is none"
}

type condPartIsOneOf struct {
	Part   UrlPart   `json:"part"`
	Values types.Set `json:"values"`
}

type condPartMatches struct {
	Part    UrlPart       `json:"part"`
	Matcher StringMatcher `json:"matcher"`
}

type condPartContains struct {
	Part  UrlPart       `json:"part"`
	Value StringSource  `json:"value"`
	Where containsWhere `json:"where,omitempty"`
}

type condVarIs struct {
	Var   Ref           `json:"var"`
	Value *StringSource `json:"value"`
}

type condPartInSet struct {
	Part UrlPart `json:"part"`
	Set  string  `json:"set"`
}

type condPartInMap struct {
	Part UrlPart `json:"part"`
	Map  string  `json:"map"`
}

type condPartInPartitioning struct {
	Partitioning string  `json:"partitioning"`
	Part         UrlPart `json:"part"`
	Partition    string  `json:"partition"`
}

type condIf struct {
	If   Condition  `json:"if"`
	Then Condition  `json:"then"`
	Else *Condition `json:"else,omitempty"`
}

type condTreatErrorAs struct {
	Condition Condition `json:"condition"`
	As        bool      `json:"as"`
}

// containsWhere says where PartContains must find its needle:
// "Anywhere" (the default), {"At": i} (exactly at byte offset i) or
// {"After": i} (at or after byte offset i).
type containsWhere struct {
	kind   string
	offset int
}

func (w containsWhere) holds(haystack, needle string) bool {
	switch w.kind {
	case "", "Anywhere":
		return strings.Contains(haystack, needle)
	case "At":
		if w.offset < 0 || w.offset > len(haystack) {
			return false
		}
		return strings.HasPrefix(haystack[w.offset:], needle)
	case "After":
		if w.offset < 0 || w.offset > len(haystack) {
			return false
		}
		return strings.Contains(haystack[w.offset:], needle)
	}
	return false
}

func (w containsWhere) MarshalJSON() ([]byte, error) {
	switch w.kind {
	case "", "Anywhere":
		return json.Marshal("Anywhere")
	case "At", "After":
		return encodeTagged(w.kind, w.offset)
	}
	return nil, fmt.Errorf("unknown contains-where %q", w.kind)
}

func (w *containsWhere) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return &ParseError{What: "contains where", Err: err}
	}
	switch tag {
	case "Anywhere":
		if payload != nil {
			return &ParseError{What: "contains where", Err: fmt.Errorf("Anywhere takes no payload")}
		}
		*w = containsWhere{kind: "Anywhere"}
	case "At", "After":
		if payload == nil {
			return &ParseError{What: "contains where", Err: fmt.Errorf("%s requires an offset", tag)}
		}
		var offset int
		if err := json.Unmarshal(payload, &offset); err != nil {
			return &ParseError{What: "contains where", Err: err}
		}
		*w = containsWhere{kind: tag, offset: offset}
	default:
		return &ParseError{What: "contains where", Err: fmt.Errorf("unknown variant %q", tag)}
	}
	return nil
}

// Check evaluates the condition. All and Any short-circuit.
func (c Condition) Check(view *TaskStateView) (bool, error) {
	switch c.kind {
	case "Always":
		return true, nil
	case "Never":
		return false, nil

	case "All":
		for _, child := range c.p.([]Condition) {
			ok, err := child.Check(view)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "Any":
		for _, child := range c.p.([]Condition) {
			ok, err := child.Check(view)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "Not":
		ok, err := c.p.(*Condition).Check(view)
		return !ok, err

	case "PartIs":
		p := c.p.(*condPartIs)
		part, partOK := p.Part.Get(view.URL)
		if p.Value == nil {
			return !partOK, nil
		}
		value, valueOK, err := p.Value.Get(view)
		if err != nil {
			return false, err
		}
		if partOK != valueOK {
			return false, nil
		}
		return !partOK || part == value, nil

	case "PartIsOneOf":
		p := c.p.(*condPartIsOneOf)
		part, ok := p.Part.Get(view.URL)
		if !ok {
			return p.Values.Contains(nil), nil
		}
		return p.Values.Contains(&part), nil

	case "PartMatches":
		p := c.p.(*condPartMatches)
		part, ok := p.Part.Get(view.URL)
		if !ok {
			return false, ErrStringSourceIsNone
		}
		return p.Matcher.Check(part, view)

	case "PartContains":
		p := c.p.(*condPartContains)
		part, ok := p.Part.Get(view.URL)
		if !ok {
			return false, ErrStringSourceIsNone
		}
		needle, err := p.Value.GetRequired(view)
		if err != nil {
			return false, err
		}
		return p.Where.holds(part, needle), nil

	case "FlagIsSet":
		return c.p.(Ref).FlagIsSet(view)

	case "VarIs":
		p := c.p.(*condVarIs)
		varValue, varOK, err := p.Var.Var(view)
		if err != nil {
			return false, err
		}
		if p.Value == nil {
			return !varOK, nil
		}
		value, valueOK, err := p.Value.Get(view)
		if err != nil {
			return false, err
		}
		if varOK != valueOK {
			return false, nil
		}
		return !varOK || varValue == value, nil

	case "PartInSet":
		p := c.p.(*condPartInSet)
		set, ok := view.Params.Sets[p.Set]
		if !ok {
			return false, &ResolutionError{Kind: "params set", Name: p.Set}
		}
		part, partOK := p.Part.Get(view.URL)
		if !partOK {
			return set.Contains(nil), nil
		}
		return set.Contains(&part), nil

	case "PartInMap":
		p := c.p.(*condPartInMap)
		m, ok := view.Params.Maps[p.Map]
		if !ok {
			return false, &ResolutionError{Kind: "params map", Name: p.Map}
		}
		part, partOK := p.Part.Get(view.URL)
		if !partOK {
			return m.IfNone != nil, nil
		}
		_, found := m.Map[part]
		return found, nil

	case "PartInPartitioning":
		p := c.p.(*condPartInPartitioning)
		np, ok := view.Params.NamedPartitionings[p.Partitioning]
		if !ok {
			return false, &ResolutionError{Kind: "named partitioning", Name: p.Partitioning}
		}
		part, partOK := p.Part.Get(view.URL)
		var key *string
		if partOK {
			key = &part
		}
		name, found := np.PartitionOf(key)
		return found && name == p.Partition, nil

	case "If":
		p := c.p.(*condIf)
		cond, err := p.If.Check(view)
		if err != nil {
			return false, err
		}
		if cond {
			return p.Then.Check(view)
		}
		if p.Else == nil {
			return false, nil
		}
		return p.Else.Check(view)

	case "TreatErrorAs":
		p := c.p.(*condTreatErrorAs)
		ok, err := p.Condition.Check(view)
		if err != nil {
			return p.As, nil
		}
		return ok, nil

	case "CommonCall":
		return c.p.(*CommonCall).checkCondition(view)

	case "CommonCallArg":
		name := c.p.(string)
		if view.CommonArgs == nil {
			return false, ErrNoCommonArgs
		}
		cond, ok := view.CommonArgs.Conditions[name]
		if !ok {
			return false, &ResolutionError{Kind: "common call arg condition", Name: name}
		}
		return cond.Check(view)

	case "Debug":
		ok, err := c.p.(*Condition).Check(view)
		view.logger().Debug("Condition debug", zap.Bool("result", ok), zap.Error(err))
		return ok, err
	}
	return false, fmt.Errorf("unknown condition %q", c.kind)
}

func (c Condition) MarshalJSON() ([]byte, error) {
	if c.kind == "" {
		return nil, fmt.Errorf("cannot marshal zero condition")
	}
	return encodeTagged(c.kind, c.p)
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return &ParseError{What: "condition", Err: err}
	}
	decode, ok := conditionDecoders[tag]
	if !ok {
		return &ParseError{What: "condition", Err: fmt.Errorf("unknown variant %q", tag)}
	}
	p, err := decode(payload)
	if err != nil {
		return &ParseError{What: "condition " + tag, Err: err}
	}
	*c = Condition{kind: tag, p: p}
	return nil
}

var conditionDecoders = map[string]func(json.RawMessage) (any, error){
	"Always":             decodeUnit,
	"Never":              decodeUnit,
	"All":                decodeDirect[[]Condition],
	"Any":                decodeDirect[[]Condition],
	"Not":                decodeChild[Condition],
	"PartIs":             decodeStruct[condPartIs],
	"PartIsOneOf":        decodeStruct[condPartIsOneOf],
	"PartMatches":        decodeStruct[condPartMatches],
	"PartContains":       decodeStruct[condPartContains],
	"FlagIsSet":          decodeDirect[Ref],
	"VarIs":              decodeStruct[condVarIs],
	"PartInSet":          decodeStruct[condPartInSet],
	"PartInMap":          decodeStruct[condPartInMap],
	"PartInPartitioning": decodeStruct[condPartInPartitioning],
	"If":                 decodeStruct[condIf],
	"TreatErrorAs":       decodeStruct[condTreatErrorAs],
	"CommonCall":         decodeStruct[CommonCall],
	"CommonCallArg":      decodeDirect[string],
	"Debug":              decodeChild[Condition],
}
