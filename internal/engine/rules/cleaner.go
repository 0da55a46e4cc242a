package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/edgecomet/urlclean/internal/engine/types"
)

// Docs is the self-description block of a cleaner document. It is
// carried verbatim and served by the frontends; the engine never reads
// it during cleaning.
type Docs struct {
	Name        string            `json:"name,omitempty"`
	Description []string          `json:"description,omitempty"`
	Flags       map[string]string `json:"flags,omitempty"`
	Vars        map[string]string `json:"vars,omitempty"`
	Sets        map[string]string `json:"sets,omitempty"`
	Maps        map[string]string `json:"maps,omitempty"`
	Lists       map[string]string `json:"lists,omitempty"`
}

// Cleaner is a parsed cleaner document: the program the engine
// interprets. One Cleaner is shared read-only by every job and task.
type Cleaner struct {
	Docs    Docs     `json:"docs,omitempty"`
	Params  *Params  `json:"params,omitempty"`
	Commons *Commons `json:"commons,omitempty"`
	Actions Action   `json:"actions"`
}

// ParseCleaner parses a cleaner document.
func ParseCleaner(data []byte) (*Cleaner, error) {
	var c Cleaner
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &ParseError{What: "cleaner", Err: err}
	}
	if c.Params == nil {
		c.Params = &Params{}
	}
	if c.Commons == nil {
		c.Commons = &Commons{}
	}
	return &c, nil
}

// LoadCleaner reads and parses a cleaner file.
func LoadCleaner(path string) (*Cleaner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cleaner %q: %w", path, err)
	}
	c, err := ParseCleaner(data)
	if err != nil {
		return nil, fmt.Errorf("cleaner %q: %w", path, err)
	}
	return c, nil
}

// Apply interprets the cleaner's root action against ts.
func (c *Cleaner) Apply(ts *TaskState) error {
	return c.Actions.Apply(ts)
}

// WithParams returns a shallow variant of c using different params.
// Docs, commons and the root action are shared.
func (c *Cleaner) WithParams(params *Params) *Cleaner {
	out := *c
	out.Params = params
	return &out
}

// Validate is the suitability pass run by frontends at load time: it
// eagerly compiles every regex and glob and resolves every common and
// params name that is statically known. It never runs during cleaning.
func (c *Cleaner) Validate() error {
	v := &validator{cleaner: c}
	if c.Commons != nil {
		for name, cond := range c.Commons.Conditions {
			if err := v.condition(cond); err != nil {
				return fmt.Errorf("common condition %q: %w", name, err)
			}
		}
		for name, action := range c.Commons.Actions {
			if err := v.action(action); err != nil {
				return fmt.Errorf("common action %q: %w", name, err)
			}
		}
		for name, source := range c.Commons.StringSources {
			if err := v.source(source); err != nil {
				return fmt.Errorf("common string source %q: %w", name, err)
			}
		}
		for name, mod := range c.Commons.StringModifications {
			if err := v.modification(mod); err != nil {
				return fmt.Errorf("common string modification %q: %w", name, err)
			}
		}
		for name, matcher := range c.Commons.StringMatchers {
			if err := v.matcher(matcher); err != nil {
				return fmt.Errorf("common string matcher %q: %w", name, err)
			}
		}
	}
	if err := v.action(c.Actions); err != nil {
		return fmt.Errorf("root action: %w", err)
	}
	return nil
}

// validator walks the component tree. Each family switch handles the
// variants that carry children or compilable patterns; leaves pass.
type validator struct {
	cleaner *Cleaner
}

func (v *validator) commonExists(table string, name string) error {
	commons := v.cleaner.Commons
	ok := false
	switch table {
	case "condition":
		_, ok = commons.Conditions[name]
	case "action":
		_, ok = commons.Actions[name]
	case "string source":
		_, ok = commons.StringSources[name]
	case "string modification":
		_, ok = commons.StringModifications[name]
	case "string matcher":
		_, ok = commons.StringMatchers[name]
	}
	if !ok {
		return &ResolutionError{Kind: "common " + table, Name: name}
	}
	return nil
}

func (v *validator) callArgs(args *CallArgsConfig) error {
	if args == nil {
		return nil
	}
	for _, source := range args.Vars {
		if err := v.source(source); err != nil {
			return err
		}
	}
	for _, cond := range args.Conditions {
		if err := v.condition(cond); err != nil {
			return err
		}
	}
	for _, action := range args.Actions {
		if err := v.action(action); err != nil {
			return err
		}
	}
	for _, source := range args.StringSources {
		if err := v.source(source); err != nil {
			return err
		}
	}
	for _, mod := range args.StringModifications {
		if err := v.modification(mod); err != nil {
			return err
		}
	}
	for _, matcher := range args.StringMatchers {
		if err := v.matcher(matcher); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) condition(c Condition) error {
	switch c.kind {
	case "All", "Any":
		for _, child := range c.p.([]Condition) {
			if err := v.condition(child); err != nil {
				return err
			}
		}
	case "Not", "Debug":
		return v.condition(*c.p.(*Condition))
	case "PartIs":
		if p := c.p.(*condPartIs); p.Value != nil {
			return v.source(*p.Value)
		}
	case "PartMatches":
		return v.matcher(c.p.(*condPartMatches).Matcher)
	case "PartContains":
		return v.source(c.p.(*condPartContains).Value)
	case "VarIs":
		if p := c.p.(*condVarIs); p.Value != nil {
			return v.source(*p.Value)
		}
	case "If":
		p := c.p.(*condIf)
		if err := v.condition(p.If); err != nil {
			return err
		}
		if err := v.condition(p.Then); err != nil {
			return err
		}
		if p.Else != nil {
			return v.condition(*p.Else)
		}
	case "TreatErrorAs":
		return v.condition(c.p.(*condTreatErrorAs).Condition)
	case "PartInSet":
		if name := c.p.(*condPartInSet).Set; v.cleaner.Params.Sets[name] == nil {
			return &ResolutionError{Kind: "params set", Name: name}
		}
	case "PartInMap":
		if name := c.p.(*condPartInMap).Map; v.cleaner.Params.Maps[name] == nil {
			return &ResolutionError{Kind: "params map", Name: name}
		}
	case "PartInPartitioning":
		if name := c.p.(*condPartInPartitioning).Partitioning; v.cleaner.Params.NamedPartitionings[name] == nil {
			return &ResolutionError{Kind: "named partitioning", Name: name}
		}
	case "CommonCall":
		cc := c.p.(*CommonCall)
		if err := v.commonExists("condition", cc.Name); err != nil {
			return err
		}
		return v.callArgs(cc.Args)
	}
	return nil
}

func (v *validator) action(a Action) error {
	switch a.kind {
	case "All", "Revert":
		for _, child := range a.p.([]Action) {
			if err := v.action(child); err != nil {
				return err
			}
		}
	case "IgnoreError", "Debug":
		return v.action(*a.p.(*Action))
	case "If":
		p := a.p.(*actIf)
		if err := v.condition(p.If); err != nil {
			return err
		}
		if err := v.action(p.Then); err != nil {
			return err
		}
		if p.Else != nil {
			return v.action(*p.Else)
		}
	case "SetPart":
		if p := a.p.(*actSetPart); p.Value != nil {
			return v.source(*p.Value)
		}
	case "SetWhole", "SetScheme", "SetHost":
		return v.source(*a.p.(*StringSource))
	case "RemoveQueryParamsMatching":
		return v.matcher(*a.p.(*StringMatcher))
	case "StringMap":
		p := a.p.(*actStringMap)
		if err := v.source(p.Value); err != nil {
			return err
		}
		return v.actionMap(&p.Map)
	case "PartMap":
		return v.actionMap(&a.p.(*actPartMap).Map)
	case "PartNamedPartitioning":
		p := a.p.(*actPartNamedPartitioning)
		if _, ok := v.cleaner.Params.NamedPartitionings[p.Partitioning]; !ok {
			return &ResolutionError{Kind: "named partitioning", Name: p.Partitioning}
		}
		return v.actionMap(&p.Map)
	case "Repeat":
		for _, child := range a.p.(*actRepeat).Actions {
			if err := v.action(child); err != nil {
				return err
			}
		}
	case "SetVar":
		if p := a.p.(*actSetVar); p.Value != nil {
			return v.source(*p.Value)
		}
	case "HttpRequest":
		return v.httpRequest(a.p.(*HttpRequestConfig))
	case "CommonCall":
		cc := a.p.(*CommonCall)
		if err := v.commonExists("action", cc.Name); err != nil {
			return err
		}
		return v.callArgs(cc.Args)
	}
	return nil
}

func (v *validator) actionMap(m *types.Map[Action]) error {
	for _, action := range m.Values() {
		if err := v.action(action); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) source(s StringSource) error {
	switch s.kind {
	case "ExtractPart":
		return v.source(s.p.(*ssExtractPart).Value)
	case "Map":
		p := s.p.(*ssMap)
		if _, ok := v.cleaner.Params.Maps[p.Map]; !ok {
			return &ResolutionError{Kind: "params map", Name: p.Map}
		}
		return v.source(p.Key)
	case "Partitioning":
		p := s.p.(*ssPartitioning)
		if _, ok := v.cleaner.Params.NamedPartitionings[p.Partitioning]; !ok {
			return &ResolutionError{Kind: "named partitioning", Name: p.Partitioning}
		}
		return v.source(p.Key)
	case "Modified":
		p := s.p.(*ssModified)
		if err := v.source(p.Value); err != nil {
			return err
		}
		return v.modification(p.Modification)
	case "If":
		p := s.p.(*ssIf)
		if err := v.condition(p.If); err != nil {
			return err
		}
		if err := v.source(p.Then); err != nil {
			return err
		}
		if p.Else != nil {
			return v.source(*p.Else)
		}
	case "IfSome":
		p := s.p.(*ssIfSome)
		if err := v.source(p.Value); err != nil {
			return err
		}
		if p.Then != nil {
			if err := v.source(*p.Then); err != nil {
				return err
			}
		}
		if p.Else != nil {
			return v.source(*p.Else)
		}
	case "FirstNotNone":
		for _, child := range s.p.([]StringSource) {
			if err := v.source(child); err != nil {
				return err
			}
		}
	case "Join":
		for _, child := range s.p.(*ssJoin).Sources {
			if err := v.source(child); err != nil {
				return err
			}
		}
	case "NoneTo":
		p := s.p.(*ssNoneTo)
		if err := v.source(p.Value); err != nil {
			return err
		}
		return v.source(p.IfNone)
	case "NoneToEmptyString", "IgnoreError", "Debug":
		return v.source(*s.p.(*StringSource))
	case "HttpRequest":
		return v.httpRequest(s.p.(*HttpRequestConfig))
	case "CacheRead":
		p := s.p.(*ssCacheRead)
		for _, child := range []StringSource{p.Subject, p.Key, p.Value} {
			if err := v.source(child); err != nil {
				return err
			}
		}
	case "CommonCall":
		cc := s.p.(*CommonCall)
		if err := v.commonExists("string source", cc.Name); err != nil {
			return err
		}
		return v.callArgs(cc.Args)
	}
	return nil
}

func (v *validator) modification(m StringModification) error {
	switch m.kind {
	case "Set":
		return v.source(*m.p.(*StringSource))
	case "RegexReplace":
		_, err := m.p.(*smRegexReplace).Regex.compiled()
		return err
	case "RegexExtract":
		_, err := m.p.(*smRegexExtract).Regex.compiled()
		return err
	case "All":
		for _, child := range m.p.([]StringModification) {
			if err := v.modification(child); err != nil {
				return err
			}
		}
	case "If":
		p := m.p.(*smIf)
		if err := v.matcher(p.If); err != nil {
			return err
		}
		if err := v.modification(p.Then); err != nil {
			return err
		}
		if p.Else != nil {
			return v.modification(*p.Else)
		}
	case "IgnoreError", "Debug":
		return v.modification(*m.p.(*StringModification))
	case "CommonCall":
		cc := m.p.(*CommonCall)
		if err := v.commonExists("string modification", cc.Name); err != nil {
			return err
		}
		return v.callArgs(cc.Args)
	}
	return nil
}

func (v *validator) matcher(m StringMatcher) error {
	switch m.kind {
	case "All", "Any":
		for _, child := range m.p.([]StringMatcher) {
			if err := v.matcher(child); err != nil {
				return err
			}
		}
	case "Not", "Debug":
		return v.matcher(*m.p.(*StringMatcher))
	case "Is", "Contains", "StartsWith", "EndsWith":
		return v.source(*m.p.(*StringSource))
	case "Regex":
		_, err := m.p.(*lazyRegex).compiled()
		return err
	case "Glob":
		_, err := m.p.(*lazyGlob).compiled()
		return err
	case "InSet":
		if _, ok := v.cleaner.Params.Sets[m.p.(string)]; !ok {
			return &ResolutionError{Kind: "params set", Name: m.p.(string)}
		}
	case "InMap":
		if _, ok := v.cleaner.Params.Maps[m.p.(string)]; !ok {
			return &ResolutionError{Kind: "params map", Name: m.p.(string)}
		}
	case "InPartitioning":
		p := m.p.(*smaInPartitioning)
		if _, ok := v.cleaner.Params.NamedPartitionings[p.Partitioning]; !ok {
			return &ResolutionError{Kind: "named partitioning", Name: p.Partitioning}
		}
	case "Modified":
		p := m.p.(*smaModified)
		if err := v.modification(p.Modification); err != nil {
			return err
		}
		return v.matcher(p.Matcher)
	case "If":
		p := m.p.(*smaIf)
		if err := v.matcher(p.If); err != nil {
			return err
		}
		if err := v.matcher(p.Then); err != nil {
			return err
		}
		if p.Else != nil {
			return v.matcher(*p.Else)
		}
	case "TreatErrorAs":
		return v.matcher(m.p.(*smaTreatErrorAs).Matcher)
	case "CommonCall":
		cc := m.p.(*CommonCall)
		if err := v.commonExists("string matcher", cc.Name); err != nil {
			return err
		}
		return v.callArgs(cc.Args)
	}
	return nil
}

func (v *validator) httpRequest(c *HttpRequestConfig) error {
	if c.URL != nil {
		if err := v.source(*c.URL); err != nil {
			return err
		}
	}
	for _, source := range c.DynamicHeaders {
		if err := v.source(source); err != nil {
			return err
		}
	}
	return nil
}
