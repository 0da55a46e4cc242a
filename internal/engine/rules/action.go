package rules

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/urlclean/internal/engine/cache"
	"github.com/edgecomet/urlclean/internal/engine/httpx"
	"github.com/edgecomet/urlclean/internal/engine/types"
)

// defaultRepeatLimit bounds Repeat when the config gives no limit.
const defaultRepeatLimit = 10

// Action mutates task state.
type Action struct {
	kind string
	p    any
}

type actIf struct {
	If   Condition `json:"if"`
	Then Action    `json:"then"`
	Else *Action   `json:"else,omitempty"`
}

type actSetPart struct {
	Part  UrlPart       `json:"part"`
	Value *StringSource `json:"value"` // nil removes the part
}

type actStringMap struct {
	Value StringSource      `json:"value"`
	Map   types.Map[Action] `json:"map"`
}

type actPartMap struct {
	Part UrlPart           `json:"part"`
	Map  types.Map[Action] `json:"map"`
}

type actPartNamedPartitioning struct {
	Partitioning string            `json:"partitioning"`
	Part         UrlPart           `json:"part"`
	Map          types.Map[Action] `json:"map"`
}

type actRepeat struct {
	Actions []Action `json:"actions"`
	Limit   uint64   `json:"limit,omitempty"`
}

type actSetFlag struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

type actSetVar struct {
	Name  string        `json:"name"`
	Value *StringSource `json:"value"` // nil unsets
}

type actExpandRedirect struct {
	// Subject overrides the cache subject; default "redirect".
	Subject string `json:"subject,omitempty"`
}

// Apply runs the action against ts.
func (a Action) Apply(ts *TaskState) error {
	switch a.kind {
	case "None":
		return nil

	case "All":
		for _, child := range a.p.([]Action) {
			if err := child.Apply(ts); err != nil {
				return err
			}
		}
		return nil

	case "If":
		p := a.p.(*actIf)
		cond, err := p.If.Check(ts.View())
		if err != nil {
			return err
		}
		if cond {
			return p.Then.Apply(ts)
		}
		if p.Else == nil {
			return nil
		}
		return p.Else.Apply(ts)

	case "SetPart":
		p := a.p.(*actSetPart)
		var value *string
		if p.Value != nil {
			v, err := p.Value.getOpt(ts.View())
			if err != nil {
				return err
			}
			value = v
		}
		return p.Part.Set(ts.URL, value)

	case "SetWhole":
		v, err := a.p.(*StringSource).GetRequired(ts.View())
		if err != nil {
			return err
		}
		return PartWhole().Set(ts.URL, &v)

	case "SetScheme":
		v, err := a.p.(*StringSource).GetRequired(ts.View())
		if err != nil {
			return err
		}
		return ts.URL.SetScheme(v)

	case "SetHost":
		v, err := a.p.(*StringSource).GetRequired(ts.View())
		if err != nil {
			return err
		}
		return ts.URL.SetHost(&v)

	case "RemoveQueryParams":
		set := a.p.(*types.Set)
		ts.URL.RemoveQueryParams(func(name string) bool { return set.Contains(&name) })
		return nil

	case "AllowQueryParams":
		set := a.p.(*types.Set)
		ts.URL.RemoveQueryParams(func(name string) bool { return !set.Contains(&name) })
		return nil

	case "RemoveQueryParamsMatching":
		matcher := a.p.(*StringMatcher)
		view := ts.View()
		var checkErr error
		ts.URL.RemoveQueryParams(func(name string) bool {
			if checkErr != nil {
				return false
			}
			matched, err := matcher.Check(name, view)
			if err != nil {
				checkErr = err
				return false
			}
			return matched
		})
		return checkErr

	case "RemovePathSegment":
		return ts.URL.SetPathSegment(a.p.(int), nil)

	case "StringMap":
		p := a.p.(*actStringMap)
		key, err := p.Value.getOpt(ts.View())
		if err != nil {
			return err
		}
		if action, found := p.Map.Get(key); found {
			return action.Apply(ts)
		}
		return nil

	case "PartMap":
		p := a.p.(*actPartMap)
		var key *string
		if v, ok := p.Part.Get(ts.URL); ok {
			key = &v
		}
		if action, found := p.Map.Get(key); found {
			return action.Apply(ts)
		}
		return nil

	case "PartNamedPartitioning":
		p := a.p.(*actPartNamedPartitioning)
		np, ok := ts.Params.NamedPartitionings[p.Partitioning]
		if !ok {
			return &ResolutionError{Kind: "named partitioning", Name: p.Partitioning}
		}
		var value *string
		if v, found := p.Part.Get(ts.URL); found {
			value = &v
		}
		var key *string
		if name, found := np.PartitionOf(value); found {
			key = &name
		}
		if action, found := p.Map.Get(key); found {
			return action.Apply(ts)
		}
		return nil

	case "Repeat":
		return a.repeat(ts)

	case "Revert":
		snap := ts.snapshot()
		for _, child := range a.p.([]Action) {
			if err := child.Apply(ts); err != nil {
				ts.restore(snap)
				return err
			}
		}
		return nil

	case "IgnoreError":
		if err := a.p.(*Action).Apply(ts); err != nil {
			ts.View().logger().Debug("Action error ignored", zap.Error(err))
		}
		return nil

	case "SetFlag":
		p := a.p.(*actSetFlag)
		ts.Scratchpad.SetFlag(p.Name, p.Value)
		return nil

	case "SetVar":
		p := a.p.(*actSetVar)
		if p.Value == nil {
			ts.Scratchpad.SetVar(p.Name, nil)
			return nil
		}
		v, err := p.Value.getOpt(ts.View())
		if err != nil {
			return err
		}
		ts.Scratchpad.SetVar(p.Name, v)
		return nil

	case "ExpandRedirect":
		subject := "redirect"
		if p, ok := a.p.(*actExpandRedirect); ok && p.Subject != "" {
			subject = p.Subject
		}
		return expandRedirect(ts, subject)

	case "HttpRequest":
		_, _, err := a.p.(*HttpRequestConfig).perform(ts.View())
		return err

	case "CommonCall":
		return a.p.(*CommonCall).applyAction(ts)

	case "CommonCallArg":
		name := a.p.(string)
		if ts.CommonArgs == nil {
			return ErrNoCommonArgs
		}
		action, ok := ts.CommonArgs.Actions[name]
		if !ok {
			return &ResolutionError{Kind: "common call arg action", Name: name}
		}
		return action.Apply(ts)

	case "Debug":
		before := ts.URL.String()
		err := a.p.(*Action).Apply(ts)
		ts.View().logger().Debug("Action debug",
			zap.String("before", before), zap.String("after", ts.URL.String()), zap.Error(err))
		return err
	}
	return fmt.Errorf("unknown action %q", a.kind)
}

// repeat runs its actions until the state stops changing or the
// iteration limit is reached. Equality is value equality over the URL
// string and the scratchpad.
func (a Action) repeat(ts *TaskState) error {
	p := a.p.(*actRepeat)
	limit := p.Limit
	if limit == 0 {
		limit = defaultRepeatLimit
	}

	for i := uint64(0); i < limit; i++ {
		snap := ts.snapshot()
		for _, child := range p.Actions {
			if err := child.Apply(ts); err != nil {
				return err
			}
		}
		if ts.equalsSnapshot(snap) {
			return nil
		}
	}
	return nil
}

// expandRedirect resolves one redirect hop: a cached expansion if
// present, otherwise a single GET whose Location (or Refresh) target
// replaces the URL. The expansion, or its absence, is cached under
// (subject, original URL).
func expandRedirect(ts *TaskState, subject string) error {
	view := ts.View()
	key := ts.URL.String()

	release := ts.Unthreader.Acquire()
	defer release()

	if entry, found, err := ts.Cache.Read(view.ctx(), subject, key); err != nil {
		return err
	} else if found {
		if entry.Value == nil {
			return ErrNoRedirect
		}
		return PartWhole().Set(ts.URL, entry.Value)
	}

	start := time.Now()
	target, err := fetchRedirectTarget(view, key)
	if err != nil {
		return err
	}

	entry := cache.Entry{Subject: subject, Key: key, Value: target, Duration: time.Since(start)}
	if writeErr := ts.Cache.Write(view.ctx(), entry); writeErr != nil {
		return writeErr
	}
	if target == nil {
		return ErrNoRedirect
	}
	return PartWhole().Set(ts.URL, target)
}

// fetchRedirectTarget GETs rawURL and returns the absolute redirect
// target, or nil when the response redirects nowhere.
func fetchRedirectTarget(view *TaskStateView, rawURL string) (*string, error) {
	req, err := http.NewRequestWithContext(view.ctx(), http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := view.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		if refresh := resp.Header.Get("Refresh"); refresh != "" {
			if target, ok := httpx.RefreshTarget(refresh); ok {
				location = target
			}
		}
	}
	if location == "" {
		return nil, nil
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect target %q: %w", location, err)
	}
	resolved := base.ResolveReference(ref).String()
	return &resolved, nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	if a.kind == "" {
		return nil, fmt.Errorf("cannot marshal zero action")
	}
	return encodeTagged(a.kind, a.p)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return &ParseError{What: "action", Err: err}
	}
	decode, ok := actionDecoders[tag]
	if !ok {
		return &ParseError{What: "action", Err: fmt.Errorf("unknown variant %q", tag)}
	}
	p, err := decode(payload)
	if err != nil {
		return &ParseError{What: "action " + tag, Err: err}
	}
	*a = Action{kind: tag, p: p}
	return nil
}

// decodeOptStruct is decodeStruct with the payload optional.
func decodeOptStruct[T any](payload json.RawMessage) (any, error) {
	var v T
	if payload == nil {
		return &v, nil
	}
	if err := unmarshalStrict(payload, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

var actionDecoders = map[string]func(json.RawMessage) (any, error){
	"None":                      decodeUnit,
	"All":                       decodeDirect[[]Action],
	"If":                        decodeStruct[actIf],
	"SetPart":                   decodeStruct[actSetPart],
	"SetWhole":                  decodeChild[StringSource],
	"SetScheme":                 decodeChild[StringSource],
	"SetHost":                   decodeChild[StringSource],
	"RemoveQueryParams":         decodeChild[types.Set],
	"AllowQueryParams":          decodeChild[types.Set],
	"RemoveQueryParamsMatching": decodeChild[StringMatcher],
	"RemovePathSegment":         decodeDirect[int],
	"StringMap":                 decodeStruct[actStringMap],
	"PartMap":                   decodeStruct[actPartMap],
	"PartNamedPartitioning":     decodeStruct[actPartNamedPartitioning],
	"Repeat":                    decodeStruct[actRepeat],
	"Revert":                    decodeDirect[[]Action],
	"IgnoreError":               decodeChild[Action],
	"SetFlag":                   decodeStruct[actSetFlag],
	"SetVar":                    decodeStruct[actSetVar],
	"ExpandRedirect":            decodeOptStruct[actExpandRedirect],
	"HttpRequest":               decodeStruct[HttpRequestConfig],
	"CommonCall":                decodeStruct[CommonCall],
	"CommonCallArg":             decodeDirect[string],
	"Debug":                     decodeChild[Action],
}
