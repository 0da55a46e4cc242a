package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"
)

// RefScope says which table a flag or var reference reads.
type RefScope int

const (
	// ScopeParams reads the cleaner's params (the default).
	ScopeParams RefScope = iota
	// ScopeScratchpad reads the task's mutable scratchpad.
	ScopeScratchpad
	// ScopeTask reads the caller-supplied per-task context.
	ScopeTask
	// ScopeJob reads the caller-supplied per-job context.
	ScopeJob
	// ScopeEnv reads process environment variables.
	ScopeEnv
	// ScopeCommonArgs reads the current commons call frame.
	ScopeCommonArgs
)

var scopeNames = map[RefScope]string{
	ScopeParams:     "Params",
	ScopeScratchpad: "Scratchpad",
	ScopeTask:       "TaskContext",
	ScopeJob:        "JobContext",
	ScopeEnv:        "Env",
	ScopeCommonArgs: "CommonCallArg",
}

var scopesByName = func() map[string]RefScope {
	m := make(map[string]RefScope, len(scopeNames))
	for k, n := range scopeNames {
		m[n] = k
	}
	return m
}()

// Ref names a flag or var in one scope. The JSON short form is a bare
// string, meaning a params reference; the long form is
// {"scope": "Scratchpad", "name": "x"}.
type Ref struct {
	Scope RefScope
	Name  string
}

func (r Ref) String() string { return scopeNames[r.Scope] + ":" + r.Name }

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.Scope == ScopeParams {
		return json.Marshal(r.Name)
	}
	return json.Marshal(map[string]string{"scope": scopeNames[r.Scope], "name": r.Name})
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var short string
	if err := json.Unmarshal(data, &short); err == nil {
		*r = Ref{Scope: ScopeParams, Name: short}
		return nil
	}

	var long struct {
		Scope string `json:"scope"`
		Name  string `json:"name"`
	}
	if err := unmarshalStrict(data, &long); err != nil {
		return &ParseError{What: "ref", Err: err}
	}
	scope, ok := scopesByName[long.Scope]
	if !ok {
		return &ParseError{What: "ref", Err: fmt.Errorf("unknown scope %q", long.Scope)}
	}
	*r = Ref{Scope: scope, Name: long.Name}
	return nil
}

// FlagIsSet resolves r as a flag.
func (r Ref) FlagIsSet(view *TaskStateView) (bool, error) {
	switch r.Scope {
	case ScopeParams:
		_, ok := view.Params.Flags[r.Name]
		return ok, nil
	case ScopeScratchpad:
		return view.Scratchpad.FlagIsSet(r.Name), nil
	case ScopeTask:
		if view.Context == nil {
			return false, nil
		}
		_, ok := view.Context.Flags[r.Name]
		return ok, nil
	case ScopeJob:
		if view.JobContext == nil {
			return false, nil
		}
		_, ok := view.JobContext.Flags[r.Name]
		return ok, nil
	case ScopeEnv:
		_, ok := os.LookupEnv(r.Name)
		return ok, nil
	case ScopeCommonArgs:
		if view.CommonArgs == nil {
			return false, ErrNoCommonArgs
		}
		_, ok := view.CommonArgs.Flags[r.Name]
		return ok, nil
	}
	return false, fmt.Errorf("unknown ref scope %d", r.Scope)
}

// Var resolves r as a var. Absence is (., false, nil).
func (r Ref) Var(view *TaskStateView) (string, bool, error) {
	switch r.Scope {
	case ScopeParams:
		v, ok := view.Params.Vars[r.Name]
		return v, ok, nil
	case ScopeScratchpad:
		v, ok := view.Scratchpad.Var(r.Name)
		return v, ok, nil
	case ScopeTask:
		if view.Context == nil {
			return "", false, nil
		}
		v, ok := view.Context.Vars[r.Name]
		return v, ok, nil
	case ScopeJob:
		if view.JobContext == nil {
			return "", false, nil
		}
		v, ok := view.JobContext.Vars[r.Name]
		return v, ok, nil
	case ScopeEnv:
		v, ok := os.LookupEnv(r.Name)
		if ok && !utf8.ValidString(v) {
			return "", false, fmt.Errorf("%w: %s", ErrEnvVarNotUtf8, r.Name)
		}
		return v, ok, nil
	case ScopeCommonArgs:
		if view.CommonArgs == nil {
			return "", false, ErrNoCommonArgs
		}
		v, ok := view.CommonArgs.Vars[r.Name]
		return v, ok, nil
	}
	return "", false, fmt.Errorf("unknown ref scope %d", r.Scope)
}
