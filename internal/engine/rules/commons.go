package rules

import (
	"github.com/edgecomet/urlclean/internal/engine/types"
)

// Commons holds the named reusable components a cleaner can invoke
// with CommonCall.
type Commons struct {
	Conditions          map[string]Condition          `json:"conditions,omitempty"`
	Actions             map[string]Action             `json:"actions,omitempty"`
	StringSources       map[string]StringSource       `json:"string_sources,omitempty"`
	StringModifications map[string]StringModification `json:"string_modifications,omitempty"`
	StringMatchers      map[string]StringMatcher      `json:"string_matchers,omitempty"`
}

// CallArgsConfig is the serialized arguments block of a CommonCall.
// Vars are string sources evaluated in the caller's frame; everything
// else is carried through verbatim.
type CallArgsConfig struct {
	Flags               []string                      `json:"flags,omitempty"`
	Vars                map[string]StringSource       `json:"vars,omitempty"`
	Conditions          map[string]Condition          `json:"conditions,omitempty"`
	Actions             map[string]Action             `json:"actions,omitempty"`
	StringSources       map[string]StringSource       `json:"string_sources,omitempty"`
	StringModifications map[string]StringModification `json:"string_modifications,omitempty"`
	StringMatchers      map[string]StringMatcher      `json:"string_matchers,omitempty"`
	Sets                map[string]*types.Set         `json:"sets,omitempty"`
	Lists               map[string][]string           `json:"lists,omitempty"`
	Maps                map[string]*types.Map[string] `json:"maps,omitempty"`
}

// CallArgs is one evaluated commons call frame. It is immutable for
// the duration of the call.
type CallArgs struct {
	Flags               map[string]struct{}
	Vars                map[string]string
	Conditions          map[string]Condition
	Actions             map[string]Action
	StringSources       map[string]StringSource
	StringModifications map[string]StringModification
	StringMatchers      map[string]StringMatcher
	Sets                map[string]*types.Set
	Lists               map[string][]string
	Maps                map[string]*types.Map[string]
}

// build evaluates the config's vars in the caller's frame and freezes
// the result.
func (c *CallArgsConfig) build(view *TaskStateView) (*CallArgs, error) {
	args := &CallArgs{
		Conditions:          c.Conditions,
		Actions:             c.Actions,
		StringSources:       c.StringSources,
		StringModifications: c.StringModifications,
		StringMatchers:      c.StringMatchers,
		Sets:                c.Sets,
		Lists:               c.Lists,
		Maps:                c.Maps,
	}
	if len(c.Flags) > 0 {
		args.Flags = make(map[string]struct{}, len(c.Flags))
		for _, f := range c.Flags {
			args.Flags[f] = struct{}{}
		}
	}
	if len(c.Vars) > 0 {
		args.Vars = make(map[string]string, len(c.Vars))
		for name, source := range c.Vars {
			v, ok, err := source.Get(view)
			if err != nil {
				return nil, err
			}
			if ok {
				args.Vars[name] = v
			}
		}
	}
	return args, nil
}

// CommonCall invokes a named commons entry with arguments. The callee
// runs with the new frame pushed; the caller's frame is restored on
// return.
type CommonCall struct {
	Name string          `json:"name"`
	Args *CallArgsConfig `json:"args,omitempty"`
}

func (cc *CommonCall) buildArgs(view *TaskStateView) (*CallArgs, error) {
	if cc.Args == nil {
		return &CallArgs{}, nil
	}
	return cc.Args.build(view)
}

func (cc *CommonCall) checkCondition(view *TaskStateView) (bool, error) {
	cond, ok := view.Commons.Conditions[cc.Name]
	if !ok {
		return false, &ResolutionError{Kind: "common condition", Name: cc.Name}
	}
	args, err := cc.buildArgs(view)
	if err != nil {
		return false, err
	}
	return cond.Check(view.withArgs(args))
}

func (cc *CommonCall) applyAction(ts *TaskState) error {
	action, ok := ts.Commons.Actions[cc.Name]
	if !ok {
		return &ResolutionError{Kind: "common action", Name: cc.Name}
	}
	args, err := cc.buildArgs(ts.View())
	if err != nil {
		return err
	}
	return action.Apply(ts.withArgs(args))
}

func (cc *CommonCall) getString(view *TaskStateView) (string, bool, error) {
	source, ok := view.Commons.StringSources[cc.Name]
	if !ok {
		return "", false, &ResolutionError{Kind: "common string source", Name: cc.Name}
	}
	args, err := cc.buildArgs(view)
	if err != nil {
		return "", false, err
	}
	return source.Get(view.withArgs(args))
}

func (cc *CommonCall) applyModification(value string, view *TaskStateView) (string, error) {
	mod, ok := view.Commons.StringModifications[cc.Name]
	if !ok {
		return "", &ResolutionError{Kind: "common string modification", Name: cc.Name}
	}
	args, err := cc.buildArgs(view)
	if err != nil {
		return "", err
	}
	return mod.apply(value, view.withArgs(args))
}

func (cc *CommonCall) checkMatcher(value string, view *TaskStateView) (bool, error) {
	matcher, ok := view.Commons.StringMatchers[cc.Name]
	if !ok {
		return false, &ResolutionError{Kind: "common string matcher", Name: cc.Name}
	}
	args, err := cc.buildArgs(view)
	if err != nil {
		return false, err
	}
	return matcher.Check(value, view.withArgs(args))
}
