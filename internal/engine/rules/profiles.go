package rules

import "sort"

// ProfilesConfig derives named params variants from one base params:
// the base diff applies to the cleaner's params, and each named diff
// applies on top of the base profile.
type ProfilesConfig struct {
	Base  ParamsDiff            `json:"base,omitempty"`
	Named map[string]ParamsDiff `json:"named,omitempty"`
}

// Profiles is the built form: one Params per profile, sharing
// untouched containers with each other through copy-on-write.
type Profiles struct {
	base  *Params
	named map[string]*Params
}

// Make builds every profile from params.
func (pc *ProfilesConfig) Make(params *Params) *Profiles {
	base := pc.Base.Apply(params)
	named := make(map[string]*Params, len(pc.Named))
	for name, diff := range pc.Named {
		named[name] = diff.Apply(base)
	}
	return &Profiles{base: base, named: named}
}

// Get returns the params of a profile; nil names the base profile.
func (p *Profiles) Get(name *string) (*Params, bool) {
	if name == nil {
		return p.base, true
	}
	params, ok := p.named[*name]
	return params, ok
}

// Names lists the named profiles, sorted.
func (p *Profiles) Names() []string {
	out := make([]string, 0, len(p.named))
	for name := range p.named {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ProfiledCleaner pairs an unprofiled cleaner (docs, commons, root
// action) with built profiles, yielding a Cleaner per profile on
// demand.
type ProfiledCleaner struct {
	cleaner  *Cleaner
	profiles *Profiles
}

// NewProfiledCleaner builds the profiles from the cleaner's own params.
func NewProfiledCleaner(c *Cleaner, pc *ProfilesConfig) *ProfiledCleaner {
	return &ProfiledCleaner{cleaner: c, profiles: pc.Make(c.Params)}
}

// Profiles exposes the built profiles.
func (p *ProfiledCleaner) Profiles() *Profiles { return p.profiles }

// Cleaner returns the cleaner for a profile; nil names the base
// profile. The second return is false for an unknown profile.
func (p *ProfiledCleaner) Cleaner(profile *string) (*Cleaner, bool) {
	params, ok := p.profiles.Get(profile)
	if !ok {
		return nil, false
	}
	return p.cleaner.WithParams(params), true
}
