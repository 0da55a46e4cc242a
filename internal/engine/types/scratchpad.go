package types

import "maps"

// Scratchpad is the per-task mutable state rules read and write. It is
// discarded when the task completes.
type Scratchpad struct {
	Flags map[string]struct{} `json:"flags,omitempty"`
	Vars  map[string]string   `json:"vars,omitempty"`
}

func NewScratchpad() *Scratchpad {
	return &Scratchpad{
		Flags: make(map[string]struct{}),
		Vars:  make(map[string]string),
	}
}

// SetFlag sets or clears a flag.
func (s *Scratchpad) SetFlag(name string, value bool) {
	if value {
		if s.Flags == nil {
			s.Flags = make(map[string]struct{})
		}
		s.Flags[name] = struct{}{}
		return
	}
	delete(s.Flags, name)
}

// FlagIsSet reports whether a flag is set.
func (s *Scratchpad) FlagIsSet(name string) bool {
	_, ok := s.Flags[name]
	return ok
}

// SetVar sets or, when value is nil, removes a var.
func (s *Scratchpad) SetVar(name string, value *string) {
	if value == nil {
		delete(s.Vars, name)
		return
	}
	if s.Vars == nil {
		s.Vars = make(map[string]string)
	}
	s.Vars[name] = *value
}

// Var returns a var's value, if set.
func (s *Scratchpad) Var(name string) (string, bool) {
	v, ok := s.Vars[name]
	return v, ok
}

// Clone copies the scratchpad for snapshots.
func (s *Scratchpad) Clone() *Scratchpad {
	return &Scratchpad{
		Flags: maps.Clone(s.Flags),
		Vars:  maps.Clone(s.Vars),
	}
}

// Equal reports value equality with o, for fixed-point detection.
func (s *Scratchpad) Equal(o *Scratchpad) bool {
	if len(s.Flags) != len(o.Flags) || len(s.Vars) != len(o.Vars) {
		return false
	}
	for k := range s.Flags {
		if _, ok := o.Flags[k]; !ok {
			return false
		}
	}
	return maps.Equal(s.Vars, o.Vars)
}
