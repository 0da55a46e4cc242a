// Package types holds the value containers the rule engine reads:
// sets and maps with an explicit "none" member, named partitionings,
// and the per-task scratchpad.
package types

import (
	"encoding/json"
	"fmt"
)

// Set is a hash set that can also contain the "none" member, so that
// lookups keyed by an absent URL part have well-defined membership.
//
// It serializes as a JSON array whose elements are values or null.
type Set struct {
	values map[string]struct{}
	ifNone bool
}

// NewSet builds a set from values. A nil element marks the none member.
func NewSet(values ...*string) *Set {
	s := &Set{values: make(map[string]struct{}, len(values))}
	for _, v := range values {
		s.Insert(v)
	}
	return s
}

// NewSetOf builds a set from plain strings, without the none member.
func NewSetOf(values ...string) *Set {
	s := &Set{values: make(map[string]struct{}, len(values))}
	for _, v := range values {
		s.values[v] = struct{}{}
	}
	return s
}

// Insert adds a value; nil adds the none member.
func (s *Set) Insert(v *string) {
	if v == nil {
		s.ifNone = true
		return
	}
	if s.values == nil {
		s.values = make(map[string]struct{})
	}
	s.values[*v] = struct{}{}
}

// Remove deletes a value; nil deletes the none member.
func (s *Set) Remove(v *string) {
	if v == nil {
		s.ifNone = false
		return
	}
	delete(s.values, *v)
}

// Contains reports membership; nil asks about the none member.
func (s *Set) Contains(v *string) bool {
	if s == nil {
		return false
	}
	if v == nil {
		return s.ifNone
	}
	_, ok := s.values[*v]
	return ok
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	if s == nil {
		return NewSet()
	}
	c := &Set{values: make(map[string]struct{}, len(s.values)), ifNone: s.ifNone}
	for v := range s.values {
		c.values[v] = struct{}{}
	}
	return c
}

// Len counts the values, including the none member.
func (s *Set) Len() int {
	n := len(s.values)
	if s.ifNone {
		n++
	}
	return n
}

func (s *Set) MarshalJSON() ([]byte, error) {
	out := make([]*string, 0, s.Len())
	for v := range s.values {
		out = append(out, &v)
	}
	if s.ifNone {
		out = append(out, nil)
	}
	return json.Marshal(out)
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var raw []*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("set must be an array of strings or nulls: %w", err)
	}
	*s = Set{values: make(map[string]struct{}, len(raw))}
	for _, v := range raw {
		s.Insert(v)
	}
	return nil
}
