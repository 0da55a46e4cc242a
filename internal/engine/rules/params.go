package rules

import (
	"encoding/json"
	"maps"

	"github.com/edgecomet/urlclean/internal/engine/httpx"
	"github.com/edgecomet/urlclean/internal/engine/types"
)

// FlagSet serializes a set of flag names as a JSON array.
type FlagSet map[string]struct{}

func (f FlagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(sortedKeys(f))
}

func (f *FlagSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*f = make(FlagSet, len(names))
	for _, n := range names {
		(*f)[n] = struct{}{}
	}
	return nil
}

// Params is the runtime-tunable data a cleaner reads. It is immutable
// while a job runs; ParamsDiff produces modified copies.
type Params struct {
	Flags              FlagSet                                  `json:"flags,omitempty"`
	Vars               map[string]string                        `json:"vars,omitempty"`
	Sets               map[string]*types.Set                    `json:"sets,omitempty"`
	Lists              map[string][]string                      `json:"lists,omitempty"`
	Maps               map[string]*types.Map[string]            `json:"maps,omitempty"`
	NamedPartitionings map[string]*types.NamedPartitioning      `json:"named_partitionings,omitempty"`
	HTTPClient         httpx.ClientConfig                       `json:"http_client_config,omitempty"`
}

// ParamsDiff is an edit script over Params. Application is
// copy-on-write: containers the diff does not touch are shared between
// the original and the result.
type ParamsDiff struct {
	Flags   []string          `json:"flags,omitempty"`
	Unflags []string          `json:"unflags,omitempty"`
	Vars    map[string]string `json:"vars,omitempty"`
	Unvars  []string          `json:"unvars,omitempty"`

	InsertIntoSets map[string][]*string `json:"insert_into_sets,omitempty"`
	RemoveFromSets map[string][]*string `json:"remove_from_sets,omitempty"`

	InsertIntoLists map[string][]string `json:"insert_into_lists,omitempty"`
	RemoveFromLists map[string][]string `json:"remove_from_lists,omitempty"`

	InsertIntoMaps map[string]map[string]string `json:"insert_into_maps,omitempty"`
	RemoveFromMaps map[string][]string          `json:"remove_from_maps,omitempty"`
	// MapElses sets the fallback value of named maps.
	MapElses map[string]string `json:"map_elses,omitempty"`
}

// Apply returns a new Params with the diff applied. p is not modified.
func (d *ParamsDiff) Apply(p *Params) *Params {
	out := *p // containers shared until touched

	if len(d.Flags) > 0 || len(d.Unflags) > 0 {
		out.Flags = maps.Clone(p.Flags)
		if out.Flags == nil {
			out.Flags = make(FlagSet)
		}
		for _, f := range d.Flags {
			out.Flags[f] = struct{}{}
		}
		for _, f := range d.Unflags {
			delete(out.Flags, f)
		}
	}

	if len(d.Vars) > 0 || len(d.Unvars) > 0 {
		out.Vars = maps.Clone(p.Vars)
		if out.Vars == nil {
			out.Vars = make(map[string]string)
		}
		for k, v := range d.Vars {
			out.Vars[k] = v
		}
		for _, k := range d.Unvars {
			delete(out.Vars, k)
		}
	}

	if len(d.InsertIntoSets) > 0 || len(d.RemoveFromSets) > 0 {
		out.Sets = maps.Clone(p.Sets)
		if out.Sets == nil {
			out.Sets = make(map[string]*types.Set)
		}
		touch := func(name string) *types.Set {
			clone := out.Sets[name].Clone()
			out.Sets[name] = clone
			return clone
		}
		for name, values := range d.InsertIntoSets {
			set := touch(name)
			for _, v := range values {
				set.Insert(v)
			}
		}
		for name, values := range d.RemoveFromSets {
			set := touch(name)
			for _, v := range values {
				set.Remove(v)
			}
		}
	}

	if len(d.InsertIntoLists) > 0 || len(d.RemoveFromLists) > 0 {
		out.Lists = maps.Clone(p.Lists)
		if out.Lists == nil {
			out.Lists = make(map[string][]string)
		}
		for name, values := range d.InsertIntoLists {
			out.Lists[name] = append(append([]string(nil), out.Lists[name]...), values...)
		}
		for name, values := range d.RemoveFromLists {
			drop := make(map[string]struct{}, len(values))
			for _, v := range values {
				drop[v] = struct{}{}
			}
			var kept []string
			for _, v := range out.Lists[name] {
				if _, gone := drop[v]; !gone {
					kept = append(kept, v)
				}
			}
			out.Lists[name] = kept
		}
	}

	if len(d.InsertIntoMaps) > 0 || len(d.RemoveFromMaps) > 0 || len(d.MapElses) > 0 {
		out.Maps = maps.Clone(p.Maps)
		if out.Maps == nil {
			out.Maps = make(map[string]*types.Map[string])
		}
		touch := func(name string) *types.Map[string] {
			clone := out.Maps[name].Clone()
			if clone == nil {
				clone = &types.Map[string]{}
			}
			out.Maps[name] = clone
			return clone
		}
		for name, entries := range d.InsertIntoMaps {
			m := touch(name)
			for k, v := range entries {
				m.Set(&k, v)
			}
		}
		for name, keys := range d.RemoveFromMaps {
			m := touch(name)
			for _, k := range keys {
				m.Remove(&k)
			}
		}
		for name, elseValue := range d.MapElses {
			m := touch(name)
			v := elseValue
			m.Else = &v
		}
	}

	return &out
}
