package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NamedPartitioning maps values to the name of the disjoint partition
// they belong to. One partition may claim the none value.
//
// It serializes as {"partition-name": ["value", ...]}; a null element
// assigns the none value to that partition. Construction rejects
// repeated partition names and values assigned to more than one
// partition.
type NamedPartitioning struct {
	names         []string
	byValue       map[string]string
	nonePartition *string
}

// NewNamedPartitioning builds a partitioning from name -> members, in
// the given name order.
func NewNamedPartitioning(names []string, members map[string][]*string) (*NamedPartitioning, error) {
	p := &NamedPartitioning{byValue: make(map[string]string)}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate partition name %q", name)
		}
		seen[name] = struct{}{}
		p.names = append(p.names, name)
		for _, value := range members[name] {
			if value == nil {
				if p.nonePartition != nil {
					return nil, fmt.Errorf("null assigned to both %q and %q", *p.nonePartition, name)
				}
				n := name
				p.nonePartition = &n
				continue
			}
			if prev, dup := p.byValue[*value]; dup {
				return nil, fmt.Errorf("value %q assigned to both %q and %q", *value, prev, name)
			}
			p.byValue[*value] = name
		}
	}
	return p, nil
}

// PartitionOf returns the name of the partition holding value; nil asks
// about the none value.
func (p *NamedPartitioning) PartitionOf(value *string) (string, bool) {
	if p == nil {
		return "", false
	}
	if value == nil {
		if p.nonePartition == nil {
			return "", false
		}
		return *p.nonePartition, true
	}
	name, ok := p.byValue[*value]
	return name, ok
}

// Names returns the partition names in declaration order.
func (p *NamedPartitioning) Names() []string { return p.names }

func (p *NamedPartitioning) MarshalJSON() ([]byte, error) {
	members := make(map[string][]*string, len(p.names))
	for _, name := range p.names {
		members[name] = []*string{}
	}
	for v, name := range p.byValue {
		members[name] = append(members[name], &v)
	}
	if p.nonePartition != nil {
		members[*p.nonePartition] = append(members[*p.nonePartition], nil)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range p.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		vals, err := json.Marshal(members[name])
		if err != nil {
			return nil, err
		}
		buf.Write(vals)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes via the token stream so that duplicate
// partition names are caught instead of silently overwriting.
func (p *NamedPartitioning) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("named partitioning must be an object")
	}

	var names []string
	members := make(map[string][]*string)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name := keyTok.(string)
		var values []*string
		if err := dec.Decode(&values); err != nil {
			return fmt.Errorf("partition %q: %w", name, err)
		}
		names = append(names, name)
		members[name] = append(members[name], values...)
	}

	built, err := NewNamedPartitioning(names, members)
	if err != nil {
		return err
	}
	*p = *built
	return nil
}
