package component

import (
	"encoding/json"
	"sort"

	"github.com/rdeforest/ClodWeave/internal/schema"
)

// Set is an immutable set of strings.
type Set struct {
	items map[string]struct{}
}

func NewSet(items ...string) Set {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return Set{items: m}
}

func (s Set) Has(item string) bool {
	_, ok := s.items[item]
	return ok
}

func (s Set) Len() int { return len(s.items) }

// Items returns the members in sorted order.
func (s Set) Items() []string {
	out := make([]string, 0, len(s.items))
	for it := range s.items {
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// Missing returns the members of s absent from other.
func (s Set) Missing(other Set) []string {
	var out []string
	for _, it := range s.Items() {
		if !other.Has(it) {
			out = append(out, it)
		}
	}
	return out
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Items())
}

// Descriptor is the static declaration of a component type.
type Descriptor struct {
	Type         string        `json:"type"`
	Description  string        `json:"description,omitempty"`
	Schema       schema.Schema `json:"schema"`
	Capabilities Set           `json:"capabilities"`
	Requirements Set           `json:"requirements"`
}
