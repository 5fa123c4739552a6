// Package connection holds the directed send topology between component
// runtimes.
package connection

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Pattern is the interaction pattern of a connection.
type Pattern string

const (
	RequestReply  Pattern = "request-reply"
	FireAndForget Pattern = "fire-and-forget"
)

// Valid reports whether p is a known pattern.
func (p Pattern) Valid() bool {
	return p == RequestReply || p == FireAndForget
}

// Connection authorizes Source to send to Target.
type Connection struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Protocol  string    `json:"protocol"`
	Pattern   Pattern   `json:"pattern"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrExists  = errors.New("connection already exists")
	ErrInvalid = errors.New("invalid connection")
)

type key struct {
	source, target string
}

// Registry is safe for concurrent use. Lookups share a read lock and never
// wait on each other.
type Registry struct {
	mu    sync.RWMutex
	edges map[key]Connection
}

func NewRegistry() *Registry {
	return &Registry{edges: make(map[key]Connection)}
}

// Add registers c. At most one edge may exist per (source, target) pair.
func (r *Registry) Add(c Connection) error {
	switch {
	case c.Source == "" || c.Target == "":
		return fmt.Errorf("%w: source and target are required", ErrInvalid)
	case c.Source == c.Target:
		return fmt.Errorf("%w: %s cannot connect to itself", ErrInvalid, c.Source)
	}
	if c.Pattern == "" {
		c.Pattern = RequestReply
	}
	if !c.Pattern.Valid() {
		return fmt.Errorf("%w: unknown pattern %q", ErrInvalid, c.Pattern)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	k := key{c.Source, c.Target}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.edges[k]; ok {
		return fmt.Errorf("%w: %s -> %s", ErrExists, c.Source, c.Target)
	}
	r.edges[k] = c
	return nil
}

// Remove deletes the edge from source to target. It reports whether an edge
// was removed.
func (r *Registry) Remove(source, target string) bool {
	k := key{source, target}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.edges[k]; !ok {
		return false
	}
	delete(r.edges, k)
	return true
}

// RemoveEndpoint deletes every edge touching id and returns them.
func (r *Registry) RemoveEndpoint(id string) []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Connection
	for k, c := range r.edges {
		if k.source == id || k.target == id {
			removed = append(removed, c)
			delete(r.edges, k)
		}
	}
	sortConnections(removed)
	return removed
}

// Resolve returns the edge from source to target.
func (r *Registry) Resolve(source, target string) (Connection, bool) {
	r.mu.RLock()
	c, ok := r.edges[key{source, target}]
	r.mu.RUnlock()
	return c, ok
}

// Targets returns the ids source may send to, sorted.
func (r *Registry) Targets(source string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for k := range r.edges {
		if k.source == source {
			out = append(out, k.target)
		}
	}
	sort.Strings(out)
	return out
}

// Sources returns the ids that may send to target, sorted.
func (r *Registry) Sources(target string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for k := range r.edges {
		if k.target == target {
			out = append(out, k.source)
		}
	}
	sort.Strings(out)
	return out
}

// List returns a snapshot of every edge ordered by source then target.
func (r *Registry) List() []Connection {
	r.mu.RLock()
	out := make([]Connection, 0, len(r.edges))
	for _, c := range r.edges {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sortConnections(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.edges)
}

func sortConnections(cs []Connection) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Source != cs[j].Source {
			return cs[i].Source < cs[j].Source
		}
		return cs[i].Target < cs[j].Target
	})
}
