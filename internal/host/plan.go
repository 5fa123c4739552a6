package host

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rdeforest/ClodWeave/internal/connection"
)

// StartPlan orders components for startup.
type StartPlan struct {
	Tiers  [][]string // within a tier, components start concurrently
	Groups [][]string // components joined by connections in both directions
}

// BuildPlan puts every connection target in an earlier tier than its
// source. Components connected both ways are collapsed into one node and
// share a tier; any other cycle is an error.
func BuildPlan(ids []string, conns []connection.Connection) (*StartPlan, error) {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	for _, c := range conns {
		if !known[c.Source] {
			return nil, fmt.Errorf("connection references unknown component %q", c.Source)
		}
		if !known[c.Target] {
			return nil, fmt.Errorf("connection references unknown component %q", c.Target)
		}
	}

	edge := make(map[[2]string]bool, len(conns))
	for _, c := range conns {
		edge[[2]string{c.Source, c.Target}] = true
	}

	parent := make(map[string]string, len(ids))
	for _, id := range ids {
		parent[id] = id
	}
	find := func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, c := range conns {
		if edge[[2]string{c.Target, c.Source}] {
			union(c.Source, c.Target)
		}
	}

	members := make(map[string][]string)
	for _, id := range ids {
		root := find(id)
		members[root] = append(members[root], id)
	}

	var groups [][]string
	for _, m := range members {
		if len(m) > 1 {
			sort.Strings(m)
			groups = append(groups, m)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })

	// Collapsed graph: an edge runs from target node to source node, since
	// targets come up first.
	next := make(map[string]map[string]bool)
	inDegree := make(map[string]int, len(members))
	for root := range members {
		inDegree[root] = 0
	}
	for _, c := range conns {
		from, to := find(c.Target), find(c.Source)
		if from == to {
			continue
		}
		if next[from] == nil {
			next[from] = make(map[string]bool)
		}
		if !next[from][to] {
			next[from][to] = true
			inDegree[to]++
		}
	}

	depth := make(map[string]int, len(members))
	var queue []string
	for node, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, node)
		}
	}

	processed := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		processed++

		for n := range next[node] {
			inDegree[n]--
			if d := depth[node] + 1; d > depth[n] {
				depth[n] = d
			}
			if inDegree[n] == 0 {
				queue = append(queue, n)
			}
		}
	}
	if processed != len(members) {
		return nil, errors.New("connections contain a cycle")
	}

	byDepth := make(map[int][]string)
	maxDepth := -1
	for _, id := range ids {
		d := depth[find(id)]
		byDepth[d] = append(byDepth[d], id)
		maxDepth = max(maxDepth, d)
	}

	tiers := make([][]string, 0, maxDepth+1)
	for d := 0; d <= maxDepth; d++ {
		if tier := byDepth[d]; len(tier) > 0 {
			sort.Strings(tier)
			tiers = append(tiers, tier)
		}
	}

	return &StartPlan{Tiers: tiers, Groups: groups}, nil
}
