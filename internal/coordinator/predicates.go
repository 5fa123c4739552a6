package coordinator

// Predicate decides whether a debate has converged given the previous and
// latest rounds.
type Predicate func(prev, last []Turn) bool

var predicates = map[string]Predicate{
	"unanimous": unanimous,
	"stable":    stable,
}

// unanimous holds when every participant gave the same successful reply.
func unanimous(_, last []Turn) bool {
	if len(last) == 0 {
		return false
	}
	for _, t := range last {
		if t.Error != nil || !sameJSON(t.Reply, last[0].Reply) {
			return false
		}
	}
	return true
}

// stable holds when no participant changed its reply between rounds.
func stable(prev, last []Turn) bool {
	if len(prev) == 0 || len(prev) != len(last) {
		return false
	}
	for i := range last {
		if prev[i].Participant != last[i].Participant {
			return false
		}
		if prev[i].Error != nil || last[i].Error != nil {
			return false
		}
		if !sameJSON(prev[i].Reply, last[i].Reply) {
			return false
		}
	}
	return true
}
