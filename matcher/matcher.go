// Package matcher compiles a subscription's filter set into the predicate
// the hub applies to live events. The backfill query (database.QueryEvents)
// applies the same filter.F.Matches to each filter, so a REQ's first EVENT
// frame and its first live EVENT frame are judged by the same rule.
package matcher

import (
	"nightjar.dev/encoders/filter"
	"nightjar.dev/event"
)

// Plan is a compiled subscription: the filter disjunction plus whatever
// the backfill phase needs to decide without touching the store.
type Plan struct {
	Filters []*filter.F
}

// Compile builds a Plan from a subscription's filter list.
func Compile(filters []*filter.F) *Plan {
	return &Plan{Filters: filters}
}

// Matches reports whether ev satisfies the subscription: matches any of
// the compiled filters. Used by the hub for live dispatch; backfill
// post-filtering calls filter.F.Matches directly.
func (p *Plan) Matches(ev *event.E) bool {
	if p == nil {
		return false
	}
	return filter.MatchesAny(ev, p.Filters)
}

// BackfillVacuous reports whether every filter in the plan is guaranteed
// to match nothing (since > until, or an empty tag value set): the
// subscription is legal but its backfill is empty and the session should
// skip the store round-trip and emit EOSE immediately.
func (p *Plan) BackfillVacuous() bool {
	if p == nil || len(p.Filters) == 0 {
		return false
	}
	for _, f := range p.Filters {
		if !f.EmptySet() {
			return false
		}
	}
	return true
}
