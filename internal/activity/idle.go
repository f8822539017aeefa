package activity

import (
	"iter"
	"sort"
	"time"
)

// Policy is the slice of configuration the idle evaluator needs.
type Policy struct {
	ThresholdDays int
	Protected     map[string]struct{}
}

// IdleMembers selects every record whose last_seen is strictly before
// now - ThresholdDays and whose identifier is not protected. A member whose
// last_seen equals the cutoff instant exactly is not idle. The result is
// ordered ascending by last_seen (stalest member first), ties broken by
// identifier. The store is never mutated.
func IdleMembers(records iter.Seq[Record], p Policy, now time.Time) []Record {
	cutoff := now.AddDate(0, 0, -p.ThresholdDays)

	var idle []Record
	for r := range records {
		if !r.LastSeen.Before(cutoff) {
			continue
		}
		if _, ok := p.Protected[r.Identifier]; ok {
			continue
		}
		idle = append(idle, r)
	}

	sort.Slice(idle, func(i, j int) bool {
		if idle[i].LastSeen.Equal(idle[j].LastSeen) {
			return idle[i].Identifier < idle[j].Identifier
		}
		return idle[i].LastSeen.Before(idle[j].LastSeen)
	})
	return idle
}
