// Package spans derives the human-meaningful time span of a multi-slot
// booking: consecutive slot ranges are merged and the run covering the most
// slots is reported as the surgery's span.
package spans

import (
	"sort"
	"time"

	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/timerange"
)

// LongestContiguous merges adjacent/overlapping ranges into maximal runs and
// returns the run with the most constituent ranges; ties go to the earliest
// start. The second return is false when no ranges were supplied.
func LongestContiguous(ranges []timerange.TimeRange) (timerange.TimeRange, bool) {
	if len(ranges) == 0 {
		return timerange.TimeRange{}, false
	}

	sorted := make([]timerange.TimeRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	best := sorted[0]
	bestCount := 1
	current := sorted[0]
	currentCount := 1

	for _, r := range sorted[1:] {
		if current.AdjacentOrOverlapping(r) {
			merged, err := current.Merge(r)
			if err != nil {
				// Unreachable after the adjacency check; skip rather than panic.
				continue
			}
			current = merged
			currentCount++
		} else {
			current = r
			currentCount = 1
		}
		// Strict > keeps the earliest run on ties: the input is sorted, so an
		// earlier run with the same count was seen first.
		if currentCount > bestCount {
			best = current
			bestCount = currentCount
		}
	}
	return best, true
}

// ForAllocation resolves the allocation's slot ids against the room's slots
// and reduces them. Slot ids that resolve to nothing are skipped; an
// allocation with zero resolvable slots has no span.
func ForAllocation(alloc *model.Allocation, slots []model.Slot) (timerange.TimeRange, bool) {
	byID := make(map[int64]model.Slot, len(slots))
	for _, s := range slots {
		byID[s.ID] = s
	}
	var ranges []timerange.TimeRange
	for _, id := range alloc.SlotIDs {
		if s, ok := byID[id]; ok {
			ranges = append(ranges, s.Range)
		}
	}
	return LongestContiguous(ranges)
}

// Duration reports the span length, wrapping midnight-crossing raw spans.
func Duration(r timerange.TimeRange) time.Duration {
	return r.Duration()
}
