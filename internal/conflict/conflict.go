// Package conflict flags double-booked project managers. Approved schedule
// events are grouped by the assigned PM, and within each group a single
// sorted sweep finds overlapping [start, end) windows.
package conflict

import (
	"sort"
	"time"
)

// Event is one approved schedule event joined to its project's assigned PM.
// Events with a zero start/end or an empty PMID never conflict.
type Event struct {
	ID    string
	PMID  string
	Start time.Time
	End   time.Time
}

// Detect returns the set of event IDs that overlap another event assigned to
// the same PM. Both members of an overlapping pair are flagged. Windows are
// half-open: an event starting exactly when the previous one ends does not
// conflict. Events with missing data are skipped rather than failing the
// whole scan.
func Detect(events []Event) map[string]bool {
	byPM := make(map[string][]Event)
	for _, ev := range events {
		if ev.PMID == "" || ev.Start.IsZero() || ev.End.IsZero() {
			continue
		}
		if !ev.End.After(ev.Start) {
			continue
		}
		byPM[ev.PMID] = append(byPM[ev.PMID], ev)
	}

	flagged := make(map[string]bool)
	for _, group := range byPM {
		sort.Slice(group, func(i, j int) bool {
			if group[i].Start.Equal(group[j].Start) {
				return group[i].End.Before(group[j].End)
			}
			return group[i].Start.Before(group[j].Start)
		})

		// Sweep tracking the running maximum end seen so far. An event
		// whose start is before that maximum overlaps some earlier event.
		maxEnd := time.Time{}
		maxEndID := ""
		for _, ev := range group {
			if !maxEnd.IsZero() && ev.Start.Before(maxEnd) {
				flagged[ev.ID] = true
				flagged[maxEndID] = true
			}
			if ev.End.After(maxEnd) {
				maxEnd = ev.End
				maxEndID = ev.ID
			}
		}
	}
	return flagged
}
