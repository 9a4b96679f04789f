// Package dedup computes which fetched events have not been announced yet.
package dedup

import "ticket_bot/internal/model"

// Diff returns the events of fetched whose IDs are not in seen, in feed order,
// together with the union of seen and every fetched ID.
//
// seen is never modified. An ID that appears several times in fetched is
// emitted once, at its first occurrence.
func Diff(seen model.SeenSet, fetched []model.Event) ([]model.Event, model.SeenSet) {
	updated := seen.Clone()
	var newEvents []model.Event
	for _, ev := range fetched {
		id := ev.ID()
		if updated.Has(id) {
			continue
		}
		updated.Add(id)
		newEvents = append(newEvents, ev)
	}
	return newEvents, updated
}
