// Package merge combines both reminder sources into one ordered collection.
// It is the single owner of the local override map and the deleted-id
// exclusion set.
package merge

import (
	"cmp"
	"slices"

	"github.com/dukerupert/dosekeeper/internal/model"
)

// Merge returns gated and open records as one collection. Within a source,
// a repeated id keeps the last record seen. Overrides replace IsActive for
// their key. The result is ordered by time of day, then source kind, then id.
func Merge(gated, open []model.Reminder, overrides map[model.Key]model.Override) []model.Reminder {
	out := make([]model.Reminder, 0, len(gated)+len(open))
	out = appendDeduped(out, gated, model.SourceLinked)
	out = appendDeduped(out, open, model.SourceStandalone)

	for i := range out {
		if o, ok := overrides[out[i].Key()]; ok {
			out[i].IsActive = o.Active
		}
	}
	Sort(out)
	return out
}

// Sort orders reminders by time of day, then source kind, then id.
func Sort(rs []model.Reminder) {
	slices.SortStableFunc(rs, func(a, b model.Reminder) int {
		if c := cmp.Compare(a.TimeOfDay.Minutes(), b.TimeOfDay.Minutes()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func appendDeduped(out, in []model.Reminder, kind model.SourceKind) []model.Reminder {
	index := make(map[string]int, len(in))
	for _, r := range in {
		r = r.Clone()
		r.Kind = kind
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
