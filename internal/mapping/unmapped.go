package mapping

import (
	"cmp"
	"slices"

	"github.com/sells-group/credit-core/internal/model"
)

// UnmappedLabel is one entry of the review queue for labels no rule matched.
type UnmappedLabel struct {
	RawLabel string   `json:"raw_label"`
	Count    int      `json:"count"`
	Sheets   []string `json:"sheets"`
}

// UnmappedQueue aggregates unmapped observations by raw label. Entries are
// ordered by frequency descending, then label ascending.
func UnmappedQueue(obs []model.RawObservation) []UnmappedLabel {
	idx := make(map[string]int)
	var queue []UnmappedLabel
	for _, o := range obs {
		i, ok := idx[o.RawLabel]
		if !ok {
			i = len(queue)
			idx[o.RawLabel] = i
			queue = append(queue, UnmappedLabel{RawLabel: o.RawLabel})
		}
		queue[i].Count++
		if !slices.Contains(queue[i].Sheets, o.SourceSheet) {
			queue[i].Sheets = append(queue[i].Sheets, o.SourceSheet)
		}
	}

	for i := range queue {
		slices.Sort(queue[i].Sheets)
	}
	slices.SortFunc(queue, func(a, b UnmappedLabel) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.RawLabel, b.RawLabel)
	})
	return queue
}
