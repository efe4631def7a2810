package usecase

import (
	"sort"

	"PatternMemory/internal/domain/models"
)

// timeframeKeys returns map keys ordered by timeframe rank, unknown ones last.
func timeframeKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := models.Timeframe(keys[i]).Rank(), models.Timeframe(keys[j]).Rank()
		if ri < 0 {
			ri = 1 << 30
		}
		if rj < 0 {
			rj = 1 << 30
		}
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}
