package pipeline

import (
	"math/rand/v2"
	"slices"

	"github.com/inodb/clipper/internal/peak"
)

// BuildTasks creates one task per gene record, in record order.
func BuildTasks(records []peak.GeneRecord, params peak.Params) []peak.Task {
	tasks := make([]peak.Task, len(records))
	for i, g := range records {
		tasks[i] = peak.NewTask(g, params)
	}
	return tasks
}

// SelectGenes restricts records to the allow-list (if any) and then to at
// most maxGenes records drawn with the given seed. Annotation order is kept.
// The returned slice lists allow-listed IDs that were not found.
func SelectGenes(records []peak.GeneRecord, allow []string, maxGenes int, seed uint64) ([]peak.GeneRecord, []string) {
	var missing []string
	if len(allow) > 0 {
		want := make(map[string]bool, len(allow))
		for _, id := range allow {
			want[id] = true
		}
		var kept []peak.GeneRecord
		found := make(map[string]bool, len(allow))
		for _, g := range records {
			if want[g.ID] {
				kept = append(kept, g)
				found[g.ID] = true
			}
		}
		for _, id := range allow {
			if !found[id] && !slices.Contains(missing, id) {
				missing = append(missing, id)
			}
		}
		records = kept
	}

	if maxGenes <= 0 || len(records) <= maxGenes {
		return records, missing
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	idx := rng.Perm(len(records))[:maxGenes]
	slices.Sort(idx)
	sample := make([]peak.GeneRecord, len(idx))
	for i, j := range idx {
		sample[i] = records[j]
	}
	return sample, missing
}
