package epub

import "log/slog"

// Ordered is a Candidate annotated with its position in the reading order.
type Ordered struct {
	Candidate
	// Seq is a dense, zero-based sequence index.
	Seq int
}

// Reorder arranges candidates to follow the container's declared spine.
// Spine entries are placed first, in declared order; only the first
// occurrence of a locator counts. Candidates absent from the spine are
// appended afterwards in their extraction order. An empty spine degrades
// to extraction order unchanged; this is logged, not raised, because a
// best-effort audiobook beats no audiobook.
func Reorder(candidates []Candidate, spine []string, logger *slog.Logger) []Ordered {
	if logger == nil {
		logger = slog.Default()
	}

	ordered := make([]Ordered, 0, len(candidates))
	if len(spine) == 0 {
		logger.Warn("container declares no reading order, keeping extraction order")
		for i, c := range candidates {
			ordered = append(ordered, Ordered{Candidate: c, Seq: i})
		}
		return ordered
	}

	byLocator := make(map[string]int, len(candidates))
	for i, c := range candidates {
		byLocator[c.Locator] = i
	}

	placed := make([]bool, len(candidates))
	for _, locator := range spine {
		i, ok := byLocator[locator]
		if !ok || placed[i] {
			continue
		}
		placed[i] = true
		ordered = append(ordered, Ordered{Candidate: candidates[i], Seq: len(ordered)})
	}

	leftovers := 0
	for i, c := range candidates {
		if placed[i] {
			continue
		}
		ordered = append(ordered, Ordered{Candidate: c, Seq: len(ordered)})
		leftovers++
	}
	if leftovers > 0 {
		logger.Warn("chapters missing from declared reading order, appended in extraction order",
			slog.Int("count", leftovers),
		)
	}

	return ordered
}
