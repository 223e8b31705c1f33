package digest

// maxWarmthGists caps the gist-count sub-score's numerator at 5, per
// spec.md §4.4 Phase B ("real-gist count capped at 5").
const maxWarmthGists = 5

// WarmthInputs bundles Phase B's three context_warmth sub-score inputs.
type WarmthInputs struct {
	WorkingMemoryFill  float64 // [0,1], workingmemory.Store.FillRatio
	GistCount          int     // non-cold-start gists, gist.NonColdStartCount
	WorldStateNonEmpty bool
}

// ContextWarmth computes context_warmth as the average of three
// sub-scores per spec.md §4.4 Phase B: working-memory fill, gist count
// capped at 5, and whether the world-state summary is non-empty.
func ContextWarmth(in WarmthInputs) float64 {
	fill := clamp01(in.WorkingMemoryFill)

	gistScore := float64(in.GistCount) / float64(maxWarmthGists)
	gistScore = clamp01(gistScore)

	worldScore := 0.0
	if in.WorldStateNonEmpty {
		worldScore = 1.0
	}

	return (fill + gistScore + worldScore) / 3.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
