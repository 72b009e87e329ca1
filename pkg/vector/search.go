package vector

import "math"

// Search methods used in Stats.Method.
const (
	MethodDynamicThreshold = "dynamic_threshold"
	MethodFixedThreshold   = "fixed_threshold"
	MethodNoResults        = "no_results"
)

// Attempt records one step of the threshold descent.
type Attempt struct {
	Threshold     float64 `json:"threshold"`
	Hits          int     `json:"hits"`
	TargetReached bool    `json:"target_reached"`
}

// Stats summarises how a search arrived at its result set.
type Stats struct {
	HitTarget      int       `json:"hit_target"`
	Step           float64   `json:"step"`
	FinalThreshold float64   `json:"final_threshold"`
	FinalHits      int       `json:"final_hits"`
	TargetReached  bool      `json:"target_reached"`
	Attempts       int       `json:"attempts"`
	Progression    []Attempt `json:"progression"`
	Method         string    `json:"method"`
}

// Match is one kept entry: its index position and similarity score.
type Match struct {
	Index int
	Score float64
}

// SearchResult carries the kept matches in descending similarity order
// plus the descent statistics.
type SearchResult struct {
	Matches []Match
	Stats   Stats
}

// DynamicSearch pulls the top-k entries once and lowers the similarity
// floor from initialThreshold in increments of step until at least
// hitTarget entries qualify. If no floor reaches the target, the largest
// partition found is returned (best effort). onAttempt, when non-nil, is
// invoked for every step of the descent.
func (idx *Index) DynamicSearch(query []float32, k, hitTarget int, step, initialThreshold float64, onAttempt func(Attempt)) SearchResult {
	scores, positions := idx.Search(query, k)
	if len(positions) == 0 {
		return SearchResult{Stats: Stats{
			HitTarget:      hitTarget,
			Step:           step,
			FinalThreshold: initialThreshold,
			Method:         MethodNoResults,
		}}
	}

	matches := make([]Match, len(positions))
	for i := range positions {
		matches[i] = Match{Index: positions[i], Score: float64(scores[i])}
	}

	stats := Stats{
		HitTarget:      hitTarget,
		Step:           step,
		FinalThreshold: initialThreshold,
		Method:         MethodDynamicThreshold,
	}

	var best []Match
	for i := 0; ; i++ {
		// Recomputed from the origin each step; accumulated subtraction
		// drifts (1.0 - 4×0.1 ≠ 0.6 in binary floating point).
		threshold := roundThreshold(initialThreshold - float64(i)*step)
		if threshold < 0 {
			break
		}

		kept := keepAbove(matches, threshold)
		attempt := Attempt{
			Threshold:     threshold,
			Hits:          len(kept),
			TargetReached: len(kept) >= hitTarget,
		}
		stats.Attempts++
		stats.Progression = append(stats.Progression, attempt)
		if onAttempt != nil {
			onAttempt(attempt)
		}

		if attempt.TargetReached {
			best = kept
			stats.FinalThreshold = threshold
			stats.TargetReached = true
			break
		}
		if len(kept) > len(best) {
			best = kept
			stats.FinalThreshold = threshold
		}
	}

	stats.FinalHits = len(best)
	return SearchResult{Matches: best, Stats: stats}
}

// FixedSearch partitions the top-k entries at a single similarity floor.
func (idx *Index) FixedSearch(query []float32, k int, threshold float64) SearchResult {
	scores, positions := idx.Search(query, k)
	if len(positions) == 0 {
		return SearchResult{Stats: Stats{
			FinalThreshold: threshold,
			Method:         MethodNoResults,
		}}
	}

	matches := make([]Match, len(positions))
	for i := range positions {
		matches[i] = Match{Index: positions[i], Score: float64(scores[i])}
	}
	kept := keepAbove(matches, threshold)

	return SearchResult{
		Matches: kept,
		Stats: Stats{
			FinalThreshold: threshold,
			FinalHits:      len(kept),
			TargetReached:  len(kept) > 0,
			Attempts:       1,
			Progression:    []Attempt{{Threshold: threshold, Hits: len(kept), TargetReached: len(kept) > 0}},
			Method:         MethodFixedThreshold,
		},
	}
}

// keepAbove returns the matches scoring at or above the floor. The input
// is sorted descending, so the kept prefix preserves that order.
func keepAbove(matches []Match, threshold float64) []Match {
	var kept []Match
	for _, m := range matches {
		if m.Score >= threshold {
			kept = append(kept, m)
		}
	}
	return kept
}

// roundThreshold snaps a descent value to 9 decimal places.
func roundThreshold(t float64) float64 {
	return math.Round(t*1e9) / 1e9
}
