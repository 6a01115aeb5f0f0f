package recognize

// Dot computes the dot product of two vectors. Both sides are unit length
// here, so this equals cosine similarity.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Match scores a unit-length query against the snapshot and applies the
// accept threshold. The best candidate is the argmax over all entries; ties
// keep the earlier entry. A score exactly at the threshold is rejected.
//
// Confidence maps the raw score onto 0..100 with the threshold pinned at 50:
// accepted scores spread the span above the threshold across 50..100,
// rejected scores spread 0..threshold across 0..50. The mapping is monotonic
// but not linear across the threshold.
func Match(query []float32, snap *Snapshot, threshold float64) MatchResult {
	if snap == nil || len(snap.entries) == 0 || len(query) == 0 {
		return MatchResult{}
	}

	bestID, bestScore := snap.search(query)

	result := MatchResult{Score: bestScore}
	if bestScore > threshold {
		result.IdentityID = bestID
		result.Confidence = clamp(50+50*(bestScore-threshold)/(1-threshold), 0, 100)
	} else {
		result.Confidence = clamp(50*bestScore/threshold, 0, 50)
	}
	return result
}

// search returns the best entry for a query. Small snapshots are scanned
// exactly; large ones go through the HNSW graph first and the approximate
// candidates are rescored with the exact dot product.
func (s *Snapshot) search(query []float32) (string, float64) {
	if s.index == nil {
		bestIdx := -1
		bestScore := 0.0
		for i, e := range s.entries {
			if score := Dot(query, e.vector); bestIdx < 0 || score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		if bestIdx < 0 {
			return "", 0
		}
		return s.entries[bestIdx].identityID, bestScore
	}

	// Rescore with the node's own vector. An identity can carry several
	// indexed vectors, so a lookup by identity could score a different
	// signature than the one the graph returned.
	bestID := ""
	bestScore := 0.0
	for _, node := range s.index.Search(query, hnswSearchK) {
		if score := Dot(query, node.Value); bestID == "" || score > bestScore {
			bestID, bestScore = node.Key, score
		}
	}
	return bestID, bestScore
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
