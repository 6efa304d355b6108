package outline

import "math"

// mmrLambda trades relevance to the centroid against diversity among
// already-selected leaves.
const mmrLambda = 0.7

// SelectionCount returns the adaptive MMR selection count k = clamp(ceil(n/5), 2, 5)
// for n descendant leaves, with the n=1 and n<=k special cases from spec.md
// §4.8.
func SelectionCount(n int) int {
	if n <= 1 {
		return n
	}
	k := (n + 4) / 5
	if k < 2 {
		k = 2
	}
	if k > 5 {
		k = 5
	}
	if n <= k {
		return n
	}
	return k
}

// NodeVector computes a heading node's vector from its descendant leaf
// vectors via MMR representative selection: seed with the leaf closest to
// the centroid, then iteratively add the leaf maximizing
// lambda*sim(v, centroid) - (1-lambda)*max_{j in selected} sim(v, v_j),
// and return the normalized mean of the selected vectors.
//
// Pure centroid dilutes large sections; MMR preserves the distinct
// sub-topics that make a section routable.
func NodeVector(leafVectors [][]float32) []float32 {
	if len(leafVectors) == 0 {
		return nil
	}
	if len(leafVectors) == 1 {
		return normalize(cloneVector(leafVectors[0]))
	}

	centroid := normalize(meanVector(leafVectors))
	k := SelectionCount(len(leafVectors))

	selected := make([]int, 0, k)
	remaining := make(map[int]struct{}, len(leafVectors))
	for i := range leafVectors {
		remaining[i] = struct{}{}
	}

	seed := argmaxSimilarityTo(centroid, leafVectors, remaining)
	selected = append(selected, seed)
	delete(remaining, seed)

	for len(selected) < k && len(remaining) > 0 {
		best := -1
		var bestScore float64
		for i := range remaining {
			relevance := cosineSimilarity(leafVectors[i], centroid)

			var maxSimToSelected float64 = -1
			for _, s := range selected {
				sim := cosineSimilarity(leafVectors[i], leafVectors[s])
				if sim > maxSimToSelected {
					maxSimToSelected = sim
				}
			}

			score := mmrLambda*relevance - (1-mmrLambda)*maxSimToSelected
			if best == -1 || score > bestScore {
				best = i
				bestScore = score
			}
		}
		selected = append(selected, best)
		delete(remaining, best)
	}

	chosen := make([][]float32, len(selected))
	for i, idx := range selected {
		chosen[i] = leafVectors[idx]
	}
	return normalize(meanVector(chosen))
}

func argmaxSimilarityTo(target []float32, vectors [][]float32, candidates map[int]struct{}) int {
	best := -1
	var bestSim float64
	for i := range candidates {
		sim := cosineSimilarity(vectors[i], target)
		if best == -1 || sim > bestSim {
			best = i
			bestSim = sim
		}
	}
	return best
}

func meanVector(vectors [][]float32) []float32 {
	dims := len(vectors[0])
	sum := make([]float64, dims)
	for _, v := range vectors {
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	mean := make([]float32, dims)
	for i, s := range sum {
		mean[i] = float32(s / float64(len(vectors)))
	}
	return mean
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// cosineSimilarity assumes inputs are already (or nearly) unit-length, as
// embeddings from the embedder contract always are.
func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
