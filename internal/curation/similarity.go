package curation

import "math"

// CosineSimilarity computes the cosine similarity of two embedding vectors.
// Mismatched lengths or a zero-magnitude vector yield 0: a degenerate
// embedding must never count as a duplicate of anything.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// maxSimilarity returns the highest cosine similarity between candidate and
// any vector in the window.
func maxSimilarity(candidate []float32, window [][]float32) float64 {
	best := 0.0
	for _, v := range window {
		if sim := CosineSimilarity(candidate, v); sim > best {
			best = sim
		}
	}
	return best
}
