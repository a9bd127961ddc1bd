package memory

import "math"

// padVector reconciles a vector to the target width: zero-fill on the right
// when short, truncate when long. The output is always exactly target wide.
func padVector(vec []float32, target int) []float32 {
	if target <= 0 {
		return nil
	}
	out := make([]float32, target)
	copy(out, vec)
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
