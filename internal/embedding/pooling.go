package embedding

// meanPool averages token vectors of a [tokens x dim] row-major matrix over positions whose
// attention mask is set. A fully masked input yields the zero vector.
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	out := make([]float32, dim)
	var n float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		start := t * dim
		if start+dim > len(hidden) {
			break
		}
		for i, v := range hidden[start : start+dim] {
			out[i] += v
		}
		n++
	}
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}
