// Package reembed keeps stored chunk embeddings consistent with the
// active embedding model.
//
// When the configured model or dimension changes, stored vectors stop
// being comparable to fresh query vectors. The reconciler applies a
// repair policy per chunk and a single background worker drains a
// priority queue of proper re-embeds.
package reembed

// Resize returns a vector of exactly dim elements: the input truncated,
// or zero-padded on the right. The input is never mutated and the result
// is always a fresh slice.
//
// Zero-padding preserves the relative angles between vectors (cosine
// ranking against other padded vectors is unchanged), which makes it an
// acceptable stopgap until a real re-embed lands. Truncation does not
// have that property, so shrinking is only used where a re-embed follows
// immediately.
func Resize(vec []float32, dim int) []float32 {
	if dim < 0 {
		dim = 0
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out
}
