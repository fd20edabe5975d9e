package container

// Counting is a random-access counting iterator over int64 indices,
// mirroring the original's count_iterator: dereferencing index i yields
// First+i without any backing storage. Used to drive pattern.For/Reduce
// over a pure index range when no global memory is actually touched
// (e.g. generating a Vector's initial contents).
type Counting struct {
	First int64
}

// At returns the logical value at position i (0-based from First).
func (c Counting) At(i int64) int64 { return c.First + i }

// Slice materializes [c.At(0), c.At(n)) as a plain slice, for tests and
// small ranges where no parallel traversal is needed.
func (c Counting) Slice(n int64) []int64 {
	out := make([]int64, n)
	for i := int64(0); i < n; i++ {
		out[i] = c.At(i)
	}
	return out
}
