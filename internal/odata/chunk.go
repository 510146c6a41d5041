package odata

// MaxBatchSize is the largest number of records sent in one $batch request.
const MaxBatchSize = 999

// Chunk splits items into the fewest contiguous groups of at most maxSize
// elements, preserving order. A non-positive maxSize means MaxBatchSize.
// Groups share the backing array of items but cannot grow into each other.
func Chunk[T any](items []T, maxSize int) [][]T {
	if maxSize <= 0 {
		maxSize = MaxBatchSize
	}
	if len(items) == 0 {
		return nil
	}
	groups := make([][]T, 0, (len(items)+maxSize-1)/maxSize)
	for start := 0; start < len(items); start += maxSize {
		end := min(start+maxSize, len(items))
		groups = append(groups, items[start:end:end])
	}
	return groups
}
