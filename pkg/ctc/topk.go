package ctc

// SelectTop reorders items in place so that items[:k] hold the k best
// elements according to better, and returns that prefix. The prefix is not
// sorted. When k >= len(items) items is returned unchanged.
//
// better must be a strict total order for the result to be deterministic;
// callers break score ties with an insertion sequence number. The expected
// cost is linear in len(items).
func SelectTop[T any](items []T, k int, better func(a, b T) bool) []T {
	if k <= 0 {
		return items[:0]
	}
	if k >= len(items) {
		return items
	}
	lo, hi := 0, len(items)-1
	for lo < hi {
		p := partition(items, lo, hi, better)
		switch {
		case p == k || p == k-1:
			return items[:k]
		case p < k:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
	return items[:k]
}

// partition moves a median-of-three pivot to its final position in
// items[lo:hi+1]. Elements better than the pivot end up before it.
func partition[T any](items []T, lo, hi int, better func(a, b T) bool) int {
	mid := lo + (hi-lo)/2
	if better(items[mid], items[lo]) {
		items[lo], items[mid] = items[mid], items[lo]
	}
	if better(items[hi], items[lo]) {
		items[lo], items[hi] = items[hi], items[lo]
	}
	if better(items[hi], items[mid]) {
		items[mid], items[hi] = items[hi], items[mid]
	}
	// items[mid] is the median; park it at hi.
	items[mid], items[hi] = items[hi], items[mid]
	pivot := items[hi]

	i := lo
	for j := lo; j < hi; j++ {
		if better(items[j], pivot) {
			items[i], items[j] = items[j], items[i]
			i++
		}
	}
	items[i], items[hi] = items[hi], items[i]
	return i
}
