package qrf

//BuildThresholdCache enumerates every split threshold a tree node can carry at
//the given code width. Quantized codes of width bits take values 0..2^bits-1,
//and a split "code <= t" is only informative for t below the maximal code, so
//the cache holds the 2^bits-1 codes 0..2^bits-2. Tree nodes reference cache
//slots instead of storing thresholds, which is what keeps the node layout
//narrow. The result depends on bits only.
func BuildThresholdCache(bits uint8) []uint16 {
	n := 1<<bits - 1
	if n < 1 {
		return []uint16{0}
	}
	cache := make([]uint16, n)
	for ind := range cache {
		cache[ind] = uint16(ind)
	}
	return cache
}
