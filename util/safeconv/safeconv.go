package safeconv

import "math"

// IntSliceToUint32Slice converts a slice of int to uint32 with clamping to avoid overflow/underflow.
func IntSliceToUint32Slice(input []int) []uint32 {
	out := make([]uint32, len(input))
	for i, v := range input {
		switch {
		case v < 0:
			out[i] = 0
		case uint64(v) > math.MaxUint32:
			out[i] = math.MaxUint32
		default:
			out[i] = uint32(v)
		}
	}
	return out
}
