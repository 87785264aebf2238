package ring

import "math"

// IndexWidth returns the smallest unsigned integer width in bits (8, 16, 32
// or 64) able to represent every index up to n.
func IndexWidth(n uint64) int {
	switch {
	case n <= math.MaxUint8:
		return 8
	case n <= math.MaxUint16:
		return 16
	case n <= math.MaxUint32:
		return 32
	default:
		return 64
	}
}
