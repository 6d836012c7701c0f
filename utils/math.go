package utils

// Clamp returns value limited to [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// IsMultipleOf reports whether n is a positive multiple of m.
func IsMultipleOf(n, m int) bool {
	return n > 0 && m > 0 && n%m == 0
}
