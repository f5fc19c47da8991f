package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Max for convenience.
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// NextPow2 returns the smallest power of two >= v. Values <= 1 yield 1.
func NextPow2[T constraints.Unsigned](v T) T {
	n := T(1)
	for n < v {
		n <<= 1
	}
	return n
}

// CeilDiv returns ceil(a/b) for positive integers; b == 0 yields 0.
func CeilDiv[T constraints.Unsigned](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
