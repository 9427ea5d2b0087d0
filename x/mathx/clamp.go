package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	return Min(Max(v, lo), hi)
}

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// CeilDiv returns ceil(a/b); b == 0 yields 0.
func CeilDiv[T constraints.Unsigned](a, b T) T {
	if b == 0 {
		return 0
	}
	return a/b + T(btou(a%b != 0))
}

// NextPow2 returns the smallest power of two >= v (minimum 2).
func NextPow2(v int) int {
	n := 2
	for n < v {
		n <<= 1
	}
	return n
}

func btou(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
