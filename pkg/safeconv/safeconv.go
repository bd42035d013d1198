// Package safeconv provides safe integer type conversion functions that panic on overflow.
package safeconv

import "math"

// MaxInt is the maximum value for int type (platform-dependent).
const MaxInt = int(^uint(0) >> 1)

// MustUintToInt converts uint to int, panics on overflow.
// Use only when overflow is logically impossible.
func MustUintToInt(v uint) int {
	if v > uint(MaxInt) {
		panic("safeconv: uint to int overflow")
	}

	return int(v)
}

// MustUint64ToInt64 converts uint64 to int64, panics on overflow.
// Use only when overflow is logically impossible, such as parsed
// human-readable byte sizes.
func MustUint64ToInt64(v uint64) int64 {
	if v > uint64(math.MaxInt64) {
		panic("safeconv: uint64 to int64 overflow")
	}

	return int64(v)
}
