// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package util holds small generic helpers with no domain knowledge of
// RAID geometry or superblocks, shared across lib/raid and its
// sub-packages.
package util

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// InSlice reports whether needle occurs anywhere in haystack.
func InSlice[T comparable](needle T, haystack []T) bool {
	for _, straw := range haystack {
		if needle == straw {
			return true
		}
	}
	return false
}

// RemoveAllFromSliceFunc returns haystack with every element matching f
// removed, preserving order.
func RemoveAllFromSliceFunc[T any](haystack []T, f func(T) bool) []T {
	out := haystack[:0]
	for _, straw := range haystack {
		if !f(straw) {
			out = append(out, straw)
		}
	}
	return out
}

// Max returns the larger of a and b.
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// MapKeys returns the keys of m in unspecified order.
func MapKeys[K comparable, V any](m map[K]V) []K {
	ret := make([]K, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	return ret
}

// SortSlice sorts slice in place by the natural order of T.
func SortSlice[T constraints.Ordered](slice []T) {
	sort.Slice(slice, func(i, j int) bool {
		return slice[i] < slice[j]
	})
}

// SortedMapKeys returns the keys of m, sorted.
func SortedMapKeys[K constraints.Ordered, V any](m map[K]V) []K {
	ret := MapKeys(m)
	SortSlice(ret)
	return ret
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo[T constraints.Integer](n T) bool {
	return n > 0 && n&(n-1) == 0
}

// Log2 returns the base-2 logarithm of n, which must be a positive
// power of two; callers are expected to have validated that with
// IsPowerOfTwo first.
func Log2[T constraints.Integer](n T) uint {
	var shift uint
	for n > 1 {
		n >>= 1
		shift++
	}
	return shift
}
