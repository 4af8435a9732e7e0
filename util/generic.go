// util/generic.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"maps"
	"slices"

	"golang.org/x/exp/constraints"
)

// Select is the conditional operator.
func Select[T any](sel bool, a, b T) T {
	if sel {
		return a
	}
	return b
}

func SortedMapKeys[K constraints.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}

func MapSlice[F, T any](from []F, xform func(F) T) []T {
	if len(from) == 0 {
		return nil
	}
	to := make([]T, len(from))
	for i, item := range from {
		to[i] = xform(item)
	}
	return to
}

// FilterSlice returns a new slice holding the elements of s for which
// pred returns true, or nil if there are none.
func FilterSlice[V any](s []V, pred func(V) bool) []V {
	var filtered []V
	for _, item := range s {
		if pred(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
