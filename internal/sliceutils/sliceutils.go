// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package sliceutils provides small helpers for working with slices.

package sliceutils

// ContainsValue reports whether the slice contains the given value.
func ContainsValue[T comparable](values []T, value T) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// FindValueFunc returns the first value matching the predicate.
func FindValueFunc[T any](values []T, predicate func(T) bool) (T, bool) {
	for _, v := range values {
		if predicate(v) {
			return v, true
		}
	}

	var zero T
	return zero, false
}

// FindMatches returns all the values matching the predicate.
func FindMatches[T any](values []T, predicate func(T) bool) []T {
	matches := []T(nil)
	for _, v := range values {
		if predicate(v) {
			matches = append(matches, v)
		}
	}
	return matches
}

// MapToSlice returns the keys of a map, in map iteration order.
func MapToSlice[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
