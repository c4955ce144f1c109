// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package version compares dotted numeric versions, such as kernel releases.
package version

import (
	"strconv"
	"strings"
)

// Version is a dotted numeric version, most significant part first. Missing
// trailing parts compare as zero, so {1} and {1, 0} are equal.
type Version []int

func (v Version) Cmp(other Version) int {
	count := max(len(v), len(other))
	for i := 0; i < count; i++ {
		switch {
		case v.part(i) > other.part(i):
			return 1
		case v.part(i) < other.part(i):
			return -1
		}
	}

	return 0
}

func (v Version) part(i int) int {
	if i >= len(v) {
		return 0
	}
	return v[i]
}

func (v Version) Gt(other Version) bool {
	return v.Cmp(other) > 0
}

func (v Version) Ge(other Version) bool {
	return v.Cmp(other) >= 0
}

func (v Version) Lt(other Version) bool {
	return v.Cmp(other) < 0
}

func (v Version) Le(other Version) bool {
	return v.Cmp(other) <= 0
}

func (v Version) Eq(other Version) bool {
	return v.Cmp(other) == 0
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, part := range v {
		parts[i] = strconv.Itoa(part)
	}
	return strings.Join(parts, ".")
}
