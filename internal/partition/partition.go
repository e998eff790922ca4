// Package partition splits an ordered recipient list across sessions.
package partition

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for a non-positive partition count.
var ErrInvalidArgument = errors.New("partition: invalid argument")

// Split returns n ordered sub-slices whose concatenation is items. Sizes
// differ by at most one; the first len(items)%n partitions get the extra
// element. Partitions may be empty when n > len(items). Each partition is a
// fresh slice, so callers may keep or modify it freely.
func Split[T any](items []T, n int) ([][]T, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be >= 1 (got %d)", ErrInvalidArgument, n)
	}
	base, extra := len(items)/n, len(items)%n
	out := make([][]T, n)
	start := 0
	for i := range out {
		size := base
		if i < extra {
			size++
		}
		out[i] = append(make([]T, 0, size), items[start:start+size]...)
		start += size
	}
	return out, nil
}
