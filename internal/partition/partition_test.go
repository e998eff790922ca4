package partition

import (
	"errors"
	"fmt"
	"slices"
	"testing"
)

func TestSplit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		items []string
		n     int
		want  [][]string
	}{
		{name: "uneven", items: []string{"a", "b", "c", "d", "e"}, n: 2, want: [][]string{{"a", "b", "c"}, {"d", "e"}}},
		{name: "even", items: []string{"a", "b", "c", "d"}, n: 2, want: [][]string{{"a", "b"}, {"c", "d"}}},
		{name: "single", items: []string{"a", "b"}, n: 1, want: [][]string{{"a", "b"}}},
		{name: "more sessions than items", items: []string{"a", "b"}, n: 4, want: [][]string{{"a"}, {"b"}, {}, {}}},
		{name: "empty", items: nil, n: 3, want: [][]string{{}, {}, {}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Split(tt.items, tt.n)
			if err != nil {
				t.Fatalf("Split error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !slices.Equal(got[i], tt.want[i]) {
					t.Fatalf("partition %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitSizesAndConcatenation(t *testing.T) {
	t.Parallel()
	for r := 0; r <= 23; r++ {
		items := make([]int, r)
		for i := range items {
			items[i] = i
		}
		for n := 1; n <= 7; n++ {
			t.Run(fmt.Sprintf("r=%d/n=%d", r, n), func(t *testing.T) {
				got, err := Split(items, n)
				if err != nil {
					t.Fatalf("Split error: %v", err)
				}
				var flat []int
				for i, p := range got {
					want := r / n
					if i < r%n {
						want++
					}
					if len(p) != want {
						t.Fatalf("partition %d has %d items, want %d", i, len(p), want)
					}
					flat = append(flat, p...)
				}
				if !slices.Equal(flat, items) && !(len(flat) == 0 && len(items) == 0) {
					t.Fatalf("concatenation = %v, want %v", flat, items)
				}
			})
		}
	}
}

func TestSplitDoesNotAlias(t *testing.T) {
	t.Parallel()
	items := []string{"a", "b", "c"}
	got, err := Split(items, 2)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	got[0][0] = "z"
	got[0] = append(got[0], "y")
	if items[0] != "a" || items[2] != "c" {
		t.Fatalf("input mutated: %v", items)
	}
}

func TestSplitInvalid(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, -1} {
		if _, err := Split([]string{"a"}, n); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Split(n=%d) err = %v, want ErrInvalidArgument", n, err)
		}
	}
}
