package odata

import (
	"slices"
	"testing"
)

func TestChunkSizes(t *testing.T) {
	for _, n := range []int{0, 1, 998, 999, 1000, 1998, 2500} {
		items := make([]int, n)
		for i := range items {
			items[i] = i
		}

		groups := Chunk(items, MaxBatchSize)

		wantGroups := (n + MaxBatchSize - 1) / MaxBatchSize
		if len(groups) != wantGroups {
			t.Fatalf("n=%d: expected %d groups, got %d", n, wantGroups, len(groups))
		}
		var joined []int
		for i, g := range groups {
			if i < len(groups)-1 && len(g) != MaxBatchSize {
				t.Errorf("n=%d: group %d has %d items, want %d", n, i, len(g), MaxBatchSize)
			}
			if len(g) == 0 || len(g) > MaxBatchSize {
				t.Errorf("n=%d: group %d has invalid size %d", n, i, len(g))
			}
			joined = append(joined, g...)
		}
		if !slices.Equal(joined, items) {
			t.Errorf("n=%d: concatenated groups differ from input", n)
		}
	}
}

func TestChunkDefaultSize(t *testing.T) {
	groups := Chunk(make([]string, 1500), 0)
	if len(groups) != 2 || len(groups[0]) != MaxBatchSize || len(groups[1]) != 501 {
		t.Errorf("unexpected split: %d groups", len(groups))
	}
}

func TestChunkGroupsDoNotOverlap(t *testing.T) {
	groups := Chunk([]int{1, 2, 3, 4}, 2)
	groups[0] = append(groups[0], 99)
	if groups[1][0] != 3 {
		t.Errorf("appending to a group overwrote the next one: %v", groups[1])
	}
}
