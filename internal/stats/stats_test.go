package stats

import (
	"slices"
	"testing"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		before Stats
		after  Stats
		want   []Difference
	}{
		{
			name:   "grown_unit_only",
			before: Stats{"a": 100, "b": 50},
			after:  Stats{"a": 120, "b": 50},
			want:   []Difference{{Unit: "a", Before: 100, Delta: 20}},
		},
		{
			name:   "new_unit_in_after_not_reported",
			before: Stats{"a": 100},
			after:  Stats{"a": 100, "b": 10},
			want:   nil,
		},
		{
			name:   "removed_unit_counts_as_zero",
			before: Stats{"a": 100, "gone": 30},
			after:  Stats{"a": 90},
			want: []Difference{
				{Unit: "a", Before: 100, Delta: -10},
				{Unit: "gone", Before: 30, Delta: -30},
			},
		},
		{
			name:   "ordered_by_unit",
			before: Stats{"/z": 1, "/a": 1, "/m": 1},
			after:  Stats{"/z": 2, "/a": 2, "/m": 2},
			want: []Difference{
				{Unit: "/a", Before: 1, Delta: 1},
				{Unit: "/m", Before: 1, Delta: 1},
				{Unit: "/z", Before: 1, Delta: 1},
			},
		},
		{
			name:   "empty",
			before: Stats{},
			after:  Stats{"a": 1},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Diff(tt.before, tt.after)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("Diff() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDifferenceAfter(t *testing.T) {
	t.Parallel()

	if got := (Difference{Before: 100, Delta: -30}).After(); got != 70 {
		t.Fatalf("After() = %d, want 70", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := (Stats{"a": 0, "b": 5}).Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if err := (Stats{"a": -1}).Validate(); err == nil {
		t.Fatal("Validate() accepted a negative size")
	}
}
