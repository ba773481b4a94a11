// Package stats holds per-revision bundle sizes and the difference between
// two revisions.
package stats

import (
	"fmt"
	"slices"
)

// Stats maps an output unit (a page or bundle name) to its compressed size in
// bytes.
type Stats map[string]int64

// Validate rejects negative sizes, which no build can produce.
func (s Stats) Validate() error {
	for unit, size := range s {
		if size < 0 {
			return fmt.Errorf("unit %q has negative size %d", unit, size)
		}
	}
	return nil
}

// Units returns the unit names in sorted order.
func (s Stats) Units() []string {
	units := make([]string, 0, len(s))
	for unit := range s {
		units = append(units, unit)
	}
	slices.Sort(units)
	return units
}

// Difference is the size change of one unit between two revisions.
type Difference struct {
	Unit   string
	Before int64
	Delta  int64
}

func (d Difference) After() int64 { return d.Before + d.Delta }

// Diff compares every unit of before against after. A unit missing from after
// counts as size 0. Units that only exist in after are not reported, and
// neither are unchanged units. Results follow before's key order, which is unit
// name order: the cache stores entries with sorted keys.
func Diff(before, after Stats) []Difference {
	var diffs []Difference
	for _, unit := range before.Units() {
		size := before[unit]
		delta := after[unit] - size
		if delta == 0 {
			continue
		}
		diffs = append(diffs, Difference{Unit: unit, Before: size, Delta: delta})
	}
	return diffs
}
