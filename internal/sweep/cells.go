package sweep

import (
	"sort"

	"faultline/internal/config"
	"faultline/internal/core"
)

// Cells expands grid into its cartesian product in interval, timeout, knob
// order. When grid.SkipInvalid is set, cells whose timeout is shorter than
// their interval are returned separately instead.
func Cells(grid config.Grid) (cells, skipped []core.Params) {
	knobs := knobCombos(grid.Knobs)
	for _, interval := range grid.Intervals {
		for _, timeout := range grid.Timeouts {
			for _, k := range knobs {
				p := core.Params{IntervalMs: interval, TimeoutMs: timeout, Knobs: k}
				if grid.SkipInvalid && timeout < interval {
					skipped = append(skipped, p)
					continue
				}
				cells = append(cells, p)
			}
		}
	}
	return cells, skipped
}

// knobCombos returns every assignment of knob values, knob names varying
// slowest in name order. With no knobs it returns a single nil assignment.
func knobCombos(knobs map[string][]int) []map[string]int {
	names := make([]string, 0, len(knobs))
	for name := range knobs {
		names = append(names, name)
	}
	sort.Strings(names)

	combos := []map[string]int{nil}
	for _, name := range names {
		var next []map[string]int
		for _, base := range combos {
			for _, v := range knobs[name] {
				m := make(map[string]int, len(base)+1)
				for k, bv := range base {
					m[k] = bv
				}
				m[name] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}
