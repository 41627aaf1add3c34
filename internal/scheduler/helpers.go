package scheduler

import (
	"sort"

	"github.com/horao-fabric/fabric/internal/model"
)

// windowsOverlap reports whether half-open windows [s1,e1) and [s2,e2)
// intersect.
func windowsOverlap(s1, e1, s2, e2 int64) bool {
	return s1 < e2 && s2 < e1
}

// overlapSeconds returns the overlap duration, in seconds, between two
// half-open millisecond windows, or 0 if they don't intersect.
func overlapSeconds(s1, e1, s2, e2 int64) float64 {
	lo, hi := s1, s2
	if s2 > lo {
		lo = s2
	}
	if e2 < e1 {
		hi = e2
	} else {
		hi = e1
	}
	if hi <= lo {
		return 0
	}
	return float64(hi-lo) / 1000
}

// matchingResources returns every active resource of kind whose Attributes
// is a superset of attrs, sorted by id — the candidate pool §4.5's
// "enumerate resources matching kind and required attributes" names.
func matchingResources(m *model.Model, kind model.ResourceKind, attrs map[string]string) []*model.Resource {
	var out []*model.Resource
	for _, r := range m.Resources(kind) {
		if r.CurrentState() != model.StateActive {
			continue
		}
		match := true
		for k, v := range attrs {
			got, ok := r.Attributes.Get(k)
			if !ok || got != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// placementsOf returns the resource ids a claim's Placements map holds
// across every profile, sorted for deterministic comparison in tests.
func placementsOf(c *model.Claim) []string {
	var ids []string
	for _, profileID := range c.Placements.Keys(func(a, b string) bool { return a < b }) {
		assigned, ok := c.Placements.Get(profileID)
		if !ok {
			continue
		}
		ids = append(ids, assigned...)
	}
	return ids
}

// resourceBusy reports whether resourceID is already placed against by some
// other claim or maintenance event whose window overlaps [start,end).
// excludeClaimID lets a claim re-check placement against everyone but
// itself.
func resourceBusy(m *model.Model, resourceID string, start, end int64, excludeClaimID string) bool {
	for _, c := range m.Claims() {
		if c.ID == excludeClaimID {
			continue
		}
		if c.CurrentStatus() != model.StatusPlaced {
			continue
		}
		if !windowsOverlap(c.StartMS, c.EndMS, start, end) {
			continue
		}
		for _, id := range placementsOf(c) {
			if id == resourceID {
				return true
			}
		}
	}
	return false
}

// load counts the placed claims, still live at nowMS, that reference
// resourceID — §4.5's "least-loaded (fewest future placements)" tie-break.
func load(m *model.Model, resourceID string, nowMS int64) int {
	n := 0
	for _, c := range m.Claims() {
		if c.CurrentStatus() != model.StatusPlaced || c.EndMS <= nowMS {
			continue
		}
		for _, id := range placementsOf(c) {
			if id == resourceID {
				n++
			}
		}
	}
	return n
}
