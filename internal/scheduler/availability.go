package scheduler

import (
	"time"

	"github.com/horao-fabric/fabric/internal/model"
)

const hourMS = int64(time.Hour / time.Millisecond)

// DefaultPlanningWindow is the forward-scan cap `[SUPPLEMENT]` taken from
// horao/logical/scheduler.py's BasicScheduler.schedule, which resolves an
// unset reservation start by scanning forward in hourly increments up to
// this bound looking for sufficient availability.
const DefaultPlanningWindow = 31 * 24 * time.Hour

// Availability implements spec.md §4.5's oracle: given (kind, attrs,
// quantity, durationMS) starting no earlier than earliestStartMS, return the
// maximum achievable quantity and the first window start at which the full
// quantity is available. The scan is deterministic given identical merged
// state — it only reads resourceBusy, never mutates.
func (s *Scheduler) Availability(kind model.ResourceKind, attrs map[string]string, quantity int, earliestStartMS, durationMS int64) (maxQty int, firstStartMS int64, found bool) {
	candidates := matchingResources(s.model, kind, attrs)
	limit := earliestStartMS + s.planningWindowMS

	best := 0
	for t := earliestStartMS; t < limit; t += hourMS {
		free := 0
		for _, r := range candidates {
			if !resourceBusy(s.model, r.ID, t, t+durationMS, "") {
				free++
			}
		}
		if free > best {
			best = free
		}
		if free >= quantity {
			return quantity, t, true
		}
	}
	return best, 0, false
}
