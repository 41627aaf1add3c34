// Package scheduler implements the Fair-Share Scheduler (C5): claim
// admission against a DRF-style per-tenant entitlement, greedy placement
// against the Resource Model, a forward-looking availability oracle, and
// the merge-conflict reconciliation spec.md §4.5 requires.
package scheduler

import (
	"sort"
	"time"

	"github.com/horao-fabric/fabric/internal/clock"
	"github.com/horao-fabric/fabric/internal/model"
	"github.com/horao-fabric/fabric/internal/observability"
)

// Scheduler drives one peer's claim state machine against a shared Model.
// It holds no state of its own beyond the share registry and planning
// window — every decision reads live from Model, so it is safe to
// reconstruct after a restart once the Model has been restored.
type Scheduler struct {
	model            *model.Model
	clock            *clock.HLC
	shares           *Shares
	planningWindowMS int64
	metrics          *observability.Metrics
}

// New creates a Scheduler. planningWindow bounds the Availability forward
// scan; pass 0 to use DefaultPlanningWindow.
func New(m *model.Model, hlc *clock.HLC, shares *Shares, planningWindow time.Duration) *Scheduler {
	if planningWindow <= 0 {
		planningWindow = DefaultPlanningWindow
	}
	return &Scheduler{
		model:            m,
		clock:            hlc,
		shares:           shares,
		planningWindowMS: int64(planningWindow / time.Millisecond),
	}
}

// WithMetrics attaches a Metrics sink; internal/fabric.Peer calls this once
// at construction. A Scheduler built without it (as every unit test does)
// simply records nothing.
func (s *Scheduler) WithMetrics(m *observability.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Schedule runs one claim through admission then placement. A rejection at
// either stage leaves the claim in its terminal `rejected` state and
// returns the error that caused it.
func (s *Scheduler) Schedule(claim *model.Claim) error {
	if err := s.Admit(claim); err != nil {
		return err
	}
	return s.Place(claim)
}

// Tick processes every pending claim in spec.md §4.5's tie-break order —
// smallest projected dominant-share ratio first, then among a tenant's own
// claims by priority (descending), then earliest start_ms, then stable
// claim id — expires claims whose window has ended, and returns the ids
// that changed state.
func (s *Scheduler) Tick(nowMS int64) (scheduled, expired []string) {
	var pending []*model.Claim
	for _, c := range s.model.Claims() {
		if c.CurrentStatus() == model.StatusPending {
			pending = append(pending, c)
		}
	}

	type ranked struct {
		claim *model.Claim
		ratio float64
	}
	rankedClaims := make([]ranked, 0, len(pending))
	for _, c := range pending {
		profiles := c.Profiles.Elements()
		ratio := 0.0
		for _, p := range profiles {
			pool := poolSize(s.model, p.Kind)
			if pool == 0 {
				continue
			}
			windowSeconds := float64(c.EndMS-c.StartMS) / 1000
			r := (float64(p.Quantity) * windowSeconds) / (float64(pool) * windowSeconds)
			if r > ratio {
				ratio = r
			}
		}
		rankedClaims = append(rankedClaims, ranked{claim: c, ratio: ratio})
	}

	sort.SliceStable(rankedClaims, func(i, j int) bool {
		a, b := rankedClaims[i], rankedClaims[j]
		if a.ratio != b.ratio {
			return a.ratio < b.ratio
		}
		if a.claim.Priority != b.claim.Priority {
			return a.claim.Priority > b.claim.Priority
		}
		if a.claim.StartMS != b.claim.StartMS {
			return a.claim.StartMS < b.claim.StartMS
		}
		return a.claim.ID < b.claim.ID
	})

	for _, rc := range rankedClaims {
		if err := s.Schedule(rc.claim); err == nil {
			scheduled = append(scheduled, rc.claim.ID)
		}
	}

	expired = s.Expire(nowMS)
	return scheduled, expired
}

// Expire implements spec.md §4.5's `placed → expired` transition for every
// claim whose end_ms has passed.
func (s *Scheduler) Expire(nowMS int64) []string {
	var ids []string
	for _, c := range s.model.Claims() {
		if c.CurrentStatus() == model.StatusPlaced && c.EndMS <= nowMS {
			c.Status.Set(model.StatusExpired, s.clock.Now())
			ids = append(ids, c.ID)
			if s.metrics != nil {
				s.metrics.ClaimsExpiredTotal.Inc()
			}
		}
	}
	return ids
}

// Reconcile implements spec.md §4.5's failure semantics for capacity
// conflicts discovered after a merge: when two placed claims share a
// resource over an overlapping window, the claim with the smaller
// `(admit_timestamp, claim_id)` tuple wins and the other reverts to
// `pending` for re-evaluation on the next Tick. Returns the reverted claim
// ids.
func (s *Scheduler) Reconcile() []string {
	type occupant struct {
		claimID string
		admitTS clock.Timestamp
		start   int64
		end     int64
	}

	byResource := map[string][]occupant{}
	for _, c := range s.model.Claims() {
		if c.CurrentStatus() != model.StatusPlaced {
			continue
		}
		admitTS, _ := c.AdmitTS.Value()
		for _, rid := range placementsOf(c) {
			byResource[rid] = append(byResource[rid], occupant{claimID: c.ID, admitTS: admitTS, start: c.StartMS, end: c.EndMS})
		}
	}

	losers := map[string]bool{}
	for _, occupants := range byResource {
		for i := 0; i < len(occupants); i++ {
			for j := i + 1; j < len(occupants); j++ {
				a, b := occupants[i], occupants[j]
				if !windowsOverlap(a.start, a.end, b.start, b.end) {
					continue
				}
				loser := a.claimID
				if admitWins(a, b) {
					loser = b.claimID
				}
				losers[loser] = true
			}
		}
	}

	var reverted []string
	for id := range losers {
		if c, ok := s.model.Claim(id); ok {
			c.Status.Set(model.StatusPending, s.clock.Now())
			reverted = append(reverted, id)
			if s.metrics != nil {
				s.metrics.ClaimsReconciledTotal.Inc()
			}
		}
	}
	sort.Strings(reverted)
	return reverted
}

func admitWins(a, b struct {
	claimID string
	admitTS clock.Timestamp
	start   int64
	end     int64
}) bool {
	if !a.admitTS.Equal(b.admitTS) {
		return a.admitTS.Less(b.admitTS)
	}
	return a.claimID < b.claimID
}
