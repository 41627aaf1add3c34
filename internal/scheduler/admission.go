package scheduler

import (
	"context"

	"github.com/horao-fabric/fabric/internal/errors"
	"github.com/horao-fabric/fabric/internal/model"
	"github.com/horao-fabric/fabric/internal/observability"
)

// Admit implements spec.md §4.5's fair-share policy: `pending → admitted`
// when the claim passes quota and capacity checks, `pending → rejected`
// otherwise. This implementation's window-integrated Open Question decision
// (DESIGN.md): a tenant's dominant-share ratio is computed over
// resource-seconds reserved during the claim's own `[start_ms, end_ms)`
// window rather than instantaneous occupancy, so a burst of short claims
// can't starve a tenant holding one long claim of equal total size.
func (s *Scheduler) Admit(claim *model.Claim) error {
	_, span := observability.StartSpan(context.Background(), "scheduler.Admit")
	defer span.End()

	if claim.CurrentStatus() != model.StatusPending {
		return errors.Validation("admit: claim " + claim.ID + " is not pending")
	}
	if claim.EndMS <= claim.StartMS {
		return errors.Validation("admit: claim " + claim.ID + " has a non-positive window")
	}

	if claim.IsMaintenance {
		ts := s.clock.Now()
		claim.AdmitTS.Set(ts, ts)
		claim.Status.Set(model.StatusAdmitted, ts)
		s.recordAdmission("admitted")
		return nil
	}

	windowSeconds := float64(claim.EndMS-claim.StartMS) / 1000
	profiles := claim.Profiles.Elements()

	seenKinds := map[model.ResourceKind]bool{}
	dominantRatio := 0.0
	grain := 0.0
	contending := false

	for _, profile := range profiles {
		if seenKinds[profile.Kind] {
			continue
		}
		seenKinds[profile.Kind] = true

		pool := poolSize(s.model, profile.Kind)
		if pool == 0 {
			continue
		}
		if g := 1.0 / float64(pool); g > grain {
			grain = g
		}

		poolSeconds := float64(pool) * windowSeconds
		var claimSeconds float64
		for _, p := range profiles {
			if p.Kind == profile.Kind {
				claimSeconds += float64(p.Quantity) * windowSeconds
			}
		}
		tenantSeconds := claimSeconds + tenantWindowResourceSeconds(s.model, claim.Tenant, profile.Kind, claim.StartMS, claim.EndMS, claim.ID)

		ratio := tenantSeconds / poolSeconds
		if ratio > dominantRatio {
			dominantRatio = ratio
		}

		if hasContendingTenant(s.model, claim.Tenant, profile.Kind, claim.StartMS, claim.EndMS, claim.ID) {
			contending = true
		}
	}

	entitlement := s.entitlement(claim, profiles, claim.StartMS, claim.EndMS)

	if contending && dominantRatio > entitlement+grain {
		claim.Status.Set(model.StatusRejected, s.clock.Now())
		s.recordAdmission("rejected")
		return errors.Capacity("admit: claim " + claim.ID + " exceeds tenant " + claim.Tenant + "'s fair-share entitlement under contention")
	}

	ts := s.clock.Now()
	claim.AdmitTS.Set(ts, ts)
	claim.Status.Set(model.StatusAdmitted, ts)
	s.recordAdmission("admitted")
	return nil
}

func (s *Scheduler) recordAdmission(result string) {
	if s.metrics != nil {
		s.metrics.AdmissionsTotal.WithLabelValues(result).Inc()
	}
}

// entitlement computes s_t / Σs over every tenant currently contending for
// the same kinds during the same window (including claim's own tenant),
// per spec.md §4.5: "tenant t is entitled to s_t/Σs of the pool's active
// capacity."
func (s *Scheduler) entitlement(claim *model.Claim, profiles []model.ResourceProfile, start, end int64) float64 {
	tenants := map[string]bool{claim.Tenant: true}
	for _, profile := range profiles {
		for _, c := range s.model.Claims() {
			if c.ID == claim.ID || c.IsMaintenance {
				continue
			}
			switch c.CurrentStatus() {
			case model.StatusPending, model.StatusAdmitted, model.StatusPlaced:
			default:
				continue
			}
			if !windowsOverlap(c.StartMS, c.EndMS, start, end) {
				continue
			}
			for _, p := range c.Profiles.Elements() {
				if p.Kind == profile.Kind {
					tenants[c.Tenant] = true
					break
				}
			}
		}
	}
	total := 0
	for t := range tenants {
		total += s.shares.Get(t)
	}
	if total == 0 {
		return 1
	}
	return float64(s.shares.Get(claim.Tenant)) / float64(total)
}

// poolSize returns the number of active resources of kind — the pool this
// implementation's DRF ratio is measured against (DESIGN.md: discrete
// resource count rather than a capacity-vector sum, since a claim profile
// names a unit quantity, not a fractional vector share).
func poolSize(m *model.Model, kind model.ResourceKind) int {
	n := 0
	for _, r := range m.Resources(kind) {
		if r.CurrentState() == model.StateActive {
			n++
		}
	}
	return n
}

// tenantWindowResourceSeconds sums, over tenant's other admitted or placed
// non-maintenance claims with a profile of kind, quantity * overlap-seconds against [start,end).
func tenantWindowResourceSeconds(m *model.Model, tenant string, kind model.ResourceKind, start, end int64, excludeClaimID string) float64 {
	var total float64
	for _, c := range m.Claims() {
		if c.ID == excludeClaimID || c.Tenant != tenant || c.IsMaintenance {
			continue
		}
		switch c.CurrentStatus() {
		case model.StatusAdmitted, model.StatusPlaced:
		default:
			continue
		}
		overlap := overlapSeconds(c.StartMS, c.EndMS, start, end)
		if overlap <= 0 {
			continue
		}
		for _, p := range c.Profiles.Elements() {
			if p.Kind == kind {
				total += float64(p.Quantity) * overlap
			}
		}
	}
	return total
}

// hasContendingTenant reports whether some tenant other than excludeTenant
// has a non-terminal claim of the same kind whose window overlaps
// [start,end) — the fair-share bound only binds "except when no other
// tenant is contending" (P5).
func hasContendingTenant(m *model.Model, excludeTenant string, kind model.ResourceKind, start, end int64, excludeClaimID string) bool {
	for _, c := range m.Claims() {
		if c.ID == excludeClaimID || c.Tenant == excludeTenant || c.IsMaintenance {
			continue
		}
		switch c.CurrentStatus() {
		case model.StatusPending, model.StatusAdmitted, model.StatusPlaced:
		default:
			continue
		}
		if !windowsOverlap(c.StartMS, c.EndMS, start, end) {
			continue
		}
		for _, p := range c.Profiles.Elements() {
			if p.Kind == kind {
				return true
			}
		}
	}
	return false
}
