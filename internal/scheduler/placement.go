package scheduler

import (
	"fmt"
	"sort"

	"github.com/horao-fabric/fabric/internal/errors"
	"github.com/horao-fabric/fabric/internal/model"
)

// Place implements spec.md §4.5's placement: `admitted → placed` once every
// profile in the claim has a concrete resource assignment, `admitted →
// rejected` if placement fails. Candidates are collected and validated
// against every profile before any Placements write lands, so a mid-claim
// shortfall never leaves a partial placement behind.
func (s *Scheduler) Place(claim *model.Claim) error {
	if claim.CurrentStatus() != model.StatusAdmitted {
		return errors.Validation("place: claim " + claim.ID + " is not admitted")
	}

	now := s.clock.Now()
	assignments := make(map[string][]string)
	reserved := map[string]bool{}

	for _, profile := range claim.Profiles.Elements() {
		candidates := matchingResources(s.model, profile.Kind, profile.RequiredAttrMap())

		var available []*model.Resource
		for _, r := range candidates {
			if reserved[r.ID] {
				continue
			}
			if resourceBusy(s.model, r.ID, claim.StartMS, claim.EndMS, claim.ID) {
				continue
			}
			available = append(available, r)
		}

		sort.Slice(available, func(i, j int) bool {
			li, lj := load(s.model, available[i].ID, now.WallMS), load(s.model, available[j].ID, now.WallMS)
			if li != lj {
				return li < lj
			}
			return available[i].ID < available[j].ID
		})

		if len(available) < profile.Quantity {
			claim.Status.Set(model.StatusRejected, s.clock.Now())
			s.recordPlacement("rejected")
			return errors.Capacity(fmt.Sprintf("place: insufficient %s resources for claim %s profile %s (need %d, have %d)",
				profile.Kind, claim.ID, profile.ID, profile.Quantity, len(available)))
		}

		ids := make([]string, 0, profile.Quantity)
		for i := 0; i < profile.Quantity; i++ {
			ids = append(ids, available[i].ID)
			reserved[available[i].ID] = true
		}
		assignments[profile.ID] = ids
	}

	ts := s.clock.Now()
	for profileID, ids := range assignments {
		claim.Placements.Put(profileID, ids, ts)
	}
	claim.Status.Set(model.StatusPlaced, ts)
	s.recordPlacement("placed")
	return nil
}

func (s *Scheduler) recordPlacement(result string) {
	if s.metrics != nil {
		s.metrics.PlacementsTotal.WithLabelValues(result).Inc()
	}
}
