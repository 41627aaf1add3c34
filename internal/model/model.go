// Package model implements the Resource Model (C3): typed, validated
// operations over the CRDT substrate in internal/crdt, composing Resources,
// Datacenters, Logical Infrastructures, and Claims as spec.md §3 and §4.3
// describe. No aggregate owns a Resource exclusively — every reference is by
// id into Model's flat resources map (spec.md §9).
package model

import (
	"sort"
	"sync"

	"github.com/horao-fabric/fabric/internal/clock"
)

// Model is the process-wide merged state container: the flat resource map
// plus datacenters, logical groups, and claims, all keyed by id. It is
// passed explicitly to workers rather than held as a package singleton, per
// spec.md §9's "process-wide state" design note.
type Model struct {
	clock *clock.HLC

	mu            sync.RWMutex
	resources     map[string]*Resource
	datacenters   map[string]*Datacenter
	logicalGroups map[string]*LogicalInfrastructure
	claims        map[string]*Claim
}

// New creates an empty Model driven by hlc.
func New(hlc *clock.HLC) *Model {
	return &Model{
		clock:         hlc,
		resources:     make(map[string]*Resource),
		datacenters:   make(map[string]*Datacenter),
		logicalGroups: make(map[string]*LogicalInfrastructure),
		claims:        make(map[string]*Claim),
	}
}

func (m *Model) getOrCreateResource(id string, kind ResourceKind) *Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		r = newResource(id, kind)
		m.resources[id] = r
	}
	return r
}

func (m *Model) lookupResource(id string) *Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resources[id]
}

func (m *Model) lookupDatacenter(id string) *Datacenter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.datacenters[id]
}

func (m *Model) lookupLogicalGroup(id string) *LogicalInfrastructure {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logicalGroups[id]
}

func (m *Model) lookupClaim(id string) *Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.claims[id]
}

// Resource returns the live resource for id, or false if none exists.
func (m *Model) Resource(id string) (*Resource, bool) {
	r := m.lookupResource(id)
	if r == nil || !r.exists() {
		return nil, false
	}
	return r, true
}

// Claim returns the claim for id, or false if none exists.
func (m *Model) Claim(id string) (*Claim, bool) {
	c := m.lookupClaim(id)
	return c, c != nil
}

// Datacenter returns the datacenter for id, or false if none exists.
func (m *Model) Datacenter(id string) (*Datacenter, bool) {
	dc := m.lookupDatacenter(id)
	return dc, dc != nil
}

// Resources returns every live resource, optionally filtered by kind
// (pass "" for no filter), sorted by id for deterministic iteration.
func (m *Model) Resources(kind ResourceKind) []*Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Resource
	for _, r := range m.resources {
		if !r.exists() {
			continue
		}
		if kind != "" && r.Kind != kind {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Claims returns every claim, sorted by id for deterministic iteration.
func (m *Model) Claims() []*Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Claim, 0, len(m.claims))
	for _, c := range m.claims {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// totalByKind sums every live, active resource's capacity dimensions for
// kind. `[SUPPLEMENT]` grounded in horao/logical/infrastructure.py's
// LogicalInfrastructure reducers of the same name (see DESIGN.md) — used by
// the scheduler's availability oracle.
func (m *Model) totalByKind(kind ResourceKind) map[string]float64 {
	totals := map[string]float64{}
	for _, r := range m.Resources(kind) {
		if r.CurrentState() != StateActive {
			continue
		}
		for _, dim := range capacitySchema[kind] {
			if v, ok := r.CapacityValue(dim); ok {
				totals[dim] += v
			}
		}
	}
	return totals
}

// TotalCompute returns the summed cpu/memory capacity of every active
// compute resource.
func (m *Model) TotalCompute() map[string]float64 { return m.totalByKind(KindCompute) }

// TotalStorage returns the summed iops/bytes capacity of every active
// storage resource.
func (m *Model) TotalStorage() map[string]float64 { return m.totalByKind(KindStorage) }

// TotalNetwork returns the summed bandwidth capacity of every active
// network resource.
func (m *Model) TotalNetwork() map[string]float64 { return m.totalByKind(KindNetwork) }

// Merge folds another Model's state into this one, field by field, per
// entity. internal/sync does not go through it: DELTA and SNAPSHOT bodies
// arrive as ModelSnapshots and are folded in with Restore instead.
func (m *Model) Merge(other *Model) {
	other.mu.RLock()
	resourcesCopy := make(map[string]*Resource, len(other.resources))
	for id, r := range other.resources {
		resourcesCopy[id] = r
	}
	datacentersCopy := make(map[string]*Datacenter, len(other.datacenters))
	for id, dc := range other.datacenters {
		datacentersCopy[id] = dc
	}
	groupsCopy := make(map[string]*LogicalInfrastructure, len(other.logicalGroups))
	for id, g := range other.logicalGroups {
		groupsCopy[id] = g
	}
	claimsCopy := make(map[string]*Claim, len(other.claims))
	for id, c := range other.claims {
		claimsCopy[id] = c
	}
	other.mu.RUnlock()

	for id, r := range resourcesCopy {
		m.getOrCreateResource(id, r.Kind).mergeFrom(r)
	}
	for id, dc := range datacentersCopy {
		m.mu.Lock()
		local, ok := m.datacenters[id]
		if !ok {
			local = newDatacenter(id)
			m.datacenters[id] = local
		}
		m.mu.Unlock()
		local.mergeFrom(dc)
	}
	for id, g := range groupsCopy {
		m.mu.Lock()
		local, ok := m.logicalGroups[id]
		if !ok {
			local = newLogicalInfrastructure(id)
			m.logicalGroups[id] = local
		}
		m.mu.Unlock()
		local.mergeFrom(g)
	}
	for id, c := range claimsCopy {
		m.mu.Lock()
		local, ok := m.claims[id]
		if !ok {
			local = newClaim(id, c.Tenant, c.StartMS, c.EndMS, c.Priority, c.IsMaintenance)
			m.claims[id] = local
		}
		m.mu.Unlock()
		local.mergeFrom(c)
	}
}
