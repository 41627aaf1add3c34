package model

import (
	"github.com/horao-fabric/fabric/internal/clock"
	"github.com/horao-fabric/fabric/internal/crdt"
)

// SchemaVersion is stamped into every snapshot per spec.md §4.4/§6's
// "snapshots are self-describing (include schema version...)".
const SchemaVersion = 1

// registerSnapshot captures an LWW-Register's materialized state — the
// minimal representation needed to reconstruct it exactly, since a
// register's only observable state is its winning (value, timestamp) pair.
type registerSnapshot[V any] struct {
	Value V
	Ts    clock.Timestamp
	Set   bool
}

func snapshotRegister[V any](r *crdt.LWWRegister[V]) registerSnapshot[V] {
	v, ok := r.Value()
	return registerSnapshot[V]{Value: v, Ts: r.Timestamp(), Set: ok}
}

func restoreRegister[V any](r *crdt.LWWRegister[V], snap registerSnapshot[V]) {
	if snap.Set {
		r.Set(snap.Value, snap.Ts)
	}
}

// hwmTracker folds the maximum timestamp observed across a snapshot, used
// to compute the "originating clock high-water mark" spec.md §4.4 requires
// snapshots to carry.
type hwmTracker struct{ max clock.Timestamp }

func (h *hwmTracker) observe(ts clock.Timestamp) {
	if ts.After(h.max) {
		h.max = ts
	}
}

// RackSnapshot captures one rack's attributes and resource ordering.
type RackSnapshot struct {
	ID          string
	Attributes  []crdt.MapOp[string, string]
	ResourceIDs []crdt.ArrayOp[string, string]
}

// RowSnapshot captures one row's attributes, rack ordering, and racks.
type RowSnapshot struct {
	ID        string
	Attributes []crdt.MapOp[string, string]
	RackOrder  []crdt.ArrayOp[string, string]
	Racks      []RackSnapshot
}

// DatacenterSnapshot captures one datacenter's full hierarchy.
type DatacenterSnapshot struct {
	ID       string
	Name     registerSnapshot[string]
	Location []crdt.MapOp[string, string]
	RowOrder []crdt.ArrayOp[string, string]
	Rows     []RowSnapshot
}

// ResourceSnapshot captures one flat resource record.
type ResourceSnapshot struct {
	ID         string
	Kind       ResourceKind
	Exists     registerSnapshot[bool]
	Capacity   []crdt.MapOp[string, float64]
	Attributes []crdt.MapOp[string, string]
	State      registerSnapshot[ResourceState]
	Origin     registerSnapshot[string]
}

// LogicalGroupSnapshot captures one logical infrastructure group.
type LogicalGroupSnapshot struct {
	ID      string
	Name    registerSnapshot[string]
	Members []crdt.MultiOp[string, string]
}

// ClaimSnapshot captures one claim, including its profiles and placements.
type ClaimSnapshot struct {
	ID            string
	Tenant        string
	StartMS       int64
	EndMS         int64
	Priority      int
	IsMaintenance bool
	Profiles      []crdt.SetOp[ResourceProfile]
	Status        registerSnapshot[ClaimStatus]
	Placements    []crdt.MapOp[string, []string]
	AdmitTS       registerSnapshot[clock.Timestamp]
}

// ModelSnapshot is the self-describing, deterministically serializable
// capture of the full merged model, per spec.md §4.4/§6. Every sub-slice is
// produced via each CRDT's Delta(zero-value timestamp), which — since every
// real timestamp is strictly after the zero value — yields every op ever
// applied, i.e. a full materialization rather than an incremental delta.
type ModelSnapshot struct {
	SchemaVersion int
	HighWaterMark clock.Timestamp
	Resources     []ResourceSnapshot
	Datacenters   []DatacenterSnapshot
	LogicalGroups []LogicalGroupSnapshot
	Claims        []ClaimSnapshot
}

// Empty reports whether the snapshot carries no ops at all — C6 uses this
// to skip putting an empty DELTA on the wire when a flush timer fires with
// nothing pending.
func (s ModelSnapshot) Empty() bool {
	return len(s.Resources) == 0 && len(s.Datacenters) == 0 && len(s.LogicalGroups) == 0 && len(s.Claims) == 0
}

func (rk RackSnapshot) empty() bool {
	return len(rk.Attributes) == 0 && len(rk.ResourceIDs) == 0
}

func (rw RowSnapshot) empty() bool {
	if len(rw.Attributes) != 0 || len(rw.RackOrder) != 0 {
		return false
	}
	for _, rk := range rw.Racks {
		if !rk.empty() {
			return false
		}
	}
	return true
}

func (ds DatacenterSnapshot) empty() bool {
	if ds.Name.Set || len(ds.Location) != 0 || len(ds.RowOrder) != 0 {
		return false
	}
	for _, rw := range ds.Rows {
		if !rw.empty() {
			return false
		}
	}
	return true
}

func (rs ResourceSnapshot) empty() bool {
	return !rs.Exists.Set && !rs.State.Set && !rs.Origin.Set && len(rs.Capacity) == 0 && len(rs.Attributes) == 0
}

func (g LogicalGroupSnapshot) empty() bool {
	return !g.Name.Set && len(g.Members) == 0
}

func (c ClaimSnapshot) empty() bool {
	return !c.Status.Set && !c.AdmitTS.Set && len(c.Profiles) == 0 && len(c.Placements) == 0
}

var zeroTS clock.Timestamp

// snapshotRegisterSince captures a register's state if its winning write
// happened strictly after since, so Delta can reuse the same builders
// Snapshot uses (called with since=zeroTS, which every real write is
// strictly after).
func snapshotRegisterSince[V any](r *crdt.LWWRegister[V], since clock.Timestamp) registerSnapshot[V] {
	d := r.Delta(since)
	if d == nil {
		return registerSnapshot[V]{}
	}
	return snapshotRegister(d)
}

func snapshotRackSince(r *Rack, since clock.Timestamp, hwm *hwmTracker) RackSnapshot {
	attrs := r.Attributes.Delta(since)
	order := r.ResourceIDs.Delta(since)
	for _, op := range attrs {
		hwm.observe(op.Ts)
	}
	for _, op := range order {
		hwm.observe(op.Ts)
	}
	return RackSnapshot{ID: r.ID, Attributes: attrs, ResourceIDs: order}
}

func snapshotRowSince(r *Row, since clock.Timestamp, hwm *hwmTracker) RowSnapshot {
	attrs := r.Attributes.Delta(since)
	order := r.RackOrder.Delta(since)
	for _, op := range attrs {
		hwm.observe(op.Ts)
	}
	for _, op := range order {
		hwm.observe(op.Ts)
	}
	racks := make([]RackSnapshot, 0)
	for _, rack := range r.snapshotRacks() {
		racks = append(racks, snapshotRackSince(rack, since, hwm))
	}
	return RowSnapshot{ID: r.ID, Attributes: attrs, RackOrder: order, Racks: racks}
}

func snapshotDatacenterSince(dc *Datacenter, since clock.Timestamp, hwm *hwmTracker) DatacenterSnapshot {
	name := snapshotRegisterSince(dc.Name, since)
	hwm.observe(name.Ts)
	location := dc.Location.Delta(since)
	order := dc.RowOrder.Delta(since)
	for _, op := range location {
		hwm.observe(op.Ts)
	}
	for _, op := range order {
		hwm.observe(op.Ts)
	}
	rows := make([]RowSnapshot, 0)
	for _, row := range dc.snapshotRows() {
		rows = append(rows, snapshotRowSince(row, since, hwm))
	}
	return DatacenterSnapshot{ID: dc.ID, Name: name, Location: location, RowOrder: order, Rows: rows}
}

func snapshotResourceSince(r *Resource, since clock.Timestamp, hwm *hwmTracker) ResourceSnapshot {
	exists := snapshotRegisterSince(r.Exists, since)
	state := snapshotRegisterSince(r.State, since)
	origin := snapshotRegisterSince(r.Origin, since)
	capacity := r.Capacity.Delta(since)
	attrs := r.Attributes.Delta(since)
	hwm.observe(exists.Ts)
	hwm.observe(state.Ts)
	hwm.observe(origin.Ts)
	for _, op := range capacity {
		hwm.observe(op.Ts)
	}
	for _, op := range attrs {
		hwm.observe(op.Ts)
	}
	return ResourceSnapshot{ID: r.ID, Kind: r.Kind, Exists: exists, Capacity: capacity, Attributes: attrs, State: state, Origin: origin}
}

func snapshotLogicalGroupSince(g *LogicalInfrastructure, since clock.Timestamp, hwm *hwmTracker) LogicalGroupSnapshot {
	name := snapshotRegisterSince(g.Name, since)
	hwm.observe(name.Ts)
	members := g.Members.Delta(since)
	for _, op := range members {
		hwm.observe(op.Ts)
	}
	return LogicalGroupSnapshot{ID: g.ID, Name: name, Members: members}
}

func snapshotClaimSince(c *Claim, since clock.Timestamp, hwm *hwmTracker) ClaimSnapshot {
	status := snapshotRegisterSince(c.Status, since)
	admitTS := snapshotRegisterSince(c.AdmitTS, since)
	profiles := c.Profiles.Delta(since)
	placements := c.Placements.Delta(since)
	hwm.observe(status.Ts)
	hwm.observe(admitTS.Ts)
	for _, op := range profiles {
		hwm.observe(op.Ts)
	}
	for _, op := range placements {
		hwm.observe(op.Ts)
	}
	return ClaimSnapshot{
		ID: c.ID, Tenant: c.Tenant, StartMS: c.StartMS, EndMS: c.EndMS,
		Priority: c.Priority, IsMaintenance: c.IsMaintenance,
		Profiles: profiles, Status: status, Placements: placements, AdmitTS: admitTS,
	}
}

func snapshotRack(r *Rack, hwm *hwmTracker) RackSnapshot { return snapshotRackSince(r, zeroTS, hwm) }

func snapshotRow(r *Row, hwm *hwmTracker) RowSnapshot { return snapshotRowSince(r, zeroTS, hwm) }

func snapshotDatacenter(dc *Datacenter, hwm *hwmTracker) DatacenterSnapshot {
	return snapshotDatacenterSince(dc, zeroTS, hwm)
}

func snapshotResource(r *Resource, hwm *hwmTracker) ResourceSnapshot {
	return snapshotResourceSince(r, zeroTS, hwm)
}

func snapshotLogicalGroup(g *LogicalInfrastructure, hwm *hwmTracker) LogicalGroupSnapshot {
	return snapshotLogicalGroupSince(g, zeroTS, hwm)
}

func snapshotClaim(c *Claim, hwm *hwmTracker) ClaimSnapshot { return snapshotClaimSince(c, zeroTS, hwm) }

// Snapshot materializes the full model into a self-describing, JSON-ready
// snapshot. encoding/json sorts map keys, so two peers with the same
// logical state produce byte-identical output (spec.md §6's round-trip
// determinism requirement) once slice ordering is normalized by the
// caller if needed.
func (m *Model) Snapshot() ModelSnapshot {
	var hwm hwmTracker

	m.mu.RLock()
	resources := make([]*Resource, 0, len(m.resources))
	for _, r := range m.resources {
		resources = append(resources, r)
	}
	datacenters := make([]*Datacenter, 0, len(m.datacenters))
	for _, dc := range m.datacenters {
		datacenters = append(datacenters, dc)
	}
	groups := make([]*LogicalInfrastructure, 0, len(m.logicalGroups))
	for _, g := range m.logicalGroups {
		groups = append(groups, g)
	}
	claims := make([]*Claim, 0, len(m.claims))
	for _, c := range m.claims {
		claims = append(claims, c)
	}
	m.mu.RUnlock()

	snap := ModelSnapshot{SchemaVersion: SchemaVersion}
	for _, r := range resources {
		snap.Resources = append(snap.Resources, snapshotResource(r, &hwm))
	}
	for _, dc := range datacenters {
		snap.Datacenters = append(snap.Datacenters, snapshotDatacenter(dc, &hwm))
	}
	for _, g := range groups {
		snap.LogicalGroups = append(snap.LogicalGroups, snapshotLogicalGroup(g, &hwm))
	}
	for _, c := range claims {
		snap.Claims = append(snap.Claims, snapshotClaim(c, &hwm))
	}
	snap.HighWaterMark = hwm.max
	return snap
}

// Delta captures only the ops stamped strictly after since, in the same
// ModelSnapshot shape Snapshot produces — C6's DELTA message body (spec.md
// §4.6/§6). Entities with nothing changed since `since` are omitted
// entirely, recursively through datacenter/row/rack nesting. Applying a
// Delta through Restore is exactly as safe as applying a full Snapshot:
// every sub-CRDT's Apply is itself LWW/OR-Set idempotent, so the same
// Restore path serves both.
func (m *Model) Delta(since clock.Timestamp) ModelSnapshot {
	var hwm hwmTracker

	m.mu.RLock()
	resources := make([]*Resource, 0, len(m.resources))
	for _, r := range m.resources {
		resources = append(resources, r)
	}
	datacenters := make([]*Datacenter, 0, len(m.datacenters))
	for _, dc := range m.datacenters {
		datacenters = append(datacenters, dc)
	}
	groups := make([]*LogicalInfrastructure, 0, len(m.logicalGroups))
	for _, g := range m.logicalGroups {
		groups = append(groups, g)
	}
	claims := make([]*Claim, 0, len(m.claims))
	for _, c := range m.claims {
		claims = append(claims, c)
	}
	m.mu.RUnlock()

	snap := ModelSnapshot{SchemaVersion: SchemaVersion}
	for _, r := range resources {
		if rs := snapshotResourceSince(r, since, &hwm); !rs.empty() {
			snap.Resources = append(snap.Resources, rs)
		}
	}
	for _, dc := range datacenters {
		if ds := snapshotDatacenterSince(dc, since, &hwm); !ds.empty() {
			snap.Datacenters = append(snap.Datacenters, ds)
		}
	}
	for _, g := range groups {
		if gs := snapshotLogicalGroupSince(g, since, &hwm); !gs.empty() {
			snap.LogicalGroups = append(snap.LogicalGroups, gs)
		}
	}
	for _, c := range claims {
		if cs := snapshotClaimSince(c, since, &hwm); !cs.empty() {
			snap.Claims = append(snap.Claims, cs)
		}
	}
	snap.HighWaterMark = hwm.max
	return snap
}

// Restore replays a ModelSnapshot's ops against this model — used both on
// warm restart (load snapshot, then replay the delta-log tail the same
// way) and to adopt a peer's full SNAPSHOT transfer (§4.6).
func (m *Model) Restore(snap ModelSnapshot) {
	for _, rs := range snap.Resources {
		r := m.getOrCreateResource(rs.ID, rs.Kind)
		restoreRegister(r.Exists, rs.Exists)
		restoreRegister(r.State, rs.State)
		restoreRegister(r.Origin, rs.Origin)
		r.Capacity.Apply(rs.Capacity)
		r.Attributes.Apply(rs.Attributes)
	}
	for _, ds := range snap.Datacenters {
		m.mu.Lock()
		dc, ok := m.datacenters[ds.ID]
		if !ok {
			dc = newDatacenter(ds.ID)
			m.datacenters[ds.ID] = dc
		}
		m.mu.Unlock()
		restoreRegister(dc.Name, ds.Name)
		dc.Location.Apply(ds.Location)
		dc.RowOrder.Apply(ds.RowOrder)
		for _, rowSnap := range ds.Rows {
			row := dc.getOrCreateRow(rowSnap.ID)
			row.Attributes.Apply(rowSnap.Attributes)
			row.RackOrder.Apply(rowSnap.RackOrder)
			for _, rackSnap := range rowSnap.Racks {
				rack := row.getOrCreateRack(rackSnap.ID)
				rack.Attributes.Apply(rackSnap.Attributes)
				rack.ResourceIDs.Apply(rackSnap.ResourceIDs)
			}
		}
	}
	for _, gs := range snap.LogicalGroups {
		m.mu.Lock()
		g, ok := m.logicalGroups[gs.ID]
		if !ok {
			g = newLogicalInfrastructure(gs.ID)
			m.logicalGroups[gs.ID] = g
		}
		m.mu.Unlock()
		restoreRegister(g.Name, gs.Name)
		g.Members.Apply(gs.Members)
	}
	for _, cs := range snap.Claims {
		m.mu.Lock()
		c, ok := m.claims[cs.ID]
		if !ok {
			c = newClaim(cs.ID, cs.Tenant, cs.StartMS, cs.EndMS, cs.Priority, cs.IsMaintenance)
			m.claims[cs.ID] = c
		}
		m.mu.Unlock()
		restoreRegister(c.Status, cs.Status)
		restoreRegister(c.AdmitTS, cs.AdmitTS)
		c.Profiles.Apply(cs.Profiles)
		c.Placements.Apply(cs.Placements)
	}
}
