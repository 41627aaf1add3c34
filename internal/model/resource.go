package model

import (
	"github.com/horao-fabric/fabric/internal/clock"
	"github.com/horao-fabric/fabric/internal/crdt"
	"github.com/horao-fabric/fabric/internal/errors"
)

// ResourceKind is one of the three pools a Resource belongs to, per
// spec.md §3.
type ResourceKind string

const (
	KindCompute ResourceKind = "compute"
	KindNetwork ResourceKind = "network"
	KindStorage ResourceKind = "storage"
)

// ResourceState is the LWW-Register value tracking whether a resource may
// currently be placed against.
type ResourceState string

const (
	StateActive   ResourceState = "active"
	StateDraining ResourceState = "draining"
	StateOffline  ResourceState = "offline"
)

// capacitySchema names the required capacity-vector dimensions per kind,
// `[SUPPLEMENT]` folding horao's storage-type/accelerator fields into the
// generic vector (see DESIGN.md) rather than bespoke struct fields.
var capacitySchema = map[ResourceKind][]string{
	KindCompute: {"cpu", "memory"},
	KindNetwork: {"bandwidth"},
	KindStorage: {"iops", "bytes"},
}

func validKind(kind ResourceKind) bool {
	_, ok := capacitySchema[kind]
	return ok
}

func validState(state ResourceState) bool {
	switch state {
	case StateActive, StateDraining, StateOffline:
		return true
	default:
		return false
	}
}

// capacityShapeMatches reports whether capacity's key set is exactly the
// schema for kind — spec.md §4.3's CapacityShape check.
func capacityShapeMatches(kind ResourceKind, capacity map[string]float64) bool {
	schema := capacitySchema[kind]
	if len(capacity) != len(schema) {
		return false
	}
	for _, dim := range schema {
		if _, ok := capacity[dim]; !ok {
			return false
		}
	}
	return true
}

// Resource is the flat, id-addressed entity named in spec.md §9's design
// note: no aggregate owns a resource exclusively, every reference elsewhere
// (racks, logical groups, claim placements) is by id into Model.resources.
type Resource struct {
	ID         string
	Kind       ResourceKind
	Exists     *crdt.LWWRegister[bool]
	Capacity   *crdt.LWWMap[string, float64]
	Attributes *crdt.LWWMap[string, string]
	State      *crdt.LWWRegister[ResourceState]
	Origin     *crdt.LWWRegister[string]
}

func newResource(id string, kind ResourceKind) *Resource {
	return &Resource{
		ID:         id,
		Kind:       kind,
		Exists:     crdt.NewLWWRegister[bool](),
		Capacity:   crdt.NewLWWMap[string, float64](),
		Attributes: crdt.NewLWWMap[string, string](),
		State:      crdt.NewLWWRegister[ResourceState](),
		Origin:     crdt.NewLWWRegister[string](),
	}
}

// CurrentOrigin returns the controller adapter id this resource was last
// pushed by, if any — spec.md §4.7's "resources tagged with the provider's
// origin."
func (r *Resource) CurrentOrigin() (string, bool) {
	return r.Origin.Value()
}

// exists reports whether a create has been observed for this resource
// (spec.md §4.3: set_resource_state fails with UnknownResource "if no prior
// create and no concurrent create is observable").
func (r *Resource) exists() bool {
	v, ok := r.Exists.Value()
	return ok && v
}

// CapacityValue returns the live value for a capacity dimension.
func (r *Resource) CapacityValue(dim string) (float64, bool) {
	return r.Capacity.Get(dim)
}

// CurrentState returns the resource's live state, defaulting to offline if
// never set.
func (r *Resource) CurrentState() ResourceState {
	v, ok := r.State.Value()
	if !ok {
		return StateOffline
	}
	return v
}

func (r *Resource) mergeFrom(other *Resource) {
	r.Exists.Merge(other.Exists)
	r.Capacity.Merge(other.Capacity)
	r.Attributes.Merge(other.Attributes)
	r.State.Merge(other.State)
	r.Origin.Merge(other.Origin)
}

// UpsertResource implements spec.md §4.3's upsert_resource: validates kind
// and capacity shape, then get-or-creates the flat resource record and
// stamps every field with a fresh timestamp.
func (m *Model) UpsertResource(id string, kind ResourceKind, capacity map[string]float64, attrs map[string]string) (*Resource, error) {
	if !validKind(kind) {
		return nil, errors.Validation("upsert_resource: invalid kind " + string(kind))
	}
	if !capacityShapeMatches(kind, capacity) {
		return nil, errors.Validation("upsert_resource: capacity shape mismatch for kind " + string(kind))
	}

	r := m.getOrCreateResource(id, kind)
	ts := m.clock.Now()
	r.Exists.Set(true, ts)
	for dim, val := range capacity {
		r.Capacity.Put(dim, val, ts)
	}
	for k, v := range attrs {
		r.Attributes.Put(k, v, ts)
	}
	return r, nil
}

// UpsertResourceFromAdapter is upsert_resource plus the origin tag
// spec.md §4.7's controller contract needs: "resources tagged with the
// provider's origin are replaced wholesale on each push." Used only by
// internal/controller's inventory_push implementation — a direct model
// mutation, such as set_resource_state, is still the caller-facing surface
// for everything else.
func (m *Model) UpsertResourceFromAdapter(id string, kind ResourceKind, capacity map[string]float64, attrs map[string]string, adapterID string) (*Resource, error) {
	r, err := m.UpsertResource(id, kind, capacity, attrs)
	if err != nil {
		return nil, err
	}
	r.Origin.Set(adapterID, m.clock.Now())
	return r, nil
}

// DecommissionResource tombstones a resource — spec.md §4.7's "resources
// not in the push become tombstoned if absent for grace_interval
// consecutive pushes." A tombstoned resource no longer exists() and is
// excluded from matching/placement, but its id's history remains mergeable
// like any other LWW field.
func (m *Model) DecommissionResource(id string) error {
	r := m.lookupResource(id)
	if r == nil || !r.exists() {
		return errors.UnknownEntity(id)
	}
	r.Exists.Set(false, m.clock.Now())
	return nil
}

// ResourcesByOrigin returns every existing resource last tagged with
// adapterID's origin.
func (m *Model) ResourcesByOrigin(adapterID string) []*Resource {
	var out []*Resource
	for _, r := range m.Resources("") {
		if origin, ok := r.CurrentOrigin(); ok && origin == adapterID {
			out = append(out, r)
		}
	}
	return out
}

// SetResourceState implements spec.md §4.3's set_resource_state.
func (m *Model) SetResourceState(id string, state ResourceState) error {
	if !validState(state) {
		return errors.Validation("set_resource_state: invalid state " + string(state))
	}
	r := m.lookupResource(id)
	if r == nil || !r.exists() {
		return errors.UnknownEntity(id)
	}
	r.State.Set(state, m.clock.Now())
	return nil
}
