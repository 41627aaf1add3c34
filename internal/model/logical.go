package model

import (
	"github.com/horao-fabric/fabric/internal/crdt"
	"github.com/horao-fabric/fabric/internal/errors"
)

// LogicalInfrastructure is `{id, name, members (Multi-Value Map from
// logical-slot-name → resource-id)}` per spec.md §3. Concurrent edits to the
// same slot surface as siblings until one dominates, per the MV-Map's
// subsumption rule (§4.2).
type LogicalInfrastructure struct {
	ID      string
	Name    *crdt.LWWRegister[string]
	Members *crdt.MultiValueMap[string, string]
}

func newLogicalInfrastructure(id string) *LogicalInfrastructure {
	return &LogicalInfrastructure{
		ID:      id,
		Name:    crdt.NewLWWRegister[string](),
		Members: crdt.NewMultiValueMap[string, string](),
	}
}

func (g *LogicalInfrastructure) mergeFrom(other *LogicalInfrastructure) {
	g.Name.Merge(other.Name)
	g.Members.Merge(other.Members)
}

// CreateLogicalGroup implements spec.md §4.3's create_logical_group.
func (m *Model) CreateLogicalGroup(id, name string) (*LogicalInfrastructure, error) {
	m.mu.Lock()
	g, exists := m.logicalGroups[id]
	if !exists {
		g = newLogicalInfrastructure(id)
		m.logicalGroups[id] = g
	}
	m.mu.Unlock()

	g.Name.Set(name, m.clock.Now())
	return g, nil
}

// AssignSlot binds a logical slot name to a resource id within a logical
// group, recording it as an MV-Map write (siblings surface under
// concurrent assignment of the same slot; see spec.md §3).
func (m *Model) AssignSlot(groupID, slot, resourceID string) error {
	g := m.lookupLogicalGroup(groupID)
	if g == nil {
		return errors.UnknownEntity(groupID)
	}
	if m.lookupResource(resourceID) == nil {
		return errors.UnknownEntity(resourceID)
	}
	g.Members.Put(slot, resourceID, m.clock.Now())
	return nil
}
