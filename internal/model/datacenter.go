package model

import (
	"sync"

	"github.com/horao-fabric/fabric/internal/crdt"
	"github.com/horao-fabric/fabric/internal/errors"
)

func stringLess(a, b string) bool { return a < b }

// Rack holds a Fractional-Index Array of resource ids — resources
// themselves stay in Model's flat map (spec.md §9); the rack only orders
// references by id, so merging it never needs to reach into a nested
// compound CRDT.
type Rack struct {
	ID          string
	Attributes  *crdt.LWWMap[string, string]
	ResourceIDs *crdt.FractionalArray[string, string]
}

func newRack(id string) *Rack {
	return &Rack{
		ID:          id,
		Attributes:  crdt.NewLWWMap[string, string](),
		ResourceIDs: crdt.NewFractionalArray[string, string](),
	}
}

func (r *Rack) mergeFrom(other *Rack) {
	r.Attributes.Merge(other.Attributes)
	r.ResourceIDs.Merge(other.ResourceIDs)
}

// Row holds a Fractional-Index Array ordering its own Racks by id; the
// racks' content lives in a flat map local to the row, mirroring how
// Resources live in a flat map local to the Model (spec.md §9's design
// note generalized one level down, since a rack is never referenced from
// outside its row).
type Row struct {
	ID         string
	Attributes *crdt.LWWMap[string, string]
	RackOrder  *crdt.FractionalArray[string, string]

	mu    sync.RWMutex
	racks map[string]*Rack
}

func newRow(id string) *Row {
	return &Row{
		ID:         id,
		Attributes: crdt.NewLWWMap[string, string](),
		RackOrder:  crdt.NewFractionalArray[string, string](),
		racks:      make(map[string]*Rack),
	}
}

func (r *Row) getOrCreateRack(id string) *Rack {
	r.mu.Lock()
	defer r.mu.Unlock()
	rack, ok := r.racks[id]
	if !ok {
		rack = newRack(id)
		r.racks[id] = rack
	}
	return rack
}

func (r *Row) lookupRack(id string) (*Rack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rack, ok := r.racks[id]
	return rack, ok
}

func (r *Row) orderedRacks() []*Rack {
	entries := r.RackOrder.Ordered(stringLess)
	out := make([]*Rack, 0, len(entries))
	for _, e := range entries {
		if rack, ok := r.lookupRack(e.ID); ok {
			out = append(out, rack)
		}
	}
	return out
}

func (r *Row) snapshotRacks() map[string]*Rack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]*Rack, len(r.racks))
	for id, rack := range r.racks {
		cp[id] = rack
	}
	return cp
}

func (r *Row) mergeFrom(other *Row) {
	r.Attributes.Merge(other.Attributes)
	r.RackOrder.Merge(other.RackOrder)
	for id, orack := range other.snapshotRacks() {
		r.getOrCreateRack(id).mergeFrom(orack)
	}
}

// Datacenter is `{id, name, rows (Fractional-Index Array of Row), location
// attrs}` per spec.md §3. `[SUPPLEMENT]` the Location map carries the
// region/cooling-type attributes from horao's data_center.py (see
// DESIGN.md), and Rows/Racks each carry their own Attributes map matching
// the original's per-level attribute bags used for placement affinity.
type Datacenter struct {
	ID       string
	Name     *crdt.LWWRegister[string]
	Location *crdt.LWWMap[string, string]
	RowOrder *crdt.FractionalArray[string, string]

	mu   sync.RWMutex
	rows map[string]*Row
}

func newDatacenter(id string) *Datacenter {
	return &Datacenter{
		ID:       id,
		Name:     crdt.NewLWWRegister[string](),
		Location: crdt.NewLWWMap[string, string](),
		RowOrder: crdt.NewFractionalArray[string, string](),
		rows:     make(map[string]*Row),
	}
}

func (d *Datacenter) getOrCreateRow(id string) *Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, ok := d.rows[id]
	if !ok {
		row = newRow(id)
		d.rows[id] = row
	}
	return row
}

func (d *Datacenter) lookupRow(id string) (*Row, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	row, ok := d.rows[id]
	return row, ok
}

func (d *Datacenter) orderedRows() []*Row {
	entries := d.RowOrder.Ordered(stringLess)
	out := make([]*Row, 0, len(entries))
	for _, e := range entries {
		if row, ok := d.lookupRow(e.ID); ok {
			out = append(out, row)
		}
	}
	return out
}

func (d *Datacenter) snapshotRows() map[string]*Row {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cp := make(map[string]*Row, len(d.rows))
	for id, row := range d.rows {
		cp[id] = row
	}
	return cp
}

func (d *Datacenter) mergeFrom(other *Datacenter) {
	d.Name.Merge(other.Name)
	d.Location.Merge(other.Location)
	d.RowOrder.Merge(other.RowOrder)
	for id, orow := range other.snapshotRows() {
		d.getOrCreateRow(id).mergeFrom(orow)
	}
}

// CreateDatacenter implements spec.md §4.3's create_datacenter.
func (m *Model) CreateDatacenter(id, name string, location map[string]string) (*Datacenter, error) {
	m.mu.Lock()
	dc, exists := m.datacenters[id]
	if !exists {
		dc = newDatacenter(id)
		m.datacenters[id] = dc
	}
	m.mu.Unlock()

	ts := m.clock.Now()
	dc.Name.Set(name, ts)
	for k, v := range location {
		dc.Location.Put(k, v, ts)
	}
	return dc, nil
}

// CreateRow creates a row and inserts it at the end of dc's row order.
func (m *Model) CreateRow(datacenterID, rowID string) (*Row, error) {
	dc := m.lookupDatacenter(datacenterID)
	if dc == nil {
		return nil, errors.UnknownEntity(datacenterID)
	}
	row := dc.getOrCreateRow(rowID)
	pos := resolvePosition(dc.RowOrder.Ordered(stringLess), nil)
	dc.RowOrder.Insert(rowID, rowID, pos, m.clock.Now())
	return row, nil
}

// CreateRack creates a rack and inserts it at the end of row's rack order.
func (m *Model) CreateRack(datacenterID, rowID, rackID string) (*Rack, error) {
	dc := m.lookupDatacenter(datacenterID)
	if dc == nil {
		return nil, errors.UnknownEntity(datacenterID)
	}
	row, ok := dc.lookupRow(rowID)
	if !ok {
		return nil, errors.UnknownEntity(rowID)
	}
	rack := row.getOrCreateRack(rackID)
	pos := resolvePosition(row.RackOrder.Ordered(stringLess), nil)
	row.RackOrder.Insert(rackID, rackID, pos, m.clock.Now())
	return rack, nil
}

// AttachToRack implements spec.md §4.3's attach_to_rack: inserts
// resourceID into the rack's fractional-index array at the requested
// position hint; if the hint is already taken, chooses the mediant to the
// right of it, per spec.md §4.2.
func (m *Model) AttachToRack(resourceID, datacenterID string, rowIdx, rackIdx int, positionHint *crdt.Frac) error {
	if m.lookupResource(resourceID) == nil {
		return errors.UnknownEntity(resourceID)
	}
	dc := m.lookupDatacenter(datacenterID)
	if dc == nil {
		return errors.UnknownEntity(datacenterID)
	}
	rows := dc.orderedRows()
	if rowIdx < 0 || rowIdx >= len(rows) {
		return errors.Validation("attach_to_rack: row index out of range")
	}
	row := rows[rowIdx]

	racks := row.orderedRacks()
	if rackIdx < 0 || rackIdx >= len(racks) {
		return errors.Validation("attach_to_rack: rack index out of range")
	}
	rack := racks[rackIdx]

	existing := rack.ResourceIDs.Ordered(stringLess)
	pos := resolvePosition(existing, positionHint)
	rack.ResourceIDs.Insert(resourceID, resourceID, pos, m.clock.Now())
	return nil
}

func resolvePosition[ID comparable, T any](existing []crdt.Element[ID, T], hint *crdt.Frac) crdt.Frac {
	if hint == nil {
		if len(existing) == 0 {
			return crdt.PositionBetween(nil, nil)
		}
		last := existing[len(existing)-1].Pos
		return crdt.PositionBetween(&last, nil)
	}
	for i, el := range existing {
		if el.Pos.Equal(*hint) {
			var next *crdt.Frac
			if i+1 < len(existing) {
				next = &existing[i+1].Pos
			}
			return crdt.PositionBetween(hint, next)
		}
	}
	return *hint
}
