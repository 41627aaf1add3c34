package model

import (
	"sort"
	"strings"

	"github.com/horao-fabric/fabric/internal/clock"
	"github.com/horao-fabric/fabric/internal/crdt"
	"github.com/horao-fabric/fabric/internal/errors"
)

// ClaimStatus is a claim's position in the scheduler state machine from
// spec.md §4.5.
type ClaimStatus string

const (
	StatusPending  ClaimStatus = "pending"
	StatusAdmitted ClaimStatus = "admitted"
	StatusPlaced   ClaimStatus = "placed"
	StatusRejected ClaimStatus = "rejected"
	StatusExpired  ClaimStatus = "expired"
)

// ResourceProfile is `{kind, quantity, required attributes (set of
// key=value), optional preferences, duration}` per spec.md §3. It must be
// comparable to live in an OR-Set[T comparable], so RequiredAttrs and
// Preferences are canonicalized to a deterministic "k=v,k=v" string rather
// than carried as a map — the same canonicalization spec.md §6 requires
// for deterministic wire serialization anyway.
type ResourceProfile struct {
	ID            string
	Kind          ResourceKind
	Quantity      int
	RequiredAttrs string
	Preferences   string
	DurationMS    int64
}

// NewResourceProfile canonicalizes attrs/preferences into the comparable
// ResourceProfile shape.
func NewResourceProfile(id string, kind ResourceKind, quantity int, attrs, preferences map[string]string, durationMS int64) ResourceProfile {
	return ResourceProfile{
		ID:            id,
		Kind:          kind,
		Quantity:      quantity,
		RequiredAttrs: canonicalizeAttrs(attrs),
		Preferences:   canonicalizeAttrs(preferences),
		DurationMS:    durationMS,
	}
}

func canonicalizeAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(attrs))
	for k, v := range attrs {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// RequiredAttrMap parses RequiredAttrs back into a map, for the scheduler's
// placement matching.
func (p ResourceProfile) RequiredAttrMap() map[string]string {
	return parseAttrs(p.RequiredAttrs)
}

func parseAttrs(encoded string) map[string]string {
	out := map[string]string{}
	if encoded == "" {
		return out
	}
	for _, pair := range strings.Split(encoded, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// Claim is `{id, tenant, profiles (OR-Set of Resource Profile), window,
// priority, status, placements}` per spec.md §3. A Maintenance Event is the
// same structure with IsMaintenance set, per spec.md §3's "special claim
// variant".
type Claim struct {
	ID            string
	Tenant        string
	Profiles      *crdt.ORSet[ResourceProfile]
	StartMS       int64
	EndMS         int64
	Priority      int
	IsMaintenance bool
	Status        *crdt.LWWRegister[ClaimStatus]
	Placements    *crdt.LWWMap[string, []string] // profile id -> resource ids
	AdmitTS       *crdt.LWWRegister[clock.Timestamp]
}

func newClaim(id, tenant string, startMS, endMS int64, priority int, isMaintenance bool) *Claim {
	return &Claim{
		ID:            id,
		Tenant:        tenant,
		Profiles:      crdt.NewORSet[ResourceProfile](),
		StartMS:       startMS,
		EndMS:         endMS,
		Priority:      priority,
		IsMaintenance: isMaintenance,
		Status:        crdt.NewLWWRegister[ClaimStatus](),
		Placements:    crdt.NewLWWMap[string, []string](),
		AdmitTS:       crdt.NewLWWRegister[clock.Timestamp](),
	}
}

// CurrentStatus returns the claim's live status, defaulting to pending.
func (c *Claim) CurrentStatus() ClaimStatus {
	v, ok := c.Status.Value()
	if !ok {
		return StatusPending
	}
	return v
}

func (c *Claim) mergeFrom(other *Claim) {
	c.Profiles.Merge(other.Profiles)
	c.Status.Merge(other.Status)
	c.Placements.Merge(other.Placements)
	c.AdmitTS.Merge(other.AdmitTS)
}

// SubmitClaim implements spec.md §4.3's submit_claim: creates the claim
// record, stamps it pending, and adds every profile to its OR-Set.
func (m *Model) SubmitClaim(id, tenant string, startMS, endMS int64, priority int, isMaintenance bool, profiles []ResourceProfile) (*Claim, error) {
	if endMS <= startMS {
		return nil, errors.Validation("submit_claim: window end must be after start")
	}
	if len(profiles) == 0 {
		return nil, errors.Validation("submit_claim: at least one resource profile is required")
	}

	m.mu.Lock()
	if _, exists := m.claims[id]; exists {
		m.mu.Unlock()
		return nil, errors.Validation("submit_claim: claim id already in use: " + id)
	}
	claim := newClaim(id, tenant, startMS, endMS, priority, isMaintenance)
	m.claims[id] = claim
	m.mu.Unlock()

	ts := m.clock.Now()
	claim.Status.Set(StatusPending, ts)
	for _, p := range profiles {
		claim.Profiles.Add(p, ts)
	}
	return claim, nil
}

// WithdrawClaim implements spec.md §4.3's withdraw_claim: a tenant-initiated
// cancellation, only valid before a claim has reached a terminal or placed
// state.
func (m *Model) WithdrawClaim(id string) error {
	claim := m.lookupClaim(id)
	if claim == nil {
		return errors.UnknownEntity(id)
	}
	switch claim.CurrentStatus() {
	case StatusPending, StatusAdmitted:
		claim.Status.Set(StatusRejected, m.clock.Now())
		return nil
	default:
		return errors.Validation("withdraw_claim: claim " + id + " is not withdrawable from status " + string(claim.CurrentStatus()))
	}
}
