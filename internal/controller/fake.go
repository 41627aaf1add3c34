package controller

import (
	"context"
	"sync"
	"time"

	"github.com/horao-fabric/fabric/internal/model"
)

// FakeAdapter is the deterministic in-memory Adapter used by controller and
// fabric tests in place of a real cloud provider SDK — grounded on the
// teacher's pattern of hand-written test doubles for its own
// provider-facing interfaces (see e.g. mocks.go across apps/mcp-server).
type FakeAdapter struct {
	id       string
	interval time.Duration

	mu        sync.Mutex
	resources []InventoryResource
	hookErr   error
	hookCalls []placementHookCall
	pullCalls int
}

type placementHookCall struct {
	ClaimID     string
	Placements  map[string][]string
}

// NewFakeAdapter creates a FakeAdapter pushing resources on every Pull.
func NewFakeAdapter(id string, interval time.Duration, resources []InventoryResource) *FakeAdapter {
	return &FakeAdapter{id: id, interval: interval, resources: resources}
}

func (f *FakeAdapter) ID() string                  { return f.id }
func (f *FakeAdapter) PullInterval() time.Duration { return f.interval }

func (f *FakeAdapter) Pull(ctx context.Context) ([]InventoryResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullCalls++
	out := make([]InventoryResource, len(f.resources))
	copy(out, f.resources)
	return out, nil
}

// SetResources replaces what the next Pull returns — tests use this to
// simulate a provider losing track of a resource (omit it from the slice).
func (f *FakeAdapter) SetResources(resources []InventoryResource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources = resources
}

// FailPlacementHook makes every subsequent PlacementHook call return err.
func (f *FakeAdapter) FailPlacementHook(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hookErr = err
}

func (f *FakeAdapter) PlacementHook(ctx context.Context, claim *model.Claim, placements map[string][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hookCalls = append(f.hookCalls, placementHookCall{ClaimID: claim.ID, Placements: placements})
	return f.hookErr
}

// PullCalls returns how many times Pull has been invoked.
func (f *FakeAdapter) PullCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pullCalls
}

// HookCalls returns every PlacementHook invocation recorded so far.
func (f *FakeAdapter) HookCalls() []placementHookCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]placementHookCall, len(f.hookCalls))
	copy(out, f.hookCalls)
	return out
}
