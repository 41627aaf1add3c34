// Package controller implements the Controller Contract (C7): the
// provider-adapter interface spec.md §4.7 names (inventory_push,
// placement_hook, pull_interval), a periodic puller that drives it, and the
// cool-off breaker that withholds a resource from scheduling after a
// placement error.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/horao-fabric/fabric/internal/clock"
	"github.com/horao-fabric/fabric/internal/model"
	"github.com/horao-fabric/fabric/internal/observability"
)

// InventoryResource is one provider-side resource record an Adapter's Pull
// returns, pre-validation — the controller runs it through
// Model.UpsertResourceFromAdapter the same way a direct caller would run
// UpsertResource.
type InventoryResource struct {
	ID         string
	Kind       model.ResourceKind
	Capacity   map[string]float64
	Attributes map[string]string
}

// Adapter is the provider contract spec.md §4.7 names. Concrete cloud
// adapters (AWS, etc.) are external collaborators per §1 and live outside
// this module; FakeAdapter (fake.go) is the deterministic in-memory adapter
// used by the controller and fabric tests.
type Adapter interface {
	ID() string
	PullInterval() time.Duration
	Pull(ctx context.Context) ([]InventoryResource, error)
	PlacementHook(ctx context.Context, claim *model.Claim, placements map[string][]string) error
}

// Config tunes the grace period before an absent resource is tombstoned and
// the cool-off breaker's behavior.
type Config struct {
	GraceInterval  int // consecutive missed pushes before tombstone
	CoolOffTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.GraceInterval <= 0 {
		c.GraceInterval = 3
	}
	if c.CoolOffTimeout <= 0 {
		c.CoolOffTimeout = 5 * time.Minute
	}
	return c
}

// Controller runs the registered adapters' pull/placement-hook lifecycle
// against a shared Model — grounded on the teacher's
// internal/resilience.CircuitBreakerManager pattern for breaker lifecycle,
// generalized from a named-service registry to a per-resource one.
type Controller struct {
	model  *model.Model
	clock  *clock.HLC
	logger *zap.Logger
	cfg    Config

	mu       sync.Mutex
	adapters map[string]Adapter
	misses   map[string]map[string]int // adapterID -> resourceID -> consecutive misses
	breakers map[string]*gobreaker.CircuitBreaker

	metrics *observability.Metrics
}

// New creates a Controller bound to m.
func New(m *model.Model, hlc *clock.HLC, logger *zap.Logger, cfg Config) *Controller {
	return &Controller{
		model:    m,
		clock:    hlc,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		adapters: make(map[string]Adapter),
		misses:   make(map[string]map[string]int),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// WithMetrics attaches a Metrics sink; internal/fabric.Peer calls this once
// at construction. A Controller built without it (as every unit test does)
// simply records nothing.
func (c *Controller) WithMetrics(m *observability.Metrics) *Controller {
	c.metrics = m
	return c
}

// Register adds an adapter to the controller's pull rotation.
func (c *Controller) Register(a Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[a.ID()] = a
	c.misses[a.ID()] = make(map[string]int)
}

// Deregister removes an adapter; resources it previously tagged are left
// as-is — a later inventory_push from a differently-named adapter would
// need to re-claim them.
func (c *Controller) Deregister(adapterID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.adapters, adapterID)
	delete(c.misses, adapterID)
}

// Adapters returns the currently registered adapters, for the pull
// scheduler to iterate.
func (c *Controller) Adapters() []Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Adapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		out = append(out, a)
	}
	return out
}

// PullOnce runs one adapter's pull and applies spec.md §4.7's inventory_push
// semantics: every resource in the push is upserted tagged with the
// adapter's origin; any resource previously tagged with this origin that is
// absent from the push has its miss counter incremented, and is tombstoned
// once that counter reaches GraceInterval.
func (c *Controller) PullOnce(ctx context.Context, adapterID string) error {
	c.mu.Lock()
	a, ok := c.adapters[adapterID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	pushed, err := a.Pull(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("adapter pull failed", zap.String("adapter_id", adapterID), zap.Error(err))
		}
		if c.metrics != nil {
			c.metrics.ControllerPullsTotal.WithLabelValues(adapterID, "error").Inc()
		}
		return err
	}
	if c.metrics != nil {
		c.metrics.ControllerPullsTotal.WithLabelValues(adapterID, "ok").Inc()
	}

	seen := make(map[string]bool, len(pushed))
	for _, res := range pushed {
		if _, err := c.model.UpsertResourceFromAdapter(res.ID, res.Kind, res.Capacity, res.Attributes, adapterID); err != nil {
			if c.logger != nil {
				c.logger.Warn("inventory_push upsert failed", zap.String("adapter_id", adapterID), zap.String("resource_id", res.ID), zap.Error(err))
			}
			continue
		}
		seen[res.ID] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	misses := c.misses[adapterID]
	if misses == nil {
		misses = make(map[string]int)
		c.misses[adapterID] = misses
	}
	for k := range misses {
		if seen[k] {
			delete(misses, k)
		}
	}
	for _, r := range c.model.ResourcesByOrigin(adapterID) {
		if seen[r.ID] {
			continue
		}
		misses[r.ID]++
		if misses[r.ID] >= c.cfg.GraceInterval {
			if err := c.model.DecommissionResource(r.ID); err != nil {
				if c.logger != nil {
					c.logger.Warn("decommission failed", zap.String("resource_id", r.ID), zap.Error(err))
				}
			} else if c.metrics != nil {
				c.metrics.ResourcesDecommissionedTotal.Inc()
			}
			delete(misses, r.ID)
		}
	}
	return nil
}

// RunPullLoop runs PullOnce for adapter a on its PullInterval cadence until
// ctx is cancelled; the caller starts one such worker goroutine per adapter
// per spec.md §5's "one periodic pull task per controller."
func (c *Controller) RunPullLoop(ctx context.Context, a Adapter) {
	interval := a.PullInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.PullOnce(ctx, a.ID())
		}
	}
}

// breakerFor lazily creates the per-resource cool-off breaker, grounded on
// the teacher's GetCircuitBreaker lazy-registry pattern.
func (c *Controller) breakerFor(resourceID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[resourceID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "resource/" + resourceID,
		MaxRequests: 1,
		Timeout:     c.cfg.CoolOffTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.onBreakerStateChange(resourceID, from, to)
		},
	})
	c.breakers[resourceID] = cb
	return cb
}

func (c *Controller) onBreakerStateChange(resourceID string, from, to gobreaker.State) {
	switch to {
	case gobreaker.StateOpen:
		if err := c.model.SetResourceState(resourceID, model.StateDraining); err != nil && c.logger != nil {
			c.logger.Warn("cool-off drain failed", zap.String("resource_id", resourceID), zap.Error(err))
		}
	case gobreaker.StateClosed:
		if err := c.model.SetResourceState(resourceID, model.StateActive); err != nil && c.logger != nil {
			c.logger.Warn("cool-off recovery failed", zap.String("resource_id", resourceID), zap.Error(err))
		}
	}
}

// RunPlacementHook fires an adapter's placement_hook when claim enters
// placed, routed through that claim's resources' cool-off breakers: an
// error reverts the claim to admitted and the offending resources drain for
// the configured cool-off window (§4.7/§7's ControllerError).
func (c *Controller) RunPlacementHook(ctx context.Context, a Adapter, claim *model.Claim, placements map[string][]string) error {
	var resourceIDs []string
	for _, ids := range placements {
		resourceIDs = append(resourceIDs, ids...)
	}

	err := a.PlacementHook(ctx, claim, placements)
	if err != nil {
		for _, rid := range resourceIDs {
			_, _ = c.breakerFor(rid).Execute(func() (any, error) { return nil, err })
		}
		claim.Status.Set(model.StatusAdmitted, c.clock.Now())
		if c.metrics != nil {
			c.metrics.ControllerPlacementErrorsTotal.WithLabelValues(a.ID()).Inc()
		}
		return err
	}

	for _, rid := range resourceIDs {
		_, _ = c.breakerFor(rid).Execute(func() (any, error) { return nil, nil })
	}
	return nil
}
