// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package registry tracks the set of scanner instances grouped into pools,
// selects a least-loaded instance for each dispatch, and gates calls to
// struggling instances behind a per-instance circuit breaker.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/nessorch/orchestrator/internal/pkg/errors"
	"github.com/nessorch/orchestrator/internal/pkg/logger"
	"github.com/nessorch/orchestrator/internal/scanner"
)

// InstanceConfig describes one configured scanner instance.
type InstanceConfig struct {
	ID               string
	Pool             string
	BaseURL          string
	Enabled          bool
	VerifyTLS        bool
	MaxConcurrent    int64
	Breaker          BreakerSettings
	AccessKey        string
	SecretKey        string
	Username         string
	Password         string
	PolicyTemplateID map[string]string
}

// PoolConfig groups instances under a pool name. MaxConcurrent records a
// pool-wide cap, but Load and Select do not enforce it; only each instance's
// own MaxConcurrent limits reservations.
type PoolConfig struct {
	Name          string
	MaxConcurrent int64
	Instances     []InstanceConfig
}

// Instance is a live, reservable scanner backend connection.
type Instance struct {
	ID            string
	Pool          string
	Enabled       bool
	MaxConcurrent int64
	active        atomic.Int64
	backend       scanner.Backend
	breaker       *breaker
}

// Utilization returns active/max as a float in [0, 1] (or more, if over
// capacity momentarily during a race window); used by Select to find the
// least-loaded candidate.
func (i *Instance) Utilization() float64 {
	if i.MaxConcurrent <= 0 {
		return 1
	}
	return float64(i.active.Load()) / float64(i.MaxConcurrent)
}

// ActiveScans returns the current reservation count.
func (i *Instance) ActiveScans() int64 { return i.active.Load() }

// BreakerState reports the instance's circuit breaker state ("closed",
// "half-open", "open").
func (i *Instance) BreakerState() string { return i.breaker.state() }

// Backend returns the instance's backend client for use by the worker once
// an instance has been reserved.
func (i *Instance) Backend() scanner.Backend { return i.backend }

// poolTable is the full registry snapshot, swapped atomically on reload so
// readers never observe a half-updated pool set.
type poolTable struct {
	pools map[string][]*Instance
}

// BackendFactory builds a scanner.Backend for a configured instance. Production
// wiring passes nessus.New; tests pass a factory returning a fake.Backend.
type BackendFactory func(InstanceConfig) scanner.Backend

// Registry is the ScannerRegistry of the orchestrator: load, select,
// reserve/release, snapshot, and hot reload.
type Registry struct {
	table   atomic.Pointer[poolTable]
	factory BackendFactory
	log     logger.Logger
	mu      sync.Mutex // serializes Load/reload swaps; readers never block on this
}

// New constructs an empty Registry. Call Load to populate it before use.
func New(factory BackendFactory, log logger.Logger) *Registry {
	r := &Registry{factory: factory, log: log}
	r.table.Store(&poolTable{pools: map[string][]*Instance{}})
	return r
}

// Load replaces the entire pool/instance table atomically. Existing
// reservations on surviving instances are preserved by carrying over their
// *Instance objects (matched by ID) rather than rebuilding active counts
// from zero, so an in-flight scan's capacity accounting survives a reload.
func (r *Registry) Load(pools []PoolConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.table.Load()
	oldByID := map[string]*Instance{}
	if old != nil {
		for _, instances := range old.pools {
			for _, inst := range instances {
				oldByID[inst.ID] = inst
			}
		}
	}

	next := &poolTable{pools: map[string][]*Instance{}}
	for _, pc := range pools {
		var instances []*Instance
		for _, ic := range pc.Instances {
			if ic.MaxConcurrent <= 0 {
				return errors.NewInvalidInput("instance " + ic.ID + " must have max_concurrent > 0")
			}
			if existing, ok := oldByID[ic.ID]; ok {
				existing.MaxConcurrent = ic.MaxConcurrent
				existing.Enabled = ic.Enabled
				instances = append(instances, existing)
				continue
			}
			bset := ic.Breaker
			if bset == (BreakerSettings{}) {
				bset = DefaultBreakerSettings()
			}
			instances = append(instances, &Instance{
				ID:            ic.ID,
				Pool:          pc.Name,
				Enabled:       ic.Enabled,
				MaxConcurrent: ic.MaxConcurrent,
				backend:       r.factory(ic),
				breaker:       newBreaker(ic.ID, bset),
			})
		}
		next.pools[pc.Name] = instances
	}

	r.table.Store(next)
	if r.log != nil {
		r.log.Info("registry reloaded: %d pools", len(next.pools))
	}
	return nil
}

// Select returns the least-utilized instance in a pool whose breaker is not
// open, honoring an optional operator-forced instance pin. Returns
// errors.ErrPoolSaturated if every candidate is over capacity or
// errors.ErrCircuitOpen if the only pinned instance has an open breaker.
func (r *Registry) Select(pool, pin string) (*Instance, error) {
	table := r.table.Load()
	instances, ok := table.pools[pool]
	if !ok || len(instances) == 0 {
		return nil, errors.ErrPoolNotFound
	}

	if pin != "" {
		for _, inst := range instances {
			if inst.ID == pin {
				if !inst.Enabled {
					return nil, errors.ErrInstanceNotFound
				}
				if inst.BreakerState() == "open" {
					return nil, errors.ErrCircuitOpen
				}
				if inst.Utilization() >= 1 {
					return nil, errors.ErrPoolSaturated
				}
				return inst, nil
			}
		}
		return nil, errors.ErrInstanceNotFound
	}

	var best *Instance
	for _, inst := range instances {
		if !inst.Enabled {
			continue
		}
		if inst.BreakerState() == "open" {
			continue
		}
		if inst.Utilization() >= 1 {
			continue
		}
		if best == nil || inst.Utilization() < best.Utilization() {
			best = inst
		}
	}
	if best == nil {
		return nil, errors.ErrPoolSaturated
	}
	return best, nil
}

// Reserve atomically claims one concurrency slot on inst, compare-and-swap
// style so concurrent dispatchers never oversubscribe an instance.
func (inst *Instance) Reserve() bool {
	for {
		cur := inst.active.Load()
		if cur >= inst.MaxConcurrent {
			return false
		}
		if inst.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns one concurrency slot to inst.
func (inst *Instance) Release() {
	for {
		cur := inst.active.Load()
		if cur <= 0 {
			return
		}
		if inst.active.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// AllowCall consults the instance's circuit breaker before a backend call;
// the returned report func must be invoked with the outcome.
func (inst *Instance) AllowCall() (report func(success bool), err error) {
	return inst.breaker.allow()
}

// Snapshot is a read-only view of one instance's state, for status APIs.
type Snapshot struct {
	ID            string `json:"id"`
	Pool          string `json:"pool"`
	Enabled       bool   `json:"enabled"`
	MaxConcurrent int64  `json:"maxConcurrent"`
	ActiveScans   int64  `json:"activeScans"`
	BreakerState  string `json:"breakerState"`
}

// SnapshotPool returns a read-only view of every instance in a pool.
func (r *Registry) SnapshotPool(pool string) ([]Snapshot, error) {
	table := r.table.Load()
	instances, ok := table.pools[pool]
	if !ok {
		return nil, errors.ErrPoolNotFound
	}
	out := make([]Snapshot, 0, len(instances))
	for _, inst := range instances {
		out = append(out, Snapshot{
			ID:            inst.ID,
			Pool:          inst.Pool,
			Enabled:       inst.Enabled,
			MaxConcurrent: inst.MaxConcurrent,
			ActiveScans:   inst.ActiveScans(),
			BreakerState:  inst.BreakerState(),
		})
	}
	return out, nil
}

// Pools returns the names of every configured pool, for list_pools.
func (r *Registry) Pools() []string {
	table := r.table.Load()
	names := make([]string, 0, len(table.pools))
	for name := range table.pools {
		names = append(names, name)
	}
	return names
}
