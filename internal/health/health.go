// Package health aggregates per-subsystem health probes for the readiness
// endpoint. Subsystems (database, payment processor reachability) register
// a Checker; the server reports unready if any probe fails.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the outcome of a single subsystem probe.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker probes one subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named probes and runs them on demand.
type Registry struct {
	mu     sync.RWMutex
	probes []probe
}

type probe struct {
	name  string
	check Checker
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named probe. Registration order is report order.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.probes = append(r.probes, probe{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every registered probe and reports aggregate health plus
// the individual results, each stamped with how long it took.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	probes := make([]probe, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(probes))

	for i, p := range probes {
		start := time.Now()
		statuses[i] = p.check(ctx)
		statuses[i].LatencyMS = time.Since(start).Milliseconds()
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}
