// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/meshwork/pkg/resilience"
	"github.com/jllopis/meshwork/pkg/transport"
)

// HealthStatus represents the health state of a service.
type HealthStatus string

const (
	// HealthHealthy indicates the service answered discovery.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded indicates the service answers but its breaker is not closed.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnhealthy indicates the service could not be reached.
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult is the health of one registered service.
type HealthResult struct {
	Service    string       `json:"service"`
	Status     HealthStatus `json:"status"`
	Breaker    string       `json:"breaker"`
	Operations int          `json:"operations"`
	Message    string       `json:"message,omitempty"`
	LastCheck  time.Time    `json:"lastCheck"`
}

// Health probes every service of the current snapshot concurrently and
// returns per-service results in catalog order plus the overall status,
// which is the worst of them. Without transports only breaker state is
// reported.
func (m *Mesh) Health(ctx context.Context) ([]HealthResult, HealthStatus) {
	services := m.registry.Snapshot().Services()
	results := make([]HealthResult, len(services))
	var wg sync.WaitGroup
	for i, d := range services {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := HealthResult{
				Service:    d.ID,
				Status:     HealthHealthy,
				Breaker:    string(m.invoker.Breaker(d.ID).State()),
				Operations: len(d.Operations),
				LastCheck:  time.Now(),
			}
			if m.transports != nil {
				t, err := m.transports.For(d.Transport, d.Address)
				if err == nil {
					var ops []transport.OperationSpec
					if ops, err = t.ListOperations(ctx, d.Address); err == nil {
						res.Operations = len(ops)
					}
				}
				if err != nil {
					res.Status = HealthUnhealthy
					res.Message = err.Error()
				}
			}
			if res.Status == HealthHealthy && res.Breaker != string(resilience.StateClosed) {
				res.Status = HealthDegraded
				res.Message = "circuit breaker " + res.Breaker
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	overall := HealthHealthy
	for _, r := range results {
		switch {
		case r.Status == HealthUnhealthy:
			overall = HealthUnhealthy
		case r.Status == HealthDegraded && overall == HealthHealthy:
			overall = HealthDegraded
		}
	}
	return results, overall
}
