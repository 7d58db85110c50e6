// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/telemetry"
	"github.com/jllopis/meshwork/pkg/transport"
)

// TransportResolver picks the transport for an endpoint.
type TransportResolver interface {
	For(name, address string) (transport.Transport, error)
}

// Registry owns the current catalog snapshot. Register, Refresh and
// Deregister build a new snapshot and publish it atomically; readers
// calling Snapshot never block and never observe a partial update.
type Registry struct {
	transports TransportResolver
	current    atomic.Pointer[Catalog]

	writeMu sync.Mutex
	seq     map[string]uint64
	nextSeq uint64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.MeshMetrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithDiscoveryTimeout bounds each discovery call.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records discovery metrics.
func WithMetrics(m *telemetry.MeshMetrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithClock overrides the time source used for DiscoveredAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry returns an empty registry discovering through transports.
func NewRegistry(transports TransportResolver, opts ...Option) *Registry {
	r := &Registry{
		transports: transports,
		seq:        make(map[string]uint64),
		locks:      make(map[string]*sync.Mutex),
		timeout:    5 * time.Second,
		now:        time.Now,
		logger:     slog.Default(),
		tracer:     otel.Tracer("meshwork/catalog"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(Empty())
	return r
}

// Snapshot returns the current catalog. It is never nil.
func (r *Registry) Snapshot() *Catalog {
	return r.current.Load()
}

// Register discovers the operations of the service at ep and publishes a
// snapshot containing it. A service registered again keeps its position
// in registration order. Unreachable services and malformed operation
// lists produce a DISCOVERY_ERROR and leave the catalog unchanged.
func (r *Registry) Register(ctx context.Context, ep Endpoint) (*ServiceDescriptor, error) {
	r.reserve(ep.ServiceID)
	return r.register(ctx, ep, false)
}

// RegisterAll registers endpoints concurrently. Registration order follows
// the order of endpoints regardless of which discovery finishes first.
// Failures are joined; successful services are still published.
func (r *Registry) RegisterAll(ctx context.Context, endpoints []Endpoint) error {
	for _, ep := range endpoints {
		r.reserve(ep.ServiceID)
	}
	return r.each(ctx, endpoints, false)
}

// Refresh re-discovers a registered service and swaps in the new
// descriptor. On failure the previous descriptor stays published. A
// service deregistered while the refresh waits for it is not brought back.
func (r *Registry) Refresh(ctx context.Context, serviceID string) (*ServiceDescriptor, error) {
	desc, ok := r.Snapshot().Service(serviceID)
	if !ok {
		return nil, notRegistered(serviceID)
	}
	return r.register(ctx, desc.Endpoint(), true)
}

// RefreshAll re-discovers every registered service concurrently. Services
// deregistered meanwhile are skipped.
func (r *Registry) RefreshAll(ctx context.Context) error {
	services := r.Snapshot().Services()
	endpoints := make([]Endpoint, len(services))
	for i, d := range services {
		endpoints[i] = d.Endpoint()
	}
	return r.each(ctx, endpoints, true)
}

func notRegistered(serviceID string) *errors.MeshError {
	return errors.New(errors.CodeNotFound, "service not registered", nil).
		WithContext("service", serviceID)
}

// Deregister removes a service. It reports whether the service was present.
func (r *Registry) Deregister(serviceID string) bool {
	lock := r.serviceLock(serviceID)
	lock.Lock()
	defer lock.Unlock()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.current.Load()
	_, present := cur.services[serviceID]
	delete(r.seq, serviceID)
	if !present {
		return false
	}
	services := make(map[string]*ServiceDescriptor, len(cur.services))
	for id, d := range cur.services {
		if id != serviceID {
			services[id] = d
		}
	}
	r.current.Store(newCatalog(cur.version+1, services, r.orderLocked(services)))
	r.logger.Info("catalog.service.deregistered", slog.String("service", serviceID))
	return true
}

func (r *Registry) each(ctx context.Context, endpoints []Endpoint, refresh bool) error {
	errs := make([]error, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep Endpoint) {
			defer wg.Done()
			_, err := r.register(ctx, ep, refresh)
			if refresh && errors.HasCode(err, errors.CodeNotFound) {
				err = nil
			}
			errs[i] = err
		}(i, ep)
	}
	wg.Wait()
	return stderrors.Join(errs...)
}

func (r *Registry) reserve(serviceID string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, ok := r.seq[serviceID]; !ok {
		r.nextSeq++
		r.seq[serviceID] = r.nextSeq
	}
}

func (r *Registry) serviceLock(serviceID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[serviceID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[serviceID] = l
	}
	return l
}

// register discovers ep under the service lock. With refresh set the
// service must still be registered once the lock is held.
func (r *Registry) register(ctx context.Context, ep Endpoint, refresh bool) (*ServiceDescriptor, error) {
	lock := r.serviceLock(ep.ServiceID)
	lock.Lock()
	defer lock.Unlock()

	if refresh {
		if _, ok := r.Snapshot().Service(ep.ServiceID); !ok {
			return nil, notRegistered(ep.ServiceID)
		}
	}

	ctx, span := r.tracer.Start(ctx, "catalog.discover",
		trace.WithAttributes(telemetry.ServiceAttributes(ep.ServiceID, ep.Address, ep.Transport, 0)...),
	)
	defer span.End()

	desc, err := r.discover(ctx, ep)
	r.metrics.RecordDiscovery(ctx, ep.ServiceID, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordError(ctx, err, "catalog")
		r.logger.WarnContext(ctx, "catalog.register.failed",
			slog.String("service", ep.ServiceID),
			slog.String("address", ep.Address),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if !r.publish(desc, refresh) {
		return nil, notRegistered(desc.ID)
	}
	span.SetAttributes(telemetry.ServiceAttributes(desc.ID, desc.Address, desc.Transport, len(desc.Operations))...)
	r.logger.InfoContext(ctx, "catalog.service.registered",
		slog.String("service", desc.ID),
		slog.String("transport", desc.Transport),
		slog.Int("operations", len(desc.Operations)),
	)
	return desc, nil
}

func (r *Registry) discover(ctx context.Context, ep Endpoint) (*ServiceDescriptor, error) {
	t, err := r.transports.For(ep.Transport, ep.Address)
	if err != nil {
		return nil, errors.New(errors.CodeDiscovery, "no transport for service", err).
			WithContext("service", ep.ServiceID).
			WithContext("address", ep.Address)
	}
	ep.Transport = t.Name()

	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	specs, err := t.ListOperations(dctx, ep.Address)
	if err != nil {
		return nil, errors.New(errors.CodeDiscovery, "service unreachable or rejected discovery", err).
			WithContext("service", ep.ServiceID).
			WithContext("address", ep.Address)
	}
	return BuildDescriptor(ep, specs, r.now())
}

// publish swaps in a snapshot containing desc. A refresh of a service
// whose sequence was dropped by Deregister publishes nothing.
func (r *Registry) publish(desc *ServiceDescriptor, refresh bool) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, ok := r.seq[desc.ID]; !ok {
		if refresh {
			return false
		}
		r.nextSeq++
		r.seq[desc.ID] = r.nextSeq
	}
	cur := r.current.Load()
	services := make(map[string]*ServiceDescriptor, len(cur.services)+1)
	for id, d := range cur.services {
		services[id] = d
	}
	services[desc.ID] = desc
	r.current.Store(newCatalog(cur.version+1, services, r.orderLocked(services)))
	return true
}

// orderLocked returns the ids of services sorted by registration sequence.
// Must be called with writeMu held.
func (r *Registry) orderLocked(services map[string]*ServiceDescriptor) []string {
	ids := make([]string, 0, len(services))
	for id := range services {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.seq[ids[i]] < r.seq[ids[j]]
	})
	return ids
}
