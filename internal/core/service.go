// Package core wires the object store engine: the template engine, the
// instance factory, the action dispatcher, and the query surface exposed to
// collaborators. All mutation funnels through the Service into the
// persistence layer's transaction interface, which enforces the audit and
// soft-delete contract centrally.
package core

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"objectcore/pkg/domain"
)

// DefaultMaxDepth bounds recursive child instantiation. It is the sole
// cycle-prevention mechanism; the data model itself permits cycles.
const DefaultMaxDepth = 10

// handlerRegistry holds action handlers shared across session-scoped service
// copies.
type handlerRegistry struct {
	mu sync.RWMutex
	m  map[string]ActionHandler
}

// Service exposes the transactional operations of the object store.
type Service struct {
	store    domain.PersistentStore
	registry *domain.SubtypeRegistry
	cache    *gocache.Cache
	handlers *handlerRegistry
	logger   *slog.Logger
	metrics  MetricsRecorder

	maxDepth      int
	recordActions bool
	actor         string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithSubtypeRegistry replaces the discriminator registry consulted during
// template loading.
func WithSubtypeRegistry(registry *domain.SubtypeRegistry) Option {
	return func(s *Service) { s.registry = registry }
}

// WithMaxDepth overrides the recursion guard for child instantiation.
func WithMaxDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// WithActionRecords toggles first-class Action-Instance records for executed
// actions.
func WithActionRecords(enabled bool) Option {
	return func(s *Service) { s.recordActions = enabled }
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		registry: domain.DefaultSubtypeRegistry(),
		cache:    gocache.New(gocache.NoExpiration, 0),
		handlers: &handlerRegistry{m: make(map[string]ActionHandler)},
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	return s
}

// WithActor returns a session-scoped copy of the service carrying the acting
// identity consumed by the audit layer. The copy shares the store, cache, and
// handler registry. An empty actor degrades to the system identity.
func (s *Service) WithActor(actor string) *Service {
	scoped := *s
	scoped.actor = strings.TrimSpace(actor)
	return &scoped
}

// Actor returns the session identity, or the system identity when unset.
func (s *Service) Actor() string {
	if s.actor == "" {
		return "system"
	}
	return s.actor
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

func (s *Service) run(ctx context.Context, fn func(Transaction) error) ([]AuditRecord, error) {
	records, err := s.store.RunInTransaction(ctx, s.actor, fn)
	if err != nil {
		return nil, err
	}
	s.metrics.AuditRecorded(len(records))
	return records, nil
}

// GetTemplate resolves a template by internal id, including deleted rows.
func (s *Service) GetTemplate(ctx context.Context, id string) (Template, error) {
	var out Template
	err := s.store.View(ctx, func(v TransactionView) error {
		t, ok := v.FindTemplate(id)
		if !ok {
			return domain.ErrNotFound{Entity: EntityTemplate, Ref: id}
		}
		out = t
		return nil
	})
	return out, err
}

// GetInstance resolves a live instance by internal id.
func (s *Service) GetInstance(ctx context.Context, id string) (Instance, error) {
	return s.getInstance(ctx, id, false)
}

// GetInstanceIncludingDeleted resolves an instance regardless of its deletion
// flag, for audit-style views.
func (s *Service) GetInstanceIncludingDeleted(ctx context.Context, id string) (Instance, error) {
	return s.getInstance(ctx, id, true)
}

func (s *Service) getInstance(ctx context.Context, id string, includeDeleted bool) (Instance, error) {
	var out Instance
	err := s.store.View(ctx, func(v TransactionView) error {
		i, ok := v.FindInstance(id)
		if !ok || (i.Deleted() && !includeDeleted) {
			return domain.ErrNotFound{Entity: EntityInstance, Ref: id}
		}
		out = i
		return nil
	})
	return out, err
}

// GetInstanceByEUID resolves a live instance by its enterprise identifier.
func (s *Service) GetInstanceByEUID(ctx context.Context, euid string) (Instance, error) {
	var out Instance
	err := s.store.View(ctx, func(v TransactionView) error {
		i, ok := v.FindInstanceByEUID(euid)
		if !ok {
			return domain.ErrNotFound{Entity: EntityInstance, Ref: euid}
		}
		out = i
		return nil
	})
	return out, err
}

// GetByEUID resolves a live template or instance by its enterprise
// identifier.
func (s *Service) GetByEUID(ctx context.Context, euid string) (any, error) {
	var out any
	err := s.store.View(ctx, func(v TransactionView) error {
		if i, ok := v.FindInstanceByEUID(euid); ok {
			out = i
			return nil
		}
		if t, ok := v.FindTemplateByEUID(euid); ok {
			out = t
			return nil
		}
		return domain.ErrNotFound{Entity: EntityInstance, Ref: euid}
	})
	return out, err
}

// ListInstances returns live instances, optionally filtered by a type path
// prefix such as "container/plate".
func (s *Service) ListInstances(ctx context.Context, opts ListOptions) ([]Instance, error) {
	var out []Instance
	err := s.store.View(ctx, func(v TransactionView) error {
		out = v.ListInstances(opts)
		return nil
	})
	return out, err
}

// Children returns the outgoing lineage edges of an instance together with
// the child instances. Soft-deleted edges and endpoints are excluded unless
// opted in.
func (s *Service) Children(ctx context.Context, instanceID string, opts ListOptions) ([]LineageEdge, []Instance, error) {
	return s.traverse(ctx, instanceID, opts, true)
}

// Parents returns the incoming lineage edges and parent instances.
func (s *Service) Parents(ctx context.Context, instanceID string, opts ListOptions) ([]LineageEdge, []Instance, error) {
	return s.traverse(ctx, instanceID, opts, false)
}

func (s *Service) traverse(ctx context.Context, instanceID string, opts ListOptions, children bool) ([]LineageEdge, []Instance, error) {
	var edges []LineageEdge
	var nodes []Instance
	err := s.store.View(ctx, func(v TransactionView) error {
		if _, ok := v.FindInstance(instanceID); !ok {
			return domain.ErrNotFound{Entity: EntityInstance, Ref: instanceID}
		}
		if children {
			edges = v.ChildrenOf(instanceID, opts)
		} else {
			edges = v.ParentsOf(instanceID, opts)
		}
		for _, e := range edges {
			endpoint := e.ChildID
			if !children {
				endpoint = e.ParentID
			}
			if node, ok := v.FindInstance(endpoint); ok {
				nodes = append(nodes, node)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return edges, nodes, nil
}

// AuditTrail returns the append-only audit records for one entity.
func (s *Service) AuditTrail(ctx context.Context, entity EntityType, id string) ([]AuditRecord, error) {
	var out []AuditRecord
	err := s.store.View(ctx, func(v TransactionView) error {
		out = v.AuditTrail(entity, id)
		return nil
	})
	return out, err
}

// UpdateInstanceDoc mutates an instance's document through the audited write
// path.
func (s *Service) UpdateInstanceDoc(ctx context.Context, id string, mutator func(*Instance) error) (Instance, error) {
	var updated Instance
	_, err := s.run(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateInstance(id, mutator)
		return err
	})
	if err != nil {
		return Instance{}, err
	}
	return updated, nil
}

// SoftDeleteInstance flips an instance's deletion flag. The row and its audit
// trail remain retrievable through the include-deleted path.
func (s *Service) SoftDeleteInstance(ctx context.Context, id string) error {
	_, err := s.run(ctx, func(tx Transaction) error {
		return tx.SoftDeleteInstance(id)
	})
	return err
}

// SoftDeleteEdge flips an edge's deletion flag without touching its
// endpoints.
func (s *Service) SoftDeleteEdge(ctx context.Context, id string) error {
	_, err := s.run(ctx, func(tx Transaction) error {
		return tx.SoftDeleteEdge(id)
	})
	return err
}
