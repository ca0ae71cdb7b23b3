// Package memory provides the in-memory implementation of the object store
// used for tests and ephemeral environments. Durable backends wrap it and
// persist its snapshots.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"objectcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain
// persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Template aliases domain.Template for in-memory persistence operations.
	Template = domain.Template
	// Instance aliases domain.Instance.
	Instance = domain.Instance
	// LineageEdge aliases domain.LineageEdge.
	LineageEdge = domain.LineageEdge
	// AuditRecord aliases domain.AuditRecord.
	AuditRecord = domain.AuditRecord
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// ListOptions aliases domain.ListOptions.
	ListOptions = domain.ListOptions
)

// SystemActor is recorded when a mutation arrives without a session identity.
const SystemActor = "system"

type memoryState struct {
	templates map[string]Template
	instances map[string]Instance
	edges     map[string]LineageEdge
	sequences map[string]uint64
	audit     []AuditRecord
}

// Snapshot captures a point-in-time clone of the store state, including the
// identifier sequences and the audit trail, so durable backends can persist
// and rehydrate the full store.
type Snapshot struct {
	Templates map[string]Template    `json:"templates"`
	Instances map[string]Instance    `json:"instances"`
	Edges     map[string]LineageEdge `json:"edges"`
	Sequences map[string]uint64      `json:"sequences"`
	Audit     []AuditRecord          `json:"audit"`
}

func newMemoryState() memoryState {
	return memoryState{
		templates: make(map[string]Template),
		instances: make(map[string]Instance),
		edges:     make(map[string]LineageEdge),
		sequences: make(map[string]uint64),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.templates {
		cloned.templates[k] = v.Clone()
	}
	for k, v := range s.instances {
		cloned.instances[k] = v.Clone()
	}
	for k, v := range s.edges {
		cloned.edges[k] = v.Clone()
	}
	for k, v := range s.sequences {
		cloned.sequences[k] = v
	}
	cloned.audit = append([]AuditRecord(nil), s.audit...)
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Templates: make(map[string]Template, len(state.templates)),
		Instances: make(map[string]Instance, len(state.instances)),
		Edges:     make(map[string]LineageEdge, len(state.edges)),
		Sequences: make(map[string]uint64, len(state.sequences)),
		Audit:     append([]AuditRecord(nil), state.audit...),
	}
	for k, v := range state.templates {
		s.Templates[k] = v.Clone()
	}
	for k, v := range state.instances {
		s.Instances[k] = v.Clone()
	}
	for k, v := range state.edges {
		s.Edges[k] = v.Clone()
	}
	for k, v := range state.sequences {
		s.Sequences[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Templates {
		state.templates[k] = v.Clone()
	}
	for k, v := range s.Instances {
		state.instances[k] = v.Clone()
	}
	for k, v := range s.Edges {
		state.edges[k] = v.Clone()
	}
	for k, v := range s.Sequences {
		state.sequences[k] = v
	}
	state.audit = append([]AuditRecord(nil), s.Audit...)
	return state
}

// Store provides an in-memory transactional object store.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	nowFn func() time.Time
	idFn  func() string
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
		idFn:  uuid.NewString,
	}
}

// SetNowFunc overrides the time provider, for deterministic tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// transaction is a mutation set applied to a cloned copy of the store state.
// Nothing is visible to other callers until commit.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// RunInTransaction executes fn against a transactional copy of the store
// state. On success the recorded changes are converted to audit records
// stamped with the actor and the state swap makes everything visible at once;
// on error no partial side effects survive.
func (s *Store) RunInTransaction(_ context.Context, actor string, fn func(tx Transaction) error) ([]AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(actor) == "" {
		actor = SystemActor
	}
	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return nil, err
	}

	records, err := auditRecords(tx.changes, actor, tx.now, s.idFn)
	if err != nil {
		return nil, fmt.Errorf("memory: derive audit records: %w", err)
	}
	tx.state.audit = append(tx.state.audit, records...)
	s.state = tx.state
	return records, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.state.clone()
	return fn(transactionView{state: &snapshot})
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return transactionView{state: &tx.state}
}

// IssueEUID allocates the next sequence value for the prefix, creating the
// counter on first use. Counters are never reused or reset; an invalid prefix
// degrades to the generic prefix rather than failing the creation.
func (tx *transaction) IssueEUID(prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if !domain.ValidPrefix(prefix) {
		prefix = domain.DefaultPrefix
	}
	next := tx.state.sequences[prefix] + 1
	tx.state.sequences[prefix] = next
	return fmt.Sprintf("%s%d", prefix, next), nil
}

// CreateTemplate stores a new template within the transaction.
func (tx *transaction) CreateTemplate(t Template) (Template, error) {
	if t.ID == "" {
		t.ID = tx.store.idFn()
	}
	if _, exists := tx.state.templates[t.ID]; exists {
		return Template{}, domain.ErrIntegrityViolation{Entity: domain.EntityTemplate, Ref: t.ID, Reason: "id already exists"}
	}
	if existing, ok := findLiveTemplateByPath(&tx.state, t.Path); ok {
		return Template{}, domain.ErrIntegrityViolation{
			Entity: domain.EntityTemplate,
			Ref:    t.Path.String(),
			Reason: fmt.Sprintf("type path already claimed by template %s", existing.ID),
		}
	}
	if t.Status == "" {
		t.Status = domain.TemplateActive
	}
	if t.EUID == "" {
		euid, err := tx.IssueEUID(t.Prefix)
		if err != nil {
			return Template{}, err
		}
		t.EUID = euid
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	t.DeletedAt = nil
	tx.state.templates[t.ID] = t.Clone()
	tx.recordChange(Change{Entity: domain.EntityTemplate, EntityID: t.ID, Action: domain.ActionCreate, After: t.Clone()})
	return t.Clone(), nil
}

// UpdateTemplate mutates a template. Only status/deprecation style changes are
// expected; deleted templates are frozen.
func (tx *transaction) UpdateTemplate(id string, mutator func(*Template) error) (Template, error) {
	current, ok := tx.state.templates[id]
	if !ok {
		return Template{}, domain.ErrNotFound{Entity: domain.EntityTemplate, Ref: id}
	}
	if current.Deleted() {
		return Template{}, domain.ErrIntegrityViolation{Entity: domain.EntityTemplate, Ref: id, Reason: "record is deleted and frozen"}
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return Template{}, err
	}
	current.ID = id
	current.DeletedAt = before.DeletedAt
	if current.Path != before.Path {
		if _, taken := findLiveTemplateByPath(&tx.state, current.Path); taken {
			return Template{}, domain.ErrIntegrityViolation{Entity: domain.EntityTemplate, Ref: current.Path.String(), Reason: "type path already claimed"}
		}
	}
	current.UpdatedAt = tx.now
	tx.state.templates[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityTemplate, EntityID: id, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// SoftDeleteTemplate flips the deletion flag. The row remains present and
// frozen; physical deletion does not exist.
func (tx *transaction) SoftDeleteTemplate(id string) error {
	current, ok := tx.state.templates[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityTemplate, Ref: id}
	}
	if current.Deleted() {
		return domain.ErrIntegrityViolation{Entity: domain.EntityTemplate, Ref: id, Reason: "already deleted"}
	}
	before := current.Clone()
	at := tx.now
	current.DeletedAt = &at
	current.UpdatedAt = tx.now
	tx.state.templates[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityTemplate, EntityID: id, Action: domain.ActionDelete, Before: before, After: current.Clone()})
	return nil
}

// CreateInstance stores a new instance. The owning template must exist and be
// live, and the denormalized path/subtype must match it.
func (tx *transaction) CreateInstance(i Instance) (Instance, error) {
	if i.ID == "" {
		i.ID = tx.store.idFn()
	}
	if _, exists := tx.state.instances[i.ID]; exists {
		return Instance{}, domain.ErrIntegrityViolation{Entity: domain.EntityInstance, Ref: i.ID, Reason: "id already exists"}
	}
	tmpl, ok := tx.state.templates[i.TemplateID]
	if !ok {
		return Instance{}, domain.ErrNotFound{Entity: domain.EntityTemplate, Ref: i.TemplateID}
	}
	if tmpl.Deleted() {
		return Instance{}, domain.ErrIntegrityViolation{Entity: domain.EntityInstance, Ref: i.ID, Reason: "owning template is deleted"}
	}
	if i.Path.IsZero() {
		i.Path = tmpl.Path
	}
	if i.Subtype == "" {
		i.Subtype = tmpl.Subtype
	}
	if i.Path != tmpl.Path || i.Subtype != tmpl.Subtype {
		return Instance{}, domain.ErrIntegrityViolation{
			Entity: domain.EntityInstance,
			Ref:    i.ID,
			Reason: "type path or subtype inconsistent with owning template",
		}
	}
	if i.Status == "" {
		i.Status = domain.StatusActive
	}
	if i.EUID == "" {
		euid, err := tx.IssueEUID(tmpl.Prefix)
		if err != nil {
			return Instance{}, err
		}
		i.EUID = euid
	}
	i.CreatedAt = tx.now
	i.UpdatedAt = tx.now
	i.DeletedAt = nil
	tx.state.instances[i.ID] = i.Clone()
	tx.recordChange(Change{Entity: domain.EntityInstance, EntityID: i.ID, Action: domain.ActionCreate, After: i.Clone()})
	return i.Clone(), nil
}

// UpdateInstance mutates an instance. The template reference is immutable and
// deleted rows are frozen.
func (tx *transaction) UpdateInstance(id string, mutator func(*Instance) error) (Instance, error) {
	current, ok := tx.state.instances[id]
	if !ok {
		return Instance{}, domain.ErrNotFound{Entity: domain.EntityInstance, Ref: id}
	}
	if current.Deleted() {
		return Instance{}, domain.ErrIntegrityViolation{Entity: domain.EntityInstance, Ref: id, Reason: "record is deleted and frozen"}
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return Instance{}, err
	}
	current.ID = id
	current.DeletedAt = before.DeletedAt
	if current.TemplateID != before.TemplateID {
		return Instance{}, domain.ErrIntegrityViolation{Entity: domain.EntityInstance, Ref: id, Reason: "template reference is immutable"}
	}
	current.UpdatedAt = tx.now
	tx.state.instances[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityInstance, EntityID: id, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// SoftDeleteInstance flips the deletion flag and freezes the row.
func (tx *transaction) SoftDeleteInstance(id string) error {
	current, ok := tx.state.instances[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityInstance, Ref: id}
	}
	if current.Deleted() {
		return domain.ErrIntegrityViolation{Entity: domain.EntityInstance, Ref: id, Reason: "already deleted"}
	}
	before := current.Clone()
	at := tx.now
	current.DeletedAt = &at
	current.UpdatedAt = tx.now
	tx.state.instances[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityInstance, EntityID: id, Action: domain.ActionDelete, Before: before, After: current.Clone()})
	return nil
}

// CreateEdge stores a directed relationship. Both endpoints must reference
// live instances at creation time. Nothing here forbids cycles; cycle
// prevention is the instance factory's depth guard.
func (tx *transaction) CreateEdge(e LineageEdge) (LineageEdge, error) {
	if e.ID == "" {
		e.ID = tx.store.idFn()
	}
	if _, exists := tx.state.edges[e.ID]; exists {
		return LineageEdge{}, domain.ErrIntegrityViolation{Entity: domain.EntityLineageEdge, Ref: e.ID, Reason: "id already exists"}
	}
	if e.Relation == "" {
		return LineageEdge{}, domain.ErrIntegrityViolation{Entity: domain.EntityLineageEdge, Ref: e.ID, Reason: "relation label is required"}
	}
	for _, endpoint := range []string{e.ParentID, e.ChildID} {
		inst, ok := tx.state.instances[endpoint]
		if !ok {
			return LineageEdge{}, domain.ErrNotFound{Entity: domain.EntityInstance, Ref: endpoint}
		}
		if inst.Deleted() {
			return LineageEdge{}, domain.ErrIntegrityViolation{Entity: domain.EntityLineageEdge, Ref: e.ID, Reason: fmt.Sprintf("endpoint %s is deleted", endpoint)}
		}
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	e.DeletedAt = nil
	tx.state.edges[e.ID] = e.Clone()
	tx.recordChange(Change{Entity: domain.EntityLineageEdge, EntityID: e.ID, Action: domain.ActionCreate, After: e.Clone()})
	return e.Clone(), nil
}

// SoftDeleteEdge flips the deletion flag on an edge without touching its
// endpoints.
func (tx *transaction) SoftDeleteEdge(id string) error {
	current, ok := tx.state.edges[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityLineageEdge, Ref: id}
	}
	if current.Deleted() {
		return domain.ErrIntegrityViolation{Entity: domain.EntityLineageEdge, Ref: id, Reason: "already deleted"}
	}
	before := current.Clone()
	at := tx.now
	current.DeletedAt = &at
	current.UpdatedAt = tx.now
	tx.state.edges[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityLineageEdge, EntityID: id, Action: domain.ActionDelete, Before: before, After: current.Clone()})
	return nil
}

// FindTemplate exposes template lookup within the transaction scope.
func (tx *transaction) FindTemplate(id string) (Template, bool) {
	t, ok := tx.state.templates[id]
	if !ok {
		return Template{}, false
	}
	return t.Clone(), true
}

// FindTemplateByPath resolves a live template by its type path.
func (tx *transaction) FindTemplateByPath(path domain.TypePath) (Template, bool) {
	return findLiveTemplateByPath(&tx.state, path)
}

// FindInstance exposes instance lookup within the transaction scope.
func (tx *transaction) FindInstance(id string) (Instance, bool) {
	i, ok := tx.state.instances[id]
	if !ok {
		return Instance{}, false
	}
	return i.Clone(), true
}

func findLiveTemplateByPath(state *memoryState, path domain.TypePath) (Template, bool) {
	for _, t := range state.templates {
		if !t.Deleted() && t.Path == path {
			return t.Clone(), true
		}
	}
	return Template{}, false
}

// transactionView exposes a read-only snapshot of state.
type transactionView struct {
	state *memoryState
}

// ListTemplates returns templates sorted by EUID.
func (v transactionView) ListTemplates(opts ListOptions) []Template {
	out := make([]Template, 0, len(v.state.templates))
	for _, t := range v.state.templates {
		if t.Deleted() && !opts.IncludeDeleted {
			continue
		}
		if opts.PathPrefix != "" && !strings.HasPrefix(t.Path.String(), opts.PathPrefix) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EUID < out[j].EUID })
	return out
}

// ListInstances returns instances sorted by EUID.
func (v transactionView) ListInstances(opts ListOptions) []Instance {
	out := make([]Instance, 0, len(v.state.instances))
	for _, i := range v.state.instances {
		if i.Deleted() && !opts.IncludeDeleted {
			continue
		}
		if opts.PathPrefix != "" && !strings.HasPrefix(i.Path.String(), opts.PathPrefix) {
			continue
		}
		out = append(out, i.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EUID < out[j].EUID })
	return out
}

// ListEdges returns edges sorted by id.
func (v transactionView) ListEdges(opts ListOptions) []LineageEdge {
	out := make([]LineageEdge, 0, len(v.state.edges))
	for _, e := range v.state.edges {
		if e.Deleted() && !opts.IncludeDeleted {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindTemplate retrieves a template by id, including deleted rows.
func (v transactionView) FindTemplate(id string) (Template, bool) {
	t, ok := v.state.templates[id]
	if !ok {
		return Template{}, false
	}
	return t.Clone(), true
}

// FindTemplateByPath resolves a live template by type path.
func (v transactionView) FindTemplateByPath(path domain.TypePath) (Template, bool) {
	return findLiveTemplateByPath(v.state, path)
}

// FindTemplateByEUID resolves a live template by enterprise identifier.
func (v transactionView) FindTemplateByEUID(euid string) (Template, bool) {
	for _, t := range v.state.templates {
		if !t.Deleted() && t.EUID == euid {
			return t.Clone(), true
		}
	}
	return Template{}, false
}

// FindInstance retrieves an instance by id, including deleted rows.
func (v transactionView) FindInstance(id string) (Instance, bool) {
	i, ok := v.state.instances[id]
	if !ok {
		return Instance{}, false
	}
	return i.Clone(), true
}

// FindInstanceByEUID resolves a live instance by enterprise identifier.
func (v transactionView) FindInstanceByEUID(euid string) (Instance, bool) {
	for _, i := range v.state.instances {
		if !i.Deleted() && i.EUID == euid {
			return i.Clone(), true
		}
	}
	return Instance{}, false
}

// FindEdge retrieves an edge by id, including deleted rows.
func (v transactionView) FindEdge(id string) (LineageEdge, bool) {
	e, ok := v.state.edges[id]
	if !ok {
		return LineageEdge{}, false
	}
	return e.Clone(), true
}

// ChildrenOf returns outgoing edges of an instance. Soft-deleted edges and
// edges to soft-deleted endpoints are excluded unless opted in.
func (v transactionView) ChildrenOf(instanceID string, opts ListOptions) []LineageEdge {
	return v.traverse(instanceID, opts, func(e LineageEdge) (string, bool) {
		if e.ParentID != instanceID {
			return "", false
		}
		return e.ChildID, true
	})
}

// ParentsOf returns incoming edges of an instance with the same exclusions.
func (v transactionView) ParentsOf(instanceID string, opts ListOptions) []LineageEdge {
	return v.traverse(instanceID, opts, func(e LineageEdge) (string, bool) {
		if e.ChildID != instanceID {
			return "", false
		}
		return e.ParentID, true
	})
}

func (v transactionView) traverse(instanceID string, opts ListOptions, follow func(LineageEdge) (string, bool)) []LineageEdge {
	var out []LineageEdge
	for _, e := range v.state.edges {
		endpoint, ok := follow(e)
		if !ok {
			continue
		}
		if !opts.IncludeDeleted {
			if e.Deleted() {
				continue
			}
			other, found := v.state.instances[endpoint]
			if !found || other.Deleted() {
				continue
			}
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuditTrail returns the append-only audit records for one entity, oldest
// first.
func (v transactionView) AuditTrail(entity domain.EntityType, id string) []AuditRecord {
	var out []AuditRecord
	for _, rec := range v.state.audit {
		if rec.Entity == entity && rec.EntityID == id {
			out = append(out, rec)
		}
	}
	return out
}

// auditRecords converts recorded changes into per-field audit rows. Creates
// and deletes yield one record each; updates yield one record per field whose
// serialized value actually changed, so an update writing identical values
// emits nothing.
func auditRecords(changes []Change, actor string, at time.Time, idFn func() string) ([]AuditRecord, error) {
	var out []AuditRecord
	for _, change := range changes {
		switch change.Action {
		case domain.ActionCreate:
			payload, err := domain.NewChangePayloadFromValue(change.After)
			if err != nil {
				return nil, err
			}
			out = append(out, AuditRecord{
				ID:       idFn(),
				Entity:   change.Entity,
				EntityID: change.EntityID,
				Op:       domain.ActionCreate,
				New:      payload,
				Actor:    actor,
				At:       at,
			})
		case domain.ActionDelete:
			payload, err := domain.NewChangePayloadFromValue(change.Before)
			if err != nil {
				return nil, err
			}
			out = append(out, AuditRecord{
				ID:       idFn(),
				Entity:   change.Entity,
				EntityID: change.EntityID,
				Op:       domain.ActionDelete,
				Field:    "deleted_at",
				Old:      payload,
				Actor:    actor,
				At:       at,
			})
		case domain.ActionUpdate:
			diffs, err := diffFields(change.Before, change.After)
			if err != nil {
				return nil, err
			}
			for _, d := range diffs {
				out = append(out, AuditRecord{
					ID:       idFn(),
					Entity:   change.Entity,
					EntityID: change.EntityID,
					Op:       domain.ActionUpdate,
					Field:    d.field,
					Old:      domain.NewChangePayload(d.old),
					New:      domain.NewChangePayload(d.new),
					Actor:    actor,
					At:       at,
				})
			}
		}
	}
	return out, nil
}

type fieldDiff struct {
	field string
	old   json.RawMessage
	new   json.RawMessage
}

// auditIgnoredFields are store-stamped on every write and would otherwise turn
// each commit into a spurious field change.
var auditIgnoredFields = map[string]struct{}{
	"updated_at": {},
}

func diffFields(before, after any) ([]fieldDiff, error) {
	beforeFields, err := topLevelFields(before)
	if err != nil {
		return nil, err
	}
	afterFields, err := topLevelFields(after)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(beforeFields)+len(afterFields))
	for k := range beforeFields {
		keys[k] = struct{}{}
	}
	for k := range afterFields {
		keys[k] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		if _, skip := auditIgnoredFields[k]; skip {
			continue
		}
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	var diffs []fieldDiff
	for _, k := range ordered {
		oldRaw, newRaw := beforeFields[k], afterFields[k]
		if string(oldRaw) == string(newRaw) {
			continue
		}
		diffs = append(diffs, fieldDiff{field: k, old: oldRaw, new: newRaw})
	}
	return diffs, nil
}

func topLevelFields(entity any) (map[string]json.RawMessage, error) {
	if entity == nil {
		return map[string]json.RawMessage{}, nil
	}
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
