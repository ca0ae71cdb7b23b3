// Package domain defines the persistent entities, identifiers, and change
// records of the object store: templates, the instances created from them,
// the lineage edges between instances, and the audit trail every mutation
// leaves behind.
package domain

import (
	"time"

	"objectcore/pkg/domain/document"
)

// EntityType identifies the kind of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityTemplate identifies a template (blueprint) record.
	EntityTemplate EntityType = "template"
	// EntityInstance identifies a concrete object created from a template.
	EntityInstance EntityType = "instance"
	// EntityLineageEdge identifies a directed relationship between instances.
	EntityLineageEdge EntityType = "lineage_edge"
)

// Subtype is the polymorphic discriminator tag distinguishing which concrete
// variant a stored row represents.
type Subtype string

// TemplateStatus captures a template's lifecycle flags. Templates are never
// mutated in place except for status and deletion.
type TemplateStatus string

// Template lifecycle states.
const (
	TemplateActive     TemplateStatus = "active"
	TemplateDeprecated TemplateStatus = "deprecated"
)

// Status enumerates instance states. Plain instances stay active; instances
// whose template represents an operation type walk the action state machine.
type Status string

// Instance and action-instance statuses.
const (
	StatusActive     Status = "active"
	StatusScheduled  Status = "scheduled"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// actionTransitions is the closed action state machine:
// scheduled → pending → in_progress → {complete|failed|cancelled}.
// Terminal states have no outgoing transitions.
var actionTransitions = map[Status][]Status{
	StatusScheduled:  {StatusPending, StatusCancelled},
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusComplete, StatusFailed, StatusCancelled},
}

// CanTransition reports whether the action state machine permits from → to.
func CanTransition(from, to Status) bool {
	for _, next := range actionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is final for an action instance.
func IsTerminal(s Status) bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Base contains common fields for all stored records. DeletedAt implements
// soft deletion: rows are never physically removed, and a set DeletedAt
// freezes the row against further structural change.
type Base struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the record has been soft-deleted.
func (b Base) Deleted() bool { return b.DeletedAt != nil }

// ChildLayout declares a rule for auto-creating child instances when an
// instance of the owning template is created.
type ChildLayout struct {
	Path        string `json:"path"`
	Count       int    `json:"count"`
	NamePattern string `json:"name_pattern"`
	Relation    string `json:"relation"`
}

// ActionDef declares a named operation a template makes available on its
// instances. Method must follow the dispatcher's handler naming convention.
type ActionDef struct {
	Group               string   `json:"group"`
	Key                 string   `json:"key"`
	Method              string   `json:"method"`
	MaxExecutions       int      `json:"max_executions"`
	DeactivateOnExecute []string `json:"deactivate_on_execute,omitempty"`
}

// ActionState is the per-instance materialization of an ActionDef plus its
// execution bookkeeping: counter, append-only timestamp log, and enablement.
type ActionState struct {
	ActionDef
	Enabled        bool        `json:"action_enabled"`
	ExecutionCount int         `json:"execution_count"`
	ExecutedAt     []time.Time `json:"executed_at,omitempty"`
}

// Template is a blueprint record. New record types are introduced purely by
// declaring templates; no schema migration is involved.
type Template struct {
	Base
	EUID         string            `json:"euid"`
	Path         TypePath          `json:"path"`
	Subtype      Subtype           `json:"subtype"`
	Prefix       string            `json:"prefix"`
	Status       TemplateStatus    `json:"status"`
	Defaults     document.Document `json:"defaults"`
	ChildLayouts []ChildLayout     `json:"child_layouts,omitempty"`
	Actions      []ActionDef       `json:"actions,omitempty"`
	// ActionImports names other templates whose declared actions are pulled
	// into instances of this one at creation time.
	ActionImports []string `json:"action_imports,omitempty"`
}

// Clone deep-copies the template.
func (t Template) Clone() Template {
	cp := t
	cp.Defaults = t.Defaults.Clone()
	cp.ChildLayouts = append([]ChildLayout(nil), t.ChildLayouts...)
	cp.ActionImports = append([]string(nil), t.ActionImports...)
	if len(t.Actions) != 0 {
		cp.Actions = make([]ActionDef, len(t.Actions))
		for i, a := range t.Actions {
			cp.Actions[i] = a
			cp.Actions[i].DeactivateOnExecute = append([]string(nil), a.DeactivateOnExecute...)
		}
	}
	if t.DeletedAt != nil {
		at := *t.DeletedAt
		cp.DeletedAt = &at
	}
	return cp
}

// FindAction returns the declared action for group/key.
func (t Template) FindAction(group, key string) (ActionDef, bool) {
	for _, a := range t.Actions {
		if a.Group == group && a.Key == key {
			return a, true
		}
	}
	return ActionDef{}, false
}

// Instance is a concrete object created from exactly one template. TemplateID
// is immutable after creation; Path and Subtype are denormalized from the
// template for query efficiency.
type Instance struct {
	Base
	EUID       string            `json:"euid"`
	TemplateID string            `json:"template_id"`
	Name       string            `json:"name"`
	Path       TypePath          `json:"path"`
	Subtype    Subtype           `json:"subtype"`
	Status     Status            `json:"status"`
	Doc        document.Document `json:"doc"`
	Actions    []ActionState     `json:"actions,omitempty"`
}

// Clone deep-copies the instance.
func (i Instance) Clone() Instance {
	cp := i
	cp.Doc = i.Doc.Clone()
	if len(i.Actions) != 0 {
		cp.Actions = make([]ActionState, len(i.Actions))
		for idx, a := range i.Actions {
			cp.Actions[idx] = a
			cp.Actions[idx].DeactivateOnExecute = append([]string(nil), a.DeactivateOnExecute...)
			cp.Actions[idx].ExecutedAt = append([]time.Time(nil), a.ExecutedAt...)
		}
	}
	if i.DeletedAt != nil {
		at := *i.DeletedAt
		cp.DeletedAt = &at
	}
	return cp
}

// FindAction returns the materialized action state for group/key.
func (i Instance) FindAction(group, key string) (ActionState, bool) {
	for _, a := range i.Actions {
		if a.Group == group && a.Key == key {
			return a, true
		}
	}
	return ActionState{}, false
}

// LineageEdge is a directed, typed relationship between two instances. Both
// endpoints must be live at creation time; the edge itself can later be
// soft-deleted without touching its endpoints.
type LineageEdge struct {
	Base
	ParentID string            `json:"parent_id"`
	ChildID  string            `json:"child_id"`
	Relation string            `json:"relation"`
	Doc      document.Document `json:"doc"`
}

// Clone deep-copies the edge.
func (e LineageEdge) Clone() LineageEdge {
	cp := e
	cp.Doc = e.Doc.Clone()
	if e.DeletedAt != nil {
		at := *e.DeletedAt
		cp.DeletedAt = &at
	}
	return cp
}

// Action indicates the kind of modification performed in a Change.
type Action string

// Change actions captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	// ActionDelete indicates an entity was logically deleted.
	ActionDelete Action = "delete"
)

// Change describes one mutation applied to an entity during a transaction.
// The commit path turns changes into per-field audit records.
type Change struct {
	Entity   EntityType
	EntityID string
	Action   Action
	Before   any
	After    any
}

// AuditRecord is one immutable row of the audit trail: a field change or
// lifecycle event on a template, instance, or lineage edge. Records are
// append-only and owned exclusively by the persistence layer.
type AuditRecord struct {
	ID       string        `json:"id"`
	Entity   EntityType    `json:"entity"`
	EntityID string        `json:"entity_id"`
	Op       Action        `json:"op"`
	Field    string        `json:"field,omitempty"`
	Old      ChangePayload `json:"old,omitempty"`
	New      ChangePayload `json:"new,omitempty"`
	Actor    string        `json:"actor"`
	At       time.Time     `json:"at"`
}
