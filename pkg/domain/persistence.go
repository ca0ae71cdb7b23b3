package domain

import "context"

// ListOptions controls read-path filtering. Traversals and lists exclude
// soft-deleted rows by default; IncludeDeleted opts in for audit-style views.
type ListOptions struct {
	IncludeDeleted bool
	PathPrefix     string
}

// Transaction exposes the mutation operations a persistence implementation
// must support within an atomic scope. It is the only write path to the three
// tables: the audit and soft-delete contract is enforced here and cannot be
// bypassed by direct field mutation.
type Transaction interface {
	Snapshot() TransactionView
	IssueEUID(prefix string) (string, error)
	CreateTemplate(Template) (Template, error)
	UpdateTemplate(id string, mutator func(*Template) error) (Template, error)
	SoftDeleteTemplate(id string) error
	CreateInstance(Instance) (Instance, error)
	UpdateInstance(id string, mutator func(*Instance) error) (Instance, error)
	SoftDeleteInstance(id string) error
	CreateEdge(LineageEdge) (LineageEdge, error)
	SoftDeleteEdge(id string) error
	FindTemplate(id string) (Template, bool)
	FindTemplateByPath(path TypePath) (Template, bool)
	FindInstance(id string) (Instance, bool)
}

// TransactionView provides read-only access to committed or in-transaction
// state.
type TransactionView interface {
	ListTemplates(opts ListOptions) []Template
	ListInstances(opts ListOptions) []Instance
	ListEdges(opts ListOptions) []LineageEdge
	FindTemplate(id string) (Template, bool)
	FindTemplateByPath(path TypePath) (Template, bool)
	FindTemplateByEUID(euid string) (Template, bool)
	FindInstance(id string) (Instance, bool)
	FindInstanceByEUID(euid string) (Instance, bool)
	FindEdge(id string) (LineageEdge, bool)
	ChildrenOf(instanceID string, opts ListOptions) []LineageEdge
	ParentsOf(instanceID string, opts ListOptions) []LineageEdge
	AuditTrail(entity EntityType, id string) []AuditRecord
}

// PersistentStore is the abstraction over durable backends. RunInTransaction
// executes fn atomically: on error nothing is visible, on success every
// recorded change has been converted to audit records stamped with the actor.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, actor string, fn func(Transaction) error) ([]AuditRecord, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
