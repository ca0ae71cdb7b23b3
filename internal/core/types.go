package core

import "objectcore/pkg/domain"

type (
	EntityType      = domain.EntityType
	Subtype         = domain.Subtype
	TypePath        = domain.TypePath
	Base            = domain.Base
	Template        = domain.Template
	Instance        = domain.Instance
	LineageEdge     = domain.LineageEdge
	AuditRecord     = domain.AuditRecord
	ActionDef       = domain.ActionDef
	ActionState     = domain.ActionState
	ChildLayout     = domain.ChildLayout
	Change          = domain.Change
	Action          = domain.Action
	Status          = domain.Status
	ListOptions     = domain.ListOptions
	PersistentStore = domain.PersistentStore
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
)

const (
	EntityTemplate    = domain.EntityTemplate
	EntityInstance    = domain.EntityInstance
	EntityLineageEdge = domain.EntityLineageEdge
)

const (
	StatusActive     = domain.StatusActive
	StatusScheduled  = domain.StatusScheduled
	StatusPending    = domain.StatusPending
	StatusInProgress = domain.StatusInProgress
	StatusComplete   = domain.StatusComplete
	StatusFailed     = domain.StatusFailed
	StatusCancelled  = domain.StatusCancelled
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
