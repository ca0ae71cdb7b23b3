package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"objectcore/pkg/domain"
	"objectcore/pkg/domain/document"
)

// HandlerPrefix is the mandatory prefix for action handler method names. A
// template action whose method lacks it is rejected at load time, and
// RegisterHandler refuses to bind one.
const HandlerPrefix = "do_action_"

// ActionRequest is the input passed to a handler. Instance is a clone; a
// handler mutates state only through its returned document or by calling back
// into the service.
type ActionRequest struct {
	Instance Instance
	Group    string
	Key      string
	Params   document.Document
	Actor    string
}

// ActionResult reports one dispatched execution.
type ActionResult struct {
	Output         document.Document
	Duration       time.Duration
	ActionInstance *Instance
}

// ActionHandler implements the behavior behind a declared action.
type ActionHandler func(ctx context.Context, req ActionRequest) (document.Document, error)

// actionRecordPaths is the type path resolution order for action-instance
// records: a group-and-key specific template first, the generic one as
// fallback.
func actionRecordPaths(group, key string) []string {
	return []string{
		fmt.Sprintf("action/%s/%s/1.0", group, key),
		"action/core/generic/1.0",
	}
}

// RegisterHandler binds a handler to a method name. Registration is shared
// across session-scoped copies of the service.
func (s *Service) RegisterHandler(method string, handler ActionHandler) error {
	method = strings.TrimSpace(method)
	if !strings.HasPrefix(method, HandlerPrefix) {
		return domain.ErrInvalidDefinition{Ref: method, Reason: fmt.Sprintf("handler method must start with %q", HandlerPrefix)}
	}
	if handler == nil {
		return domain.ErrInvalidDefinition{Ref: method, Reason: "nil handler"}
	}
	s.handlers.mu.Lock()
	defer s.handlers.mu.Unlock()
	if _, exists := s.handlers.m[method]; exists {
		return domain.ErrIntegrityViolation{Entity: "handler", Ref: method, Reason: "already registered"}
	}
	s.handlers.m[method] = handler
	return nil
}

func (s *Service) handler(method string) (ActionHandler, bool) {
	s.handlers.mu.RLock()
	defer s.handlers.mu.RUnlock()
	h, ok := s.handlers.m[method]
	return h, ok
}

// ExecuteAction dispatches a declared action on an instance. The declaration
// is checked first, then its enablement, then handler availability; the
// handler runs outside any transaction and its success is followed by a
// bookkeeping transaction that re-verifies enablement and the execution cap
// against current state, bumps the execution count, applies auto and cascade
// deactivation, and optionally writes an action-instance record linked to
// the target with an "acts_on" edge. A handler error leaves the store
// untouched; a lost race on a capped action aborts the bookkeeping commit.
func (s *Service) ExecuteAction(ctx context.Context, instanceID, group, key string, params document.Document) (ActionResult, error) {
	inst, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return ActionResult{}, err
	}
	ref := group + "/" + key
	state, ok := inst.FindAction(group, key)
	if !ok {
		return ActionResult{}, domain.ErrNotFound{Entity: "action", Ref: ref}
	}
	if !state.Enabled {
		return ActionResult{}, domain.ErrIntegrityViolation{Entity: "action", Ref: ref, Reason: "action is disabled"}
	}
	handler, ok := s.handler(state.Method)
	if !ok {
		return ActionResult{}, domain.ErrNotImplemented{Method: state.Method}
	}

	start := time.Now()
	output, err := handler(ctx, ActionRequest{
		Instance: inst,
		Group:    group,
		Key:      key,
		Params:   params,
		Actor:    s.Actor(),
	})
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.ActionExecuted("failed")
		s.logger.Error("action failed", "euid", inst.EUID, "action", ref, "err", err)
		return ActionResult{}, fmt.Errorf("execute %s on %s: %w", ref, inst.EUID, err)
	}

	result := ActionResult{Output: output, Duration: elapsed}
	_, err = s.run(ctx, func(tx Transaction) error {
		now := time.Now().UTC()
		if _, err := tx.UpdateInstance(instanceID, func(i *Instance) error {
			return applyExecution(i, group, key, now)
		}); err != nil {
			return err
		}
		if !s.recordActions {
			return nil
		}
		record, err := s.recordActionInstance(tx, inst, state.ActionDef, params, output, elapsed)
		if err != nil {
			return err
		}
		result.ActionInstance = record
		return nil
	})
	if err != nil {
		return ActionResult{}, err
	}
	s.metrics.ActionExecuted("complete")
	s.logger.Info("action executed", "euid", inst.EUID, "action", ref, "duration", elapsed)
	return result, nil
}

// applyExecution records one execution on an instance's action state and
// applies both deactivation rules. Enablement and the execution cap are
// re-verified against the transactional state, not the read the dispatch
// started from: when two callers race past the pre-flight check on a capped
// action, the transaction that commits second aborts here instead of
// overshooting the cap.
func applyExecution(i *Instance, group, key string, at time.Time) error {
	ref := group + "/" + key
	var executed *ActionState
	for idx := range i.Actions {
		a := &i.Actions[idx]
		if a.Group == group && a.Key == key {
			executed = a
			break
		}
	}
	if executed == nil {
		return domain.ErrNotFound{Entity: "action", Ref: ref}
	}
	if !executed.Enabled {
		return domain.ErrIntegrityViolation{Entity: "action", Ref: ref, Reason: "action is disabled"}
	}
	if executed.MaxExecutions > 0 && executed.ExecutionCount >= executed.MaxExecutions {
		return domain.ErrIntegrityViolation{Entity: "action", Ref: ref, Reason: "execution limit reached"}
	}
	executed.ExecutionCount++
	executed.ExecutedAt = append(executed.ExecutedAt, at)
	if executed.MaxExecutions > 0 && executed.ExecutionCount >= executed.MaxExecutions {
		executed.Enabled = false
	}
	for _, target := range executed.DeactivateOnExecute {
		for idx := range i.Actions {
			a := &i.Actions[idx]
			if a.Group+"/"+a.Key == target {
				a.Enabled = false
			}
		}
	}
	return nil
}

// recordActionInstance creates a first-class instance documenting one
// execution, linked to its target by an "acts_on" edge. Resolution falls back
// from the action-specific template to the generic action template; when
// neither is registered the record is skipped with a warning rather than
// failing the execution.
func (s *Service) recordActionInstance(tx Transaction, target Instance, def ActionDef, params, output document.Document, elapsed time.Duration) (*Instance, error) {
	var tmpl Template
	var found bool
	for _, raw := range actionRecordPaths(def.Group, def.Key) {
		path, err := domain.ParseTypePath(raw)
		if err != nil {
			continue
		}
		if t, ok := tx.FindTemplateByPath(path); ok && t.Status == domain.TemplateActive {
			tmpl, found = t, true
			break
		}
	}
	if !found {
		s.logger.Warn("no action record template registered", "action", def.Group+"/"+def.Key)
		return nil, nil
	}

	doc := tmpl.Defaults.Clone()
	doc.Set("action_group", document.String(def.Group))
	doc.Set("action_key", document.String(def.Key))
	doc.Set("target_euid", document.String(target.EUID))
	doc.Set("duration_ms", document.Number(float64(elapsed.Milliseconds())))
	if params.Len() > 0 {
		doc.Set("params", document.Map(params))
	}
	if output.Len() > 0 {
		doc.Set("output", document.Map(output))
	}

	record, err := tx.CreateInstance(Instance{
		TemplateID: tmpl.ID,
		Name:       fmt.Sprintf("%s %s/%s", target.EUID, def.Group, def.Key),
		Path:       tmpl.Path,
		Subtype:    tmpl.Subtype,
		Status:     StatusComplete,
		Doc:        doc,
	})
	if err != nil {
		return nil, err
	}
	if _, err := tx.CreateEdge(LineageEdge{
		ParentID: record.ID,
		ChildID:  target.ID,
		Relation: "acts_on",
	}); err != nil {
		return nil, err
	}
	return &record, nil
}

// ScheduleAction creates an action-instance record in the scheduled state
// without invoking any handler. Unlike execution, scheduling requires an
// action record template to be registered.
func (s *Service) ScheduleAction(ctx context.Context, instanceID, group, key string, params document.Document) (Instance, error) {
	inst, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return Instance{}, err
	}
	ref := group + "/" + key
	if _, ok := inst.FindAction(group, key); !ok {
		return Instance{}, domain.ErrNotFound{Entity: "action", Ref: ref}
	}

	var record Instance
	_, err = s.run(ctx, func(tx Transaction) error {
		var tmpl Template
		var found bool
		for _, raw := range actionRecordPaths(group, key) {
			path, err := domain.ParseTypePath(raw)
			if err != nil {
				continue
			}
			if t, ok := tx.FindTemplateByPath(path); ok && t.Status == domain.TemplateActive {
				tmpl, found = t, true
				break
			}
		}
		if !found {
			return domain.ErrNotFound{Entity: EntityTemplate, Ref: actionRecordPaths(group, key)[0]}
		}

		doc := tmpl.Defaults.Clone()
		doc.Set("action_group", document.String(group))
		doc.Set("action_key", document.String(key))
		doc.Set("target_euid", document.String(inst.EUID))
		if params.Len() > 0 {
			doc.Set("params", document.Map(params))
		}

		created, err := tx.CreateInstance(Instance{
			TemplateID: tmpl.ID,
			Name:       fmt.Sprintf("%s %s scheduled", inst.EUID, ref),
			Path:       tmpl.Path,
			Subtype:    tmpl.Subtype,
			Status:     StatusScheduled,
			Doc:        doc,
		})
		if err != nil {
			return err
		}
		if _, err := tx.CreateEdge(LineageEdge{
			ParentID: created.ID,
			ChildID:  inst.ID,
			Relation: "acts_on",
		}); err != nil {
			return err
		}
		record = created
		return nil
	})
	if err != nil {
		return Instance{}, err
	}
	s.logger.Info("action scheduled", "euid", inst.EUID, "action", ref, "record", record.EUID)
	return record, nil
}

// UpdateActionStatus advances an action-instance record through its state
// machine. Illegal transitions and moves out of a terminal state are
// rejected.
func (s *Service) UpdateActionStatus(ctx context.Context, recordID string, next Status) (Instance, error) {
	var updated Instance
	_, err := s.run(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateInstance(recordID, func(i *Instance) error {
			if !domain.CanTransition(i.Status, next) {
				return domain.ErrIntegrityViolation{
					Entity: EntityInstance,
					Ref:    recordID,
					Reason: fmt.Sprintf("illegal status transition %s -> %s", i.Status, next),
				}
			}
			i.Status = next
			return nil
		})
		return err
	})
	if err != nil {
		return Instance{}, err
	}
	return updated, nil
}
