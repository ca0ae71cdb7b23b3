package core

import (
	"context"
	"errors"
	"testing"

	"objectcore/pkg/domain"
	"objectcore/pkg/domain/document"
)

func TestWithActorStampsAuditRecords(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions)); err != nil {
		t.Fatalf("load: %v", err)
	}
	session := svc.WithActor("alice")
	result, err := session.CreateInstance(ctx, "item/sample/well/1.0", "solo", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	trail, err := svc.AuditTrail(ctx, EntityInstance, result.Root.ID)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(trail) != 1 || trail[0].Actor != "alice" {
		t.Fatalf("trail = %+v, want one record by alice", trail)
	}

	// The base service still acts as the system identity.
	if _, err := svc.UpdateInstanceDoc(ctx, result.Root.ID, func(i *Instance) error {
		i.Doc.Set("volume_ul", document.Number(10))
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	trail, err = svc.AuditTrail(ctx, EntityInstance, result.Root.ID)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(trail) != 2 || trail[1].Actor != "system" {
		t.Fatalf("trail = %+v, want second record by system", trail)
	}
}

func TestUpdateInstanceDocAuditsFieldChange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions)); err != nil {
		t.Fatalf("load: %v", err)
	}
	result, err := svc.CreateInstance(ctx, "item/sample/well/1.0", "solo", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.UpdateInstanceDoc(ctx, result.Root.ID, func(i *Instance) error {
		i.Doc.Set("volume_ul", document.Number(25))
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if v, _ := updated.Doc.Get("volume_ul"); v.IsNull() {
		t.Fatal("doc mutation lost")
	}

	trail, err := svc.AuditTrail(ctx, EntityInstance, result.Root.ID)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	last := trail[len(trail)-1]
	if last.Op != ActionUpdate || last.Field != "doc" {
		t.Fatalf("last record = %+v, want doc update", last)
	}
}

func TestSoftDeleteInstanceKeepsTrailRetrievable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions)); err != nil {
		t.Fatalf("load: %v", err)
	}
	result, err := svc.CreateInstance(ctx, "item/sample/well/1.0", "solo", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := result.Root.ID

	if err := svc.SoftDeleteInstance(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := svc.GetInstance(ctx, id); err == nil {
		t.Fatal("live lookup returned deleted row")
	}
	got, err := svc.GetInstanceIncludingDeleted(ctx, id)
	if err != nil {
		t.Fatalf("include-deleted lookup: %v", err)
	}
	if !got.Deleted() {
		t.Fatal("deletion flag not set")
	}

	trail, err := svc.AuditTrail(ctx, EntityInstance, id)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(trail) != 2 || trail[1].Op != ActionDelete {
		t.Fatalf("trail = %+v, want create then delete", trail)
	}
}

func TestGetByEUIDResolvesBothKinds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions)); err != nil {
		t.Fatalf("load: %v", err)
	}
	result, err := svc.CreateInstance(ctx, "item/sample/well/1.0", "solo", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	obj, err := svc.GetByEUID(ctx, result.Root.EUID)
	if err != nil {
		t.Fatalf("instance by euid: %v", err)
	}
	if inst, ok := obj.(Instance); !ok || inst.ID != result.Root.ID {
		t.Fatalf("resolved %T %+v", obj, obj)
	}

	tmpl, err := svc.ResolveTemplate(ctx, "item/sample/well/1.0")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	obj, err = svc.GetByEUID(ctx, tmpl.EUID)
	if err != nil {
		t.Fatalf("template by euid: %v", err)
	}
	if got, ok := obj.(Template); !ok || got.ID != tmpl.ID {
		t.Fatalf("resolved %T %+v", obj, obj)
	}

	_, err = svc.GetByEUID(ctx, "NOPE999")
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("unknown euid err = %v", err)
	}
}

func TestListInstancesPathPrefixFilter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := svc.CreateInstance(ctx, "container/plate/well_plate/1.0", "plate-1", nil, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	wells, err := svc.ListInstances(ctx, ListOptions{PathPrefix: "item/sample"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(wells) != 96 {
		t.Fatalf("wells = %d, want 96", len(wells))
	}
	plates, err := svc.ListInstances(ctx, ListOptions{PathPrefix: "container/"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(plates) != 1 {
		t.Fatalf("plates = %d, want 1", len(plates))
	}
}

func TestSoftDeleteEdgePreservesEndpoints(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions)); err != nil {
		t.Fatalf("load: %v", err)
	}
	result, err := svc.CreateInstance(ctx, "container/plate/well_plate/1.0", "plate-1", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.SoftDeleteEdge(ctx, result.Edges[0].ID); err != nil {
		t.Fatalf("delete edge: %v", err)
	}
	edges, _, err := svc.Children(ctx, result.Root.ID, ListOptions{})
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(edges) != 95 {
		t.Fatalf("edges after delete = %d, want 95", len(edges))
	}
	// The orphaned child itself stays live.
	if _, err := svc.GetInstance(ctx, result.Edges[0].ChildID); err != nil {
		t.Fatalf("child after edge delete: %v", err)
	}
}
