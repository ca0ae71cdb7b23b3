package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"objectcore/pkg/domain"
)

func TestCreateInstanceBuildsFullPlate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions)); err != nil {
		t.Fatalf("load: %v", err)
	}

	result, err := svc.CreateInstance(ctx, "container/plate/well_plate/1.0", "plate-7", map[string]any{
		"barcode": "BC-0007",
	}, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if result.Total() != 97 {
		t.Fatalf("instances created = %d, want 97", result.Total())
	}
	if len(result.Edges) != 96 {
		t.Fatalf("edges created = %d, want 96", len(result.Edges))
	}

	root := result.Root
	if !strings.HasPrefix(root.EUID, "PLT") {
		t.Fatalf("root euid = %q, want PLT prefix", root.EUID)
	}
	if v, ok := root.Doc.Get("barcode"); !ok {
		t.Fatal("property overlay missing from root doc")
	} else if s, _ := v.AsString(); s != "BC-0007" {
		t.Fatalf("barcode = %q", s)
	}
	if v, ok := root.Doc.Get("rows"); !ok {
		t.Fatal("template default missing from root doc")
	} else if n, _ := v.AsNumber(); n != 8 {
		t.Fatalf("rows = %v", n)
	}

	// Every child carries its own sequential identifier under the well
	// prefix, and the pattern-expanded name.
	seen := make(map[string]bool, len(result.Children))
	for _, child := range result.Children {
		if !strings.HasPrefix(child.EUID, "WLL") {
			t.Fatalf("child euid = %q, want WLL prefix", child.EUID)
		}
		if seen[child.EUID] {
			t.Fatalf("duplicate child euid %q", child.EUID)
		}
		seen[child.EUID] = true
	}
	if result.Children[0].Name != "plate-7_001" {
		t.Fatalf("first child name = %q, want plate-7_001", result.Children[0].Name)
	}
	if result.Children[95].Name != "plate-7_096" {
		t.Fatalf("last child name = %q, want plate-7_096", result.Children[95].Name)
	}

	// Every row of the committed tree left a create record behind: 97
	// instances plus 96 edges.
	if len(result.Audit) != 193 {
		t.Fatalf("audit records = %d, want 193", len(result.Audit))
	}

	edges, children, err := svc.Children(ctx, root.ID, ListOptions{})
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(edges) != 96 || len(children) != 96 {
		t.Fatalf("children query = %d edges, %d nodes", len(edges), len(children))
	}
	for _, e := range edges {
		if e.Relation != "contains" {
			t.Fatalf("relation = %q, want contains", e.Relation)
		}
	}
}

func TestCreateInstanceSkipChildren(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions)); err != nil {
		t.Fatalf("load: %v", err)
	}
	result, err := svc.CreateInstance(ctx, "container/plate/well_plate/1.0", "bare-plate", nil, CreateOptions{
		SkipChildren: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Total() != 1 || len(result.Edges) != 0 {
		t.Fatalf("skip-children result = %d instances, %d edges", result.Total(), len(result.Edges))
	}
}

func TestDepthGuardAbortsWholeTransaction(t *testing.T) {
	svc := newTestService(t, WithMaxDepth(4))
	ctx := context.Background()

	_, err := svc.LoadDefinitions(ctx, []byte(`
container/box/recursive_box/1.0:
  subtype: container
  prefix: BOX
  children:
    - path: container/box/recursive_box/1.0
      count: 1
      relation: contains
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	_, err = svc.CreateInstance(ctx, "container/box/recursive_box/1.0", "outer", nil, CreateOptions{})
	var depth domain.ErrDepthExceeded
	if !errors.As(err, &depth) {
		t.Fatalf("err = %v, want depth exceeded", err)
	}
	if depth.Max != 4 {
		t.Fatalf("reported max = %d, want 4", depth.Max)
	}

	// The guard aborted the whole transaction: no partial tree survives.
	instances, err := svc.ListInstances(ctx, ListOptions{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("partial tree committed: %d instances", len(instances))
	}
}

func TestCreateInstanceRejectsDeprecatedTemplate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions)); err != nil {
		t.Fatalf("load: %v", err)
	}
	tmpl, err := svc.ResolveTemplate(ctx, "item/sample/well/1.0")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.DeprecateTemplate(ctx, tmpl.ID); err != nil {
		t.Fatalf("deprecate: %v", err)
	}

	_, err = svc.CreateInstance(ctx, "item/sample/well/1.0", "solo-well", nil, CreateOptions{})
	var integrity domain.ErrIntegrityViolation
	if !errors.As(err, &integrity) {
		t.Fatalf("err = %v, want integrity violation", err)
	}

	// Deprecation also poisons parents whose layouts reference the template.
	_, err = svc.CreateInstance(ctx, "container/plate/well_plate/1.0", "plate-8", nil, CreateOptions{})
	if !errors.As(err, &integrity) {
		t.Fatalf("parent create err = %v, want integrity violation", err)
	}
}

func TestCreateInstanceUnknownOrMalformedPath(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateInstance(ctx, "bogus", "x", nil, CreateOptions{})
	var invalid domain.ErrInvalidDefinition
	if !errors.As(err, &invalid) {
		t.Fatalf("malformed path err = %v", err)
	}

	_, err = svc.CreateInstance(ctx, "item/sample/unregistered/1.0", "x", nil, CreateOptions{})
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("unregistered path err = %v", err)
	}
}

func TestExpandNamePattern(t *testing.T) {
	cases := []struct {
		pattern string
		parent  string
		index   int
		want    string
	}{
		{"{parent}_{index}", "plate", 3, "plate_3"},
		{"{parent}_{index:03d}", "plate", 3, "plate_003"},
		{"{parent}_{index:02d}", "p", 12, "p_12"},
		{"well-{index}", "ignored", 1, "well-1"},
		{"static", "plate", 9, "static"},
		{"{parent}-{index:04d}-{index}", "r", 7, "r-0007-7"},
	}
	for _, tc := range cases {
		got := expandNamePattern(tc.pattern, tc.parent, tc.index)
		if got != tc.want {
			t.Errorf("expandNamePattern(%q, %q, %d) = %q, want %q", tc.pattern, tc.parent, tc.index, got, tc.want)
		}
	}
}

func TestNestedLayoutsCreateGrandchildren(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoadDefinitions(ctx, []byte(`
container/rack/tube_rack/1.0:
  subtype: container
  prefix: RCK
  children:
    - path: container/tube/cryo_tube/1.0
      count: 2
      relation: contains
container/tube/cryo_tube/1.0:
  subtype: container
  prefix: TUB
  children:
    - path: item/sample/aliquot/1.0
      count: 3
      relation: contains
item/sample/aliquot/1.0:
  subtype: item
  prefix: ALQ
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	result, err := svc.CreateInstance(ctx, "container/rack/tube_rack/1.0", "rack-1", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// 1 rack + 2 tubes + 6 aliquots.
	if result.Total() != 9 {
		t.Fatalf("instances = %d, want 9", result.Total())
	}
	if len(result.Edges) != 8 {
		t.Fatalf("edges = %d, want 8", len(result.Edges))
	}

	var tubes int
	for _, child := range result.Children {
		if strings.HasPrefix(child.EUID, "TUB") {
			tubes++
			_, aliquots, err := svc.Children(ctx, child.ID, ListOptions{})
			if err != nil {
				t.Fatalf("children of %s: %v", child.EUID, err)
			}
			if len(aliquots) != 3 {
				t.Fatalf("aliquots under %s = %d, want 3", child.EUID, len(aliquots))
			}
		}
	}
	if tubes != 2 {
		t.Fatalf("tubes = %d, want 2", tubes)
	}

	// Grandchild names chain through their direct parent.
	for _, child := range result.Children {
		if strings.HasPrefix(child.EUID, "ALQ") && !strings.HasPrefix(child.Name, "rack-1_") {
			t.Fatalf("aliquot name %q does not chain parent names", child.Name)
		}
	}
}

func TestCreateInstanceMetricsCount(t *testing.T) {
	recorder := &captureMetrics{}
	svc := newTestService(t, WithMetrics(recorder))
	ctx := context.Background()

	if _, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := svc.CreateInstance(ctx, "container/plate/well_plate/1.0", "plate-m", nil, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if recorder.instances != 97 {
		t.Fatalf("metrics instances = %d, want 97", recorder.instances)
	}
	if recorder.audit == 0 {
		t.Fatal("audit metric never recorded")
	}
}

type captureMetrics struct {
	instances int
	audit     int
	outcomes  []string
}

func (m *captureMetrics) InstancesCreated(n int) { m.instances += n }

func (m *captureMetrics) ActionExecuted(outcome string) { m.outcomes = append(m.outcomes, outcome) }

func (m *captureMetrics) AuditRecorded(n int) { m.audit += n }
