package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectcore/internal/infra/persistence/memory"
	"objectcore/pkg/domain"
	"objectcore/pkg/domain/document"
)

const plateDefinitions = `
container/plate/well_plate/1.0:
  subtype: container
  prefix: PLT
  defaults:
    rows: 8
    cols: 12
  children:
    - path: item/sample/well/1.0
      count: 96
      name_pattern: "{parent}_{index:03d}"
      relation: contains
item/sample/well/1.0:
  subtype: item
  prefix: WLL
  defaults:
    volume_ul: 0
`

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return NewService(memory.NewStore(), opts...)
}

func TestLoadDefinitionsRegistersTemplates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	n, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	tmpl, err := svc.ResolveTemplate(ctx, "container/plate/well_plate/1.0")
	require.NoError(t, err)
	assert.Equal(t, "PLT", tmpl.Prefix)
	assert.Equal(t, domain.SubtypeContainer, tmpl.Subtype)
	assert.Equal(t, domain.TemplateActive, tmpl.Status)
	require.Len(t, tmpl.ChildLayouts, 1)
	assert.Equal(t, "item/sample/well/1.0", tmpl.ChildLayouts[0].Path)
	assert.Equal(t, 96, tmpl.ChildLayouts[0].Count)

	rows, ok := tmpl.Defaults.Get("rows")
	require.True(t, ok)
	n8, _ := rows.AsNumber()
	assert.Equal(t, float64(8), n8)
}

func TestLoadDefinitionsRejectsWholeFileWithItemizedErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	bad := `
container/plate/well_plate/1.0:
  subtype: container
  prefix: PLT
item/sample/well/1.0:
  subtype: no_such_subtype
  prefix: lowercase
  children:
    - path: not-a-path
      count: 0
  actions:
    - group: core
      key: seal
      method: seal_without_prefix
`
	_, err := svc.LoadDefinitions(ctx, []byte(bad))
	var defErrs domain.DefinitionErrors
	require.ErrorAs(t, err, &defErrs)
	// unknown subtype, bad prefix, bad child path, bad count, missing
	// relation, bad method
	assert.GreaterOrEqual(t, len(defErrs.Errors), 5)

	// The valid definition in the same file must not have been registered.
	_, err = svc.ResolveTemplate(ctx, "container/plate/well_plate/1.0")
	var notFound domain.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestLoadDefinitionsRejectsUnparsableYAML(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.LoadDefinitions(context.Background(), []byte("\t not yaml: ["))
	var invalid domain.ErrInvalidDefinition
	require.ErrorAs(t, err, &invalid)
}

func TestResolveTemplateCachesUntilMutation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions))
	require.NoError(t, err)

	first, err := svc.ResolveTemplate(ctx, "container/plate/well_plate/1.0")
	require.NoError(t, err)

	// Dotted form resolves to the same canonical cache entry.
	dotted, err := svc.ResolveTemplate(ctx, "container.plate.well_plate.1.0")
	require.NoError(t, err)
	assert.Equal(t, first.ID, dotted.ID)

	deprecated, err := svc.DeprecateTemplate(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TemplateDeprecated, deprecated.Status)

	// Deprecation invalidated the cached copy.
	resolved, err := svc.ResolveTemplate(ctx, "container/plate/well_plate/1.0")
	require.NoError(t, err)
	assert.Equal(t, domain.TemplateDeprecated, resolved.Status)
}

func TestResolveTemplateReturnsDetachedCopies(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions))
	require.NoError(t, err)

	first, err := svc.ResolveTemplate(ctx, "container/plate/well_plate/1.0")
	require.NoError(t, err)
	first.Defaults.Set("poisoned", document.Bool(true))
	first.ChildLayouts[0].Count = 1

	// A cache hit hands out a fresh copy untouched by the mutation above.
	second, err := svc.ResolveTemplate(ctx, "container/plate/well_plate/1.0")
	require.NoError(t, err)
	_, leaked := second.Defaults.Get("poisoned")
	assert.False(t, leaked)
	assert.Equal(t, 96, second.ChildLayouts[0].Count)

	second.Defaults.Set("poisoned", document.Bool(true))
	third, err := svc.ResolveTemplate(ctx, "container/plate/well_plate/1.0")
	require.NoError(t, err)
	_, leaked = third.Defaults.Get("poisoned")
	assert.False(t, leaked)
}

func TestDeleteTemplateFreesPathAndCache(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoadDefinitions(ctx, []byte(plateDefinitions))
	require.NoError(t, err)
	tmpl, err := svc.ResolveTemplate(ctx, "item/sample/well/1.0")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTemplate(ctx, tmpl.ID))

	_, err = svc.ResolveTemplate(ctx, "item/sample/well/1.0")
	var notFound domain.ErrNotFound
	require.ErrorAs(t, err, &notFound)

	// The freed path accepts a fresh registration.
	_, err = svc.LoadDefinitions(ctx, []byte(`
item/sample/well/1.0:
  subtype: item
  prefix: WLB
`))
	require.NoError(t, err)
	replacement, err := svc.ResolveTemplate(ctx, "item/sample/well/1.0")
	require.NoError(t, err)
	assert.Equal(t, "WLB", replacement.Prefix)
}

func TestLoadDefinitionsSeedsSubtypeDefaults(t *testing.T) {
	registry := domain.NewSubtypeRegistry()
	err := registry.Register("specimen", domain.SubtypeSpec{
		Entity:      domain.EntityInstance,
		Description: "tracked specimen",
		Seed: func() document.Document {
			var d document.Document
			d.Set("chain_of_custody", document.List())
			return d
		},
	})
	require.NoError(t, err)

	svc := newTestService(t, WithSubtypeRegistry(registry))
	ctx := context.Background()
	_, err = svc.LoadDefinitions(ctx, []byte(`
item/sample/tissue/1.0:
  subtype: specimen
  prefix: TIS
  defaults:
    site: unknown
`))
	require.NoError(t, err)

	tmpl, err := svc.ResolveTemplate(ctx, "item/sample/tissue/1.0")
	require.NoError(t, err)
	_, hasSeed := tmpl.Defaults.Get("chain_of_custody")
	assert.True(t, hasSeed, "registry seed missing from defaults")
	_, hasOverlay := tmpl.Defaults.Get("site")
	assert.True(t, hasOverlay, "definition defaults missing")
}

func TestResolveTemplateRejectsMalformedPath(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ResolveTemplate(context.Background(), "just-one-segment")
	var invalid domain.ErrInvalidDefinition
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want invalid definition", err)
	}
}
