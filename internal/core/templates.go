package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"gopkg.in/yaml.v3"

	"objectcore/pkg/domain"
	"objectcore/pkg/domain/document"
)

// templateDefinition is the YAML shape of one template entry. The file maps
// canonical type paths to definitions:
//
//	container/plate/well_plate/1.0:
//	  subtype: container
//	  prefix: PLT
//	  defaults:
//	    rows: 8
//	  children:
//	    - path: item/sample/well/1.0
//	      count: 96
//	      name_pattern: "{parent}_{index:03d}"
//	      relation: contains
//	  actions:
//	    - group: core
//	      key: seal
//	      method: do_action_seal
type templateDefinition struct {
	Subtype  string                  `yaml:"subtype"`
	Prefix   string                  `yaml:"prefix"`
	Defaults map[string]any          `yaml:"defaults"`
	Children []childLayoutDefinition `yaml:"children"`
	Actions  []actionDefinition      `yaml:"actions"`
	Imports  []string                `yaml:"imports"`
}

type childLayoutDefinition struct {
	Path        string `yaml:"path"`
	Count       int    `yaml:"count"`
	NamePattern string `yaml:"name_pattern"`
	Relation    string `yaml:"relation"`
}

type actionDefinition struct {
	Group               string   `yaml:"group"`
	Key                 string   `yaml:"key"`
	Method              string   `yaml:"method"`
	MaxExecutions       int      `yaml:"max_executions"`
	DeactivateOnExecute []string `yaml:"deactivate_on_execute"`
}

// LoadDefinitions parses a YAML template file and registers every definition
// in a single transaction. Validation is collected across the whole file: any
// invalid entry rejects the entire load and nothing is persisted. Returns the
// number of templates created.
func (s *Service) LoadDefinitions(ctx context.Context, data []byte) (int, error) {
	var raw map[string]templateDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return 0, domain.ErrInvalidDefinition{Ref: "definitions", Reason: fmt.Sprintf("parse yaml: %v", err)}
	}
	if len(raw) == 0 {
		return 0, domain.ErrInvalidDefinition{Ref: "definitions", Reason: "no template definitions"}
	}

	paths := make([]string, 0, len(raw))
	for p := range raw {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var errs []error
	templates := make([]Template, 0, len(raw))
	for _, rawPath := range paths {
		def := raw[rawPath]
		tmpl, defErrs := s.buildTemplate(rawPath, def)
		if len(defErrs) > 0 {
			errs = append(errs, defErrs...)
			continue
		}
		templates = append(templates, tmpl)
	}
	if len(errs) > 0 {
		return 0, domain.DefinitionErrors{Errors: errs}
	}

	_, err := s.run(ctx, func(tx Transaction) error {
		for _, tmpl := range templates {
			if _, err := tx.CreateTemplate(tmpl); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, tmpl := range templates {
		s.cache.Delete(tmpl.Path.String())
	}
	s.logger.Info("templates loaded", "count", len(templates))
	return len(templates), nil
}

func (s *Service) buildTemplate(rawPath string, def templateDefinition) (Template, []error) {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, domain.ErrInvalidDefinition{Ref: rawPath, Reason: fmt.Sprintf(format, args...)})
	}

	path, err := domain.ParseTypePath(rawPath)
	if err != nil {
		fail("type path: %v", err)
	}

	subtype := Subtype(strings.TrimSpace(def.Subtype))
	if subtype == "" {
		subtype = domain.SubtypeGeneric
	}
	if _, ok := s.registry.Spec(subtype); !ok {
		fail("unknown subtype %q", subtype)
	}

	prefix := strings.ToUpper(strings.TrimSpace(def.Prefix))
	if prefix == "" {
		fail("identifier prefix is required")
	} else if !domain.ValidPrefix(prefix) {
		fail("invalid identifier prefix %q", prefix)
	}

	layouts := make([]ChildLayout, 0, len(def.Children))
	for i, child := range def.Children {
		childPath, err := domain.ParseTypePath(child.Path)
		if err != nil {
			fail("child %d: %v", i, err)
			continue
		}
		if child.Count < 1 {
			fail("child %d: count must be at least 1", i)
		}
		if strings.TrimSpace(child.Relation) == "" {
			fail("child %d: relation is required", i)
		}
		layouts = append(layouts, ChildLayout{
			Path:        childPath.String(),
			Count:       child.Count,
			NamePattern: child.NamePattern,
			Relation:    strings.TrimSpace(child.Relation),
		})
	}

	actions := make([]ActionDef, 0, len(def.Actions))
	for i, act := range def.Actions {
		group := strings.TrimSpace(act.Group)
		key := strings.TrimSpace(act.Key)
		method := strings.TrimSpace(act.Method)
		if group == "" || key == "" {
			fail("action %d: group and key are required", i)
		}
		if method == "" {
			fail("action %d: method is required", i)
		} else if !strings.HasPrefix(method, HandlerPrefix) {
			fail("action %d: method %q must start with %q", i, method, HandlerPrefix)
		}
		if act.MaxExecutions < 0 {
			fail("action %d: max_executions cannot be negative", i)
		}
		deactivates := make([]string, 0, len(act.DeactivateOnExecute))
		for j, target := range act.DeactivateOnExecute {
			target = strings.TrimSpace(target)
			if target == "" || !strings.Contains(target, "/") {
				fail("action %d: deactivate_on_execute %d must be group/key", i, j)
				continue
			}
			deactivates = append(deactivates, target)
		}
		actions = append(actions, ActionDef{
			Group:               group,
			Key:                 key,
			Method:              method,
			MaxExecutions:       act.MaxExecutions,
			DeactivateOnExecute: deactivates,
		})
	}

	imports := make([]string, 0, len(def.Imports))
	for i, imp := range def.Imports {
		imp = strings.TrimSpace(imp)
		if imp == "" {
			fail("import %d: empty type path", i)
			continue
		}
		if _, err := domain.ParseTypePath(imp); err != nil {
			fail("import %d: %v", i, err)
			continue
		}
		imports = append(imports, imp)
	}

	if len(errs) > 0 {
		return Template{}, errs
	}

	defaults := s.registry.Seed(subtype)
	if len(def.Defaults) > 0 {
		overlay, err := document.FromRawMap(def.Defaults)
		if err != nil {
			fail("defaults: %v", err)
			return Template{}, errs
		}
		defaults = defaults.Merge(overlay)
	}

	return Template{
		Path:          path,
		Subtype:       subtype,
		Prefix:        prefix,
		Status:        domain.TemplateActive,
		Defaults:      defaults,
		ChildLayouts:  layouts,
		Actions:       actions,
		ActionImports: imports,
	}, nil
}

// ResolveTemplate returns the live template registered under a type path. The
// lookup is memoized; mutation paths invalidate the cache entry. Callers get
// a detached copy, never the cached value itself.
func (s *Service) ResolveTemplate(ctx context.Context, rawPath string) (Template, error) {
	path, err := domain.ParseTypePath(rawPath)
	if err != nil {
		return Template{}, domain.ErrInvalidDefinition{Ref: rawPath, Reason: err.Error()}
	}
	key := path.String()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(Template).Clone(), nil
	}
	var out Template
	err = s.store.View(ctx, func(v TransactionView) error {
		t, ok := v.FindTemplateByPath(path)
		if !ok {
			return domain.ErrNotFound{Entity: EntityTemplate, Ref: key}
		}
		out = t
		return nil
	})
	if err != nil {
		return Template{}, err
	}
	s.cache.Set(key, out.Clone(), gocache.DefaultExpiration)
	return out, nil
}

// ListTemplates returns registered templates, optionally filtered by type
// path prefix.
func (s *Service) ListTemplates(ctx context.Context, opts ListOptions) ([]Template, error) {
	var out []Template
	err := s.store.View(ctx, func(v TransactionView) error {
		out = v.ListTemplates(opts)
		return nil
	})
	return out, err
}

// DeprecateTemplate marks a template as deprecated. Existing instances keep
// working; new instantiation refuses deprecated templates.
func (s *Service) DeprecateTemplate(ctx context.Context, id string) (Template, error) {
	var updated Template
	_, err := s.run(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateTemplate(id, func(t *Template) error {
			t.Status = domain.TemplateDeprecated
			return nil
		})
		return err
	})
	if err != nil {
		return Template{}, err
	}
	s.cache.Delete(updated.Path.String())
	return updated, nil
}

// DeleteTemplate soft-deletes a template, freeing its type path for
// re-registration.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	tmpl, err := s.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.run(ctx, func(tx Transaction) error {
		return tx.SoftDeleteTemplate(id)
	})
	if err != nil {
		return err
	}
	s.cache.Delete(tmpl.Path.String())
	return nil
}
