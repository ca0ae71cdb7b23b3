package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"objectcore/pkg/domain"
	"objectcore/pkg/domain/document"
)

// defaultNamePattern names generated children after their parent with a
// 1-based ordinal.
const defaultNamePattern = "{parent}_{index}"

var indexToken = regexp.MustCompile(`\{index(?::0*(\d+)d)?\}`)

// CreateOptions tunes a single instantiation call.
type CreateOptions struct {
	// SkipChildren suppresses the template's child layouts for this call.
	SkipChildren bool
}

// CreateResult reports everything one instantiation committed atomically.
type CreateResult struct {
	Root     Instance
	Children []Instance
	Edges    []LineageEdge
	Audit    []AuditRecord
}

// Total returns the number of instances created, root included.
func (r CreateResult) Total() int { return 1 + len(r.Children) }

// CreateInstance instantiates the template registered under rawPath,
// recursively creating the children its layouts declare and linking each with
// a lineage edge. The entire tree commits in one transaction: a failure at
// any depth, including the recursion guard tripping, leaves nothing behind.
func (s *Service) CreateInstance(ctx context.Context, rawPath, name string, props map[string]any, opts CreateOptions) (CreateResult, error) {
	path, err := domain.ParseTypePath(rawPath)
	if err != nil {
		return CreateResult{}, domain.ErrInvalidDefinition{Ref: rawPath, Reason: err.Error()}
	}
	var overlay document.Document
	if len(props) > 0 {
		overlay, err = document.FromRawMap(props)
		if err != nil {
			return CreateResult{}, domain.ErrInvalidDefinition{Ref: rawPath, Reason: fmt.Sprintf("properties: %v", err)}
		}
	}

	var result CreateResult
	records, err := s.run(ctx, func(tx Transaction) error {
		root, err := s.createRecursive(tx, path, name, overlay, opts, &result, 0)
		if err != nil {
			return err
		}
		result.Root = root
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	result.Audit = records
	s.metrics.InstancesCreated(result.Total())
	s.logger.Info("instance created",
		"euid", result.Root.EUID,
		"path", result.Root.Path.String(),
		"children", len(result.Children),
	)
	return result, nil
}

func (s *Service) createRecursive(tx Transaction, path TypePath, name string, overlay document.Document, opts CreateOptions, result *CreateResult, depth int) (Instance, error) {
	if depth >= s.maxDepth {
		return Instance{}, domain.ErrDepthExceeded{Path: path.String(), Depth: depth, Max: s.maxDepth}
	}
	tmpl, ok := tx.FindTemplateByPath(path)
	if !ok {
		return Instance{}, domain.ErrNotFound{Entity: EntityTemplate, Ref: path.String()}
	}
	if tmpl.Status == domain.TemplateDeprecated {
		return Instance{}, domain.ErrIntegrityViolation{Entity: EntityTemplate, Ref: path.String(), Reason: "template is deprecated"}
	}

	doc := tmpl.Defaults.Clone()
	if overlay.Len() > 0 {
		doc = doc.Merge(overlay)
	}

	inst, err := tx.CreateInstance(Instance{
		TemplateID: tmpl.ID,
		Name:       name,
		Path:       tmpl.Path,
		Subtype:    tmpl.Subtype,
		Status:     StatusActive,
		Doc:        doc,
		Actions:    s.materializeActions(tx, tmpl),
	})
	if err != nil {
		return Instance{}, err
	}
	if depth > 0 {
		result.Children = append(result.Children, inst)
	}

	if opts.SkipChildren && depth == 0 {
		return inst, nil
	}
	for _, layout := range tmpl.ChildLayouts {
		childPath, err := domain.ParseTypePath(layout.Path)
		if err != nil {
			return Instance{}, domain.ErrInvalidDefinition{Ref: layout.Path, Reason: err.Error()}
		}
		pattern := layout.NamePattern
		if pattern == "" {
			pattern = defaultNamePattern
		}
		for i := 1; i <= layout.Count; i++ {
			childName := expandNamePattern(pattern, inst.Name, i)
			child, err := s.createRecursive(tx, childPath, childName, document.Document{}, opts, result, depth+1)
			if err != nil {
				return Instance{}, err
			}
			edge, err := tx.CreateEdge(LineageEdge{
				ParentID: inst.ID,
				ChildID:  child.ID,
				Relation: layout.Relation,
			})
			if err != nil {
				return Instance{}, err
			}
			result.Edges = append(result.Edges, edge)
		}
	}
	return inst, nil
}

// materializeActions copies the template's action definitions, plus any the
// template imports from other registered templates, onto a new instance. An
// imported path that resolves to nothing is skipped; declaring templates own
// their availability.
func (s *Service) materializeActions(tx Transaction, tmpl Template) []ActionState {
	defs := make([]ActionDef, 0, len(tmpl.Actions))
	defs = append(defs, tmpl.Actions...)
	for _, imp := range tmpl.ActionImports {
		path, err := domain.ParseTypePath(imp)
		if err != nil {
			continue
		}
		src, ok := tx.FindTemplateByPath(path)
		if !ok {
			s.logger.Warn("action import not registered", "template", tmpl.Path.String(), "import", imp)
			continue
		}
		defs = append(defs, src.Actions...)
	}
	if len(defs) == 0 {
		return nil
	}
	states := make([]ActionState, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		ref := def.Group + "/" + def.Key
		if seen[ref] {
			continue
		}
		seen[ref] = true
		states = append(states, ActionState{ActionDef: def, Enabled: true})
	}
	return states
}

// expandNamePattern substitutes {parent} and {index} tokens. The index token
// accepts a printf-style zero-pad width, as in {index:03d}.
func expandNamePattern(pattern, parent string, index int) string {
	out := strings.ReplaceAll(pattern, "{parent}", parent)
	return indexToken.ReplaceAllStringFunc(out, func(token string) string {
		m := indexToken.FindStringSubmatch(token)
		if m[1] == "" {
			return strconv.Itoa(index)
		}
		width, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%0*d", width, index)
	})
}
