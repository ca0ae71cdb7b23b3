package domain

import (
	"fmt"
	"sort"
	"sync"

	"objectcore/pkg/domain/document"
)

// SubtypeSpec describes one registered polymorphic variant: which entity kind
// it discriminates and a constructor seeding variant-specific defaults. The
// registry replaces the open-ended runtime class lookup of discriminator
// columns with a closed set populated at startup.
type SubtypeSpec struct {
	Entity      EntityType
	Description string
	Seed        func() document.Document
}

// SubtypeRegistry maps discriminator tags to their specs.
type SubtypeRegistry struct {
	mu      sync.RWMutex
	entries map[Subtype]SubtypeSpec
}

// NewSubtypeRegistry returns an empty registry.
func NewSubtypeRegistry() *SubtypeRegistry {
	return &SubtypeRegistry{entries: make(map[Subtype]SubtypeSpec)}
}

// Register adds a subtype. Duplicate tags are rejected so two packages cannot
// silently claim the same discriminator.
func (r *SubtypeRegistry) Register(tag Subtype, spec SubtypeSpec) error {
	if tag == "" {
		return fmt.Errorf("subtype tag must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[tag]; exists {
		return fmt.Errorf("subtype %q already registered", tag)
	}
	r.entries[tag] = spec
	return nil
}

// Known reports whether the tag is registered.
func (r *SubtypeRegistry) Known(tag Subtype) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[tag]
	return ok
}

// Spec returns the registered spec for a tag.
func (r *SubtypeRegistry) Spec(tag Subtype) (SubtypeSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.entries[tag]
	return spec, ok
}

// Seed returns variant defaults for the tag, or an empty document when the
// spec declares no constructor.
func (r *SubtypeRegistry) Seed(tag Subtype) document.Document {
	spec, ok := r.Spec(tag)
	if !ok || spec.Seed == nil {
		return document.New()
	}
	return spec.Seed()
}

// Tags returns the sorted registered discriminators.
func (r *SubtypeRegistry) Tags() []Subtype {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]Subtype, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Built-in discriminators covering the core variants. Applications register
// further tags at startup before loading templates that use them.
const (
	SubtypeGeneric   Subtype = "generic"
	SubtypeContainer Subtype = "container"
	SubtypeItem      Subtype = "item"
	SubtypeAction    Subtype = "action"
)

// DefaultSubtypeRegistry returns a registry seeded with the built-in tags.
func DefaultSubtypeRegistry() *SubtypeRegistry {
	r := NewSubtypeRegistry()
	builtins := map[Subtype]SubtypeSpec{
		SubtypeGeneric:   {Entity: EntityInstance, Description: "untyped record"},
		SubtypeContainer: {Entity: EntityInstance, Description: "holds child instances"},
		SubtypeItem:      {Entity: EntityInstance, Description: "leaf record"},
		SubtypeAction:    {Entity: EntityInstance, Description: "first-class action record"},
	}
	for tag, spec := range builtins {
		if err := r.Register(tag, spec); err != nil {
			panic(err)
		}
	}
	return r
}
