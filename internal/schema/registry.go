// Package schema describes the entities the operations governor may act on:
// their fields, types, mutability, sensitivity, and allowed comparison
// operators. A Registry is immutable once built and is shared by every stage
// of the pipeline.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/campusiq/opsgovernor/models"
)

// FieldType is the storage type of a field
type FieldType string

const (
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeString FieldType = "string"
	TypeBool   FieldType = "bool"
	TypeDate   FieldType = "date"
)

// Field describes one column of an entity
type Field struct {
	Name       string
	Type       FieldType
	Mutable    bool
	Sensitive  bool
	Unique     bool
	Required   bool
	References string // entity name of a foreign key target, empty if none
	Operators  []models.Operator
}

// Allows reports whether op may be used on the field
func (f *Field) Allows(op models.Operator) bool {
	for _, o := range f.Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Entity describes one governable record type
type Entity struct {
	Name       string
	Table      string
	Module     string
	Aliases    []string
	Sensitive  bool
	ScopeField string // column carrying department ownership, empty if unscoped
	Fields     []*Field

	byName map[string]*Field
}

// Field looks up a field by name; matching is case-insensitive and spaces
// are treated as underscores.
func (e *Entity) Field(name string) (*Field, bool) {
	f, ok := e.byName[normalizeName(name)]
	return f, ok
}

// FieldNames returns the entity's column names in declaration order
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// NumericFields returns the names of int and float fields other than keys
func (e *Entity) NumericFields() []string {
	var names []string
	for _, f := range e.Fields {
		if f.Name == "id" || f.References != "" {
			continue
		}
		if f.Type == TypeInt || f.Type == TypeFloat {
			names = append(names, f.Name)
		}
	}
	return names
}

// Reference is a foreign key pointing at an entity
type Reference struct {
	Entity string
	Field  string
}

// Registry is an immutable set of entity descriptions
type Registry struct {
	entities map[string]*Entity
	aliases  map[string]string
	order    []string
}

// New builds a registry from entity descriptions. Fields without explicit
// operators get the defaults for their type.
func New(entities ...*Entity) (*Registry, error) {
	r := &Registry{
		entities: make(map[string]*Entity),
		aliases:  make(map[string]string),
	}
	for _, e := range entities {
		if _, dup := r.entities[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", e.Name)
		}
		if e.Table == "" {
			e.Table = e.Name
		}
		e.byName = make(map[string]*Field, len(e.Fields))
		for _, f := range e.Fields {
			if len(f.Operators) == 0 {
				f.Operators = DefaultOperators(f.Type)
			}
			e.byName[f.Name] = f
		}
		if e.ScopeField != "" {
			if _, ok := e.byName[e.ScopeField]; !ok {
				return nil, fmt.Errorf("entity %q: scope field %q not declared", e.Name, e.ScopeField)
			}
		}
		r.entities[e.Name] = e
		r.order = append(r.order, e.Name)
		r.aliases[e.Name] = e.Name
		r.aliases[e.Name+"s"] = e.Name
		for _, a := range e.Aliases {
			r.aliases[normalizeName(a)] = e.Name
		}
	}
	for _, e := range r.entities {
		for _, f := range e.Fields {
			if f.References != "" {
				if _, ok := r.entities[f.References]; !ok {
					return nil, fmt.Errorf("entity %q field %q references unknown entity %q", e.Name, f.Name, f.References)
				}
			}
		}
	}
	return r, nil
}

// DefaultOperators returns the comparison operators allowed for a type
func DefaultOperators(t FieldType) []models.Operator {
	switch t {
	case TypeInt, TypeFloat, TypeDate:
		return []models.Operator{models.OpEq, models.OpNe, models.OpLt, models.OpLte, models.OpGt, models.OpGte, models.OpIn}
	case TypeString:
		return []models.Operator{models.OpEq, models.OpNe, models.OpIn, models.OpContains}
	case TypeBool:
		return []models.Operator{models.OpEq, models.OpNe}
	}
	return nil
}

// Resolve finds an entity by name, plural, or alias
func (r *Registry) Resolve(name string) (*Entity, bool) {
	canonical, ok := r.aliases[normalizeName(name)]
	if !ok {
		return nil, false
	}
	return r.entities[canonical], true
}

// Entities returns every entity in registration order
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entities[name])
	}
	return out
}

// ForModule returns the entity vocabulary for a module hint. An empty or
// unknown hint yields every entity.
func (r *Registry) ForModule(hint string) []*Entity {
	hint = strings.ToLower(strings.TrimSpace(hint))
	var out []*Entity
	for _, e := range r.Entities() {
		if e.Module == hint {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return r.Entities()
	}
	return out
}

// Aliases returns every accepted spelling mapped to its entity, longest first
func (r *Registry) Aliases() []string {
	out := make([]string, 0, len(r.aliases))
	for a := range r.aliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// ReferencedBy lists every foreign key that points at the named entity
func (r *Registry) ReferencedBy(entity string) []Reference {
	var refs []Reference
	for _, e := range r.Entities() {
		for _, f := range e.Fields {
			if f.References == entity {
				refs = append(refs, Reference{Entity: e.Name, Field: f.Name})
			}
		}
	}
	return refs
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.Join(strings.Fields(s), "_")
}
