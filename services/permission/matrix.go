// Package permission decides whether an identity may run a plan. The
// decision is a pure lookup of (role, operation, entity) in an immutable
// matrix, with department scope re-verified for ALLOW_SCOPED entries.
package permission

import (
	"fmt"
	"os"
	"strings"

	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"gopkg.in/yaml.v3"
)

// Matrix maps role, operation and entity to an effect. It is never mutated
// after construction.
type Matrix struct {
	entries map[models.Role]map[models.OpKind]map[string]models.Effect
}

// Lookup returns the effect for a triple. ok is false when no entry exists.
func (m *Matrix) Lookup(role models.Role, op models.OpKind, entity string) (models.Effect, bool) {
	effect, ok := m.entries[role][op][entity]
	return effect, ok
}

// Roles returns the roles that have at least one entry
func (m *Matrix) Roles() []models.Role {
	roles := make([]models.Role, 0, len(m.entries))
	for r := range m.entries {
		roles = append(roles, r)
	}
	return roles
}

type builder struct {
	entries map[models.Role]map[models.OpKind]map[string]models.Effect
}

func newBuilder() *builder {
	return &builder{entries: make(map[models.Role]map[models.OpKind]map[string]models.Effect)}
}

func (b *builder) set(role models.Role, op models.OpKind, effect models.Effect, entities ...string) {
	ops, ok := b.entries[role]
	if !ok {
		ops = make(map[models.OpKind]map[string]models.Effect)
		b.entries[role] = ops
	}
	ents, ok := ops[op]
	if !ok {
		ents = make(map[string]models.Effect)
		ops[op] = ents
	}
	for _, e := range entities {
		ents[e] = effect
	}
}

func (b *builder) build() *Matrix {
	return &Matrix{entries: b.entries}
}

// DefaultMatrix is the campus role matrix. Admins may do anything in the
// registry; faculty and students act within their own department.
func DefaultMatrix(registry *schema.Registry) *Matrix {
	b := newBuilder()

	var all []string
	for _, e := range registry.Entities() {
		all = append(all, e.Name)
	}
	for _, op := range models.AllOpKinds {
		b.set(models.RoleAdmin, op, models.EffectAllow, all...)
	}

	readable := []string{"student", "course", "department", "attendance", "prediction"}

	b.set(models.RoleStudent, models.OpRead, models.EffectAllowScoped, readable...)
	b.set(models.RoleStudent, models.OpAnalyze, models.EffectAllowScoped, "attendance", "prediction")

	b.set(models.RoleFaculty, models.OpRead, models.EffectAllowScoped, readable...)
	b.set(models.RoleFaculty, models.OpAnalyze, models.EffectAllowScoped, "student", "course", "attendance", "prediction")
	b.set(models.RoleFaculty, models.OpCreate, models.EffectAllowScoped, "attendance")
	b.set(models.RoleFaculty, models.OpUpdate, models.EffectAllowScoped, "attendance", "course", "student")

	return b.build()
}

// policyFile is the YAML shape: roles -> operation -> entity -> effect
type policyFile struct {
	Roles map[string]map[string]map[string]string `yaml:"roles"`
}

// ParseMatrix builds a matrix from a YAML policy document. Entity "*" expands
// to every registry entity; entries listed after it override the expansion.
func ParseMatrix(data []byte, registry *schema.Registry) (*Matrix, error) {
	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if len(doc.Roles) == 0 {
		return nil, fmt.Errorf("policy defines no roles")
	}

	b := newBuilder()
	for role, ops := range doc.Roles {
		for opName, ents := range ops {
			op, ok := models.ParseOpKind(opName)
			if !ok {
				return nil, fmt.Errorf("role %s: unknown operation %q", role, opName)
			}
			// wildcard first so explicit entries win
			if raw, ok := ents["*"]; ok {
				effect, err := parseEffect(raw)
				if err != nil {
					return nil, fmt.Errorf("role %s %s *: %w", role, op, err)
				}
				for _, e := range registry.Entities() {
					b.set(models.Role(role), op, effect, e.Name)
				}
			}
			for name, raw := range ents {
				if name == "*" {
					continue
				}
				entity, ok := registry.Resolve(name)
				if !ok {
					return nil, fmt.Errorf("role %s %s: unknown entity %q", role, op, name)
				}
				effect, err := parseEffect(raw)
				if err != nil {
					return nil, fmt.Errorf("role %s %s %s: %w", role, op, name, err)
				}
				b.set(models.Role(role), op, effect, entity.Name)
			}
		}
	}
	return b.build(), nil
}

// LoadMatrix reads a YAML policy file
func LoadMatrix(path string, registry *schema.Registry) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParseMatrix(data, registry)
}

func parseEffect(s string) (models.Effect, error) {
	switch effect := models.Effect(strings.ToUpper(strings.TrimSpace(s))); effect {
	case models.EffectAllow, models.EffectAllowScoped, models.EffectDeny:
		return effect, nil
	}
	return "", fmt.Errorf("unknown effect %q", s)
}
