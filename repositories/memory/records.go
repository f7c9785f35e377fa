package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/campusiq/opsgovernor/internal/predicate"
	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
)

// RecordStore implements repositories.RecordStore over a DB. Constraints
// behave like the Postgres schema: unique columns, required columns, and
// restrictive foreign keys.
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a record store on db
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

func matching(t map[int64]models.Row, filters []models.Filter) []models.Row {
	var rows []models.Row
	for _, r := range t {
		if predicate.Match(r, filters) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, _ := rows[i].ID()
		b, _ := rows[j].ID()
		return a < b
	})
	return rows
}

// Count returns the number of rows matching filters
func (s *RecordStore) Count(ctx context.Context, entity string, filters []models.Filter) (int64, error) {
	e, err := s.db.entity(entity)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.view(ctx, func(d *dataset) error {
		n = int64(len(matching(d.table(e.Name), filters)))
		return nil
	})
	return n, err
}

// Select returns up to limit matching rows ordered by id
func (s *RecordStore) Select(ctx context.Context, entity string, filters []models.Filter, limit int) ([]models.Row, error) {
	e, err := s.db.entity(entity)
	if err != nil {
		return nil, err
	}
	var out []models.Row
	err = s.db.view(ctx, func(d *dataset) error {
		for _, r := range matching(d.table(e.Name), filters) {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, r.Clone())
		}
		return nil
	})
	return out, err
}

// Aggregate summarises numeric fields over the matching rows
func (s *RecordStore) Aggregate(ctx context.Context, entity string, filters []models.Filter, fields []string) (map[string]models.FieldStats, error) {
	e, err := s.db.entity(entity)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.FieldStats, len(fields))
	err = s.db.view(ctx, func(d *dataset) error {
		rows := matching(d.table(e.Name), filters)
		for _, name := range fields {
			if _, ok := e.Field(name); !ok {
				return fmt.Errorf("entity %s has no field %s", e.Name, name)
			}
			var st models.FieldStats
			var sum float64
			for _, r := range rows {
				v, ok := toFloat(r[name])
				if !ok {
					continue
				}
				st.Count++
				sum += v
				if st.Min == nil || v < *st.Min {
					lo := v
					st.Min = &lo
				}
				if st.Max == nil || v > *st.Max {
					hi := v
					st.Max = &hi
				}
			}
			if st.Count > 0 {
				avg := sum / float64(st.Count)
				st.Avg = &avg
			}
			out[name] = st
		}
		return nil
	})
	return out, err
}

// Insert stores a row and returns its id
func (s *RecordStore) Insert(ctx context.Context, entity string, row models.Row) (int64, error) {
	e, err := s.db.entity(entity)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.update(ctx, func(d *dataset) error {
		t := d.table(e.Name)
		stored := row.Clone()
		if explicit, ok := stored.ID(); ok {
			if _, exists := t[explicit]; exists {
				return fmt.Errorf("%w: %s id %d", repositories.ErrUniqueViolation, e.Name, explicit)
			}
			id = explicit
		} else {
			id = d.nextID[e.Name] + 1
		}
		if id > d.nextID[e.Name] {
			d.nextID[e.Name] = id
		}
		stored["id"] = id
		for _, f := range e.Fields {
			if _, ok := stored[f.Name]; !ok {
				stored[f.Name] = nil
			}
		}
		if err := checkRow(d, e, stored); err != nil {
			return err
		}
		t[id] = stored
		return nil
	})
	return id, err
}

// Update assigns values to every matching row
func (s *RecordStore) Update(ctx context.Context, entity string, filters []models.Filter, values map[string]any) (int64, error) {
	e, err := s.db.entity(entity)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.update(ctx, func(d *dataset) error {
		t := d.table(e.Name)
		for _, r := range matching(t, filters) {
			id, _ := r.ID()
			updated := r.Clone()
			for k, v := range values {
				updated[k] = v
			}
			if err := checkRow(d, e, updated); err != nil {
				return err
			}
			t[id] = updated
			n++
		}
		return nil
	})
	return n, err
}

// Delete removes every matching row. Rows still referenced by another
// entity are protected.
func (s *RecordStore) Delete(ctx context.Context, entity string, filters []models.Filter) (int64, error) {
	e, err := s.db.entity(entity)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.update(ctx, func(d *dataset) error {
		t := d.table(e.Name)
		rows := matching(t, filters)
		for _, r := range rows {
			id, _ := r.ID()
			for _, ref := range s.db.registry.ReferencedBy(e.Name) {
				for _, other := range d.table(ref.Entity) {
					if c, ok := predicate.Compare(other[ref.Field], id); ok && c == 0 {
						return fmt.Errorf("%w: %s %d referenced by %s.%s", repositories.ErrForeignKey, e.Name, id, ref.Entity, ref.Field)
					}
				}
			}
		}
		for _, r := range rows {
			id, _ := r.ID()
			delete(t, id)
			n++
		}
		return nil
	})
	return n, err
}

// checkRow enforces required, unique and foreign key constraints
func checkRow(d *dataset, e *schema.Entity, row models.Row) error {
	for _, f := range e.Fields {
		v := row[f.Name]
		if v == nil {
			if f.Required {
				return fmt.Errorf("%w: %s.%s", repositories.ErrNotNull, e.Name, f.Name)
			}
			continue
		}
		if f.Unique {
			for id, other := range d.table(e.Name) {
				if id == idOf(row) {
					continue
				}
				if c, ok := predicate.Compare(other[f.Name], v); ok && c == 0 {
					return fmt.Errorf("%w: %s.%s = %v", repositories.ErrUniqueViolation, e.Name, f.Name, v)
				}
			}
		}
		if f.References != "" {
			target := d.tables[f.References]
			refID, ok := toInt(v)
			if !ok {
				return fmt.Errorf("%w: %s.%s = %v", repositories.ErrForeignKey, e.Name, f.Name, v)
			}
			if _, exists := target[refID]; !exists {
				return fmt.Errorf("%w: %s.%s = %v", repositories.ErrForeignKey, e.Name, f.Name, v)
			}
		}
	}
	return nil
}

func idOf(row models.Row) int64 {
	id, _ := row.ID()
	return id
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
