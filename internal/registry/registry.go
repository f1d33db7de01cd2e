// Package registry describes the tables a snapshot may contain and the order
// in which they must be restored so that parents exist before their children.
package registry

import (
	"fmt"
	"slices"
)

// Kind is the declared type of a field.
type Kind int

const (
	String Kind = iota
	Int
	Float
	Bool
	Time
	JSON
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Field struct {
	Name     string
	Kind     Kind
	Nullable bool
	// Ref names the table whose primary key this field holds.
	Ref string
}

// Table is the record type descriptor of a logical table.
type Table struct {
	Name       string
	PrimaryKey string
	Fields     []Field
	// References lists the tables this table holds foreign keys to. Field
	// refs are merged into it by New.
	References []string
}

// Field returns the declared field with the given name.
func (t *Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the declared field names in declaration order.
func (t *Table) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// Registry is an immutable set of tables with a derived total restore order.
type Registry struct {
	tables map[string]*Table
	names  []string
	order  []string
	rank   map[string]int
}

// New validates tables and derives the restore order: a stable topological
// sort where every referenced table precedes the tables referencing it and
// ties keep declaration order.
func New(tables ...Table) (*Registry, error) {
	r := &Registry{
		tables: make(map[string]*Table, len(tables)),
		rank:   make(map[string]int, len(tables)),
	}

	for i := range tables {
		t := tables[i]
		if t.Name == "" {
			return nil, fmt.Errorf("tables[%d].name is required", i)
		}
		if _, dup := r.tables[t.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		if t.PrimaryKey == "" {
			return nil, fmt.Errorf("table %s: primary key is required", t.Name)
		}
		if _, ok := t.Field(t.PrimaryKey); !ok {
			return nil, fmt.Errorf("table %s: primary key %q is not a declared field", t.Name, t.PrimaryKey)
		}
		seen := make(map[string]bool, len(t.Fields))
		for _, f := range t.Fields {
			if seen[f.Name] {
				return nil, fmt.Errorf("table %s: duplicate field %q", t.Name, f.Name)
			}
			seen[f.Name] = true
			if f.Ref != "" && !slices.Contains(t.References, f.Ref) {
				t.References = append(slices.Clone(t.References), f.Ref)
			}
		}
		r.tables[t.Name] = &t
		r.names = append(r.names, t.Name)
	}

	for _, name := range r.names {
		for _, ref := range r.tables[name].References {
			if _, ok := r.tables[ref]; !ok {
				return nil, fmt.Errorf("table %s references unknown table %q", name, ref)
			}
		}
	}

	order, err := r.sort()
	if err != nil {
		return nil, err
	}
	r.order = order
	for i, name := range order {
		r.rank[name] = i
	}

	return r, nil
}

// MustNew is New for static registries; it panics on an invalid definition.
func MustNew(tables ...Table) *Registry {
	r, err := New(tables...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) sort() ([]string, error) {
	placed := make(map[string]bool, len(r.names))
	order := make([]string, 0, len(r.names))

	for len(order) < len(r.names) {
		progressed := false
		for _, name := range r.names {
			if placed[name] {
				continue
			}
			ready := true
			for _, ref := range r.tables[name].References {
				if ref != name && !placed[ref] {
					ready = false
					break
				}
			}
			if ready {
				placed[name] = true
				order = append(order, name)
				progressed = true
				break
			}
		}
		if !progressed {
			var stuck []string
			for _, name := range r.names {
				if !placed[name] {
					stuck = append(stuck, name)
				}
			}
			return nil, fmt.Errorf("reference cycle between tables %v", stuck)
		}
	}

	return order, nil
}

// AllTableNames returns every table name in declaration order.
func (r *Registry) AllTableNames() []string {
	return slices.Clone(r.names)
}

// RestoreOrder returns every table name, parents first.
func (r *Registry) RestoreOrder() []string {
	return slices.Clone(r.order)
}

// Lookup returns the descriptor of a table.
func (r *Registry) Lookup(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Has reports whether name is a registered table.
func (r *Registry) Has(name string) bool {
	_, ok := r.tables[name]
	return ok
}

// Rank returns the position of name in the restore order, or -1.
func (r *Registry) Rank(name string) int {
	if i, ok := r.rank[name]; ok {
		return i
	}
	return -1
}
