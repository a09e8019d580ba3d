// Package schema holds the canonical table definitions and keeps the local
// and remote stores aligned with them.
package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Builder collects definitions until Build freezes them into a Registry.
type Builder struct {
	defs map[string]model.SchemaDefinition
}

func NewBuilder() *Builder {
	return &Builder{defs: make(map[string]model.SchemaDefinition)}
}

// Register adds def. It fails with ErrDuplicateSchema when the table name is
// already taken and with ErrInvalidSchema when def cannot be translated.
func (b *Builder) Register(def model.SchemaDefinition) error {
	if err := Validate(def); err != nil {
		return err
	}
	if _, ok := b.defs[def.TableName]; ok {
		return fmt.Errorf("%w: %s", syncerr.ErrDuplicateSchema, def.TableName)
	}
	b.defs[def.TableName] = copyDef(def)
	return nil
}

// Build returns an immutable snapshot. The builder may keep being used; later
// registrations do not leak into registries already built.
func (b *Builder) Build() *Registry {
	r := &Registry{
		defs:  make(map[string]model.SchemaDefinition, len(b.defs)),
		names: make([]string, 0, len(b.defs)),
	}
	for name, def := range b.defs {
		r.defs[name] = copyDef(def)
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r
}

// Registry is the read-only set of table schemas.
type Registry struct {
	defs  map[string]model.SchemaDefinition
	names []string
}

// All returns every definition keyed by table name.
func (r *Registry) All() map[string]model.SchemaDefinition {
	out := make(map[string]model.SchemaDefinition, len(r.defs))
	for k, v := range r.defs {
		out[k] = copyDef(v)
	}
	return out
}

func (r *Registry) Get(table string) (model.SchemaDefinition, bool) {
	def, ok := r.defs[table]
	if !ok {
		return model.SchemaDefinition{}, false
	}
	return copyDef(def), true
}

func (r *Registry) Has(table string) bool {
	_, ok := r.defs[table]
	return ok
}

// Names returns the registered table names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *Registry) Len() int { return len(r.defs) }

// Validate checks that def only uses identifiers, types and constraints every
// store adapter can translate.
func Validate(def model.SchemaDefinition) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", syncerr.ErrInvalidSchema, def.TableName, fmt.Sprintf(format, args...))
	}

	if def.TableName == "" {
		return fmt.Errorf("%w: empty table name", syncerr.ErrInvalidSchema)
	}
	if !identRe.MatchString(def.TableName) {
		return invalid("table name is not a valid identifier")
	}
	if len(def.Columns) == 0 {
		return invalid("no columns")
	}

	seen := make(map[string]struct{}, len(def.Columns))
	for _, c := range def.Columns {
		if !identRe.MatchString(c.Name) {
			return invalid("column %q is not a valid identifier", c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return invalid("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if !c.Type.Valid() {
			return invalid("column %q has unknown type %q", c.Name, c.Type)
		}
		for _, con := range c.Constraints {
			if !con.Valid() {
				return invalid("column %q has unknown constraint %q", c.Name, con)
			}
		}
		switch c.Default.(type) {
		case nil, string, bool, int, int64, float64:
		default:
			return invalid("column %q has unsupported default %T", c.Name, c.Default)
		}
	}

	if _, ok := seen[def.PK()]; !ok {
		return invalid("primary key column %q is not declared", def.PK())
	}

	idx := make(map[string]struct{}, len(def.Indexes))
	for _, ix := range def.Indexes {
		if !identRe.MatchString(ix.Name) {
			return invalid("index %q is not a valid identifier", ix.Name)
		}
		if _, dup := idx[ix.Name]; dup {
			return invalid("duplicate index %q", ix.Name)
		}
		idx[ix.Name] = struct{}{}
		if len(ix.Columns) == 0 {
			return invalid("index %q has no columns", ix.Name)
		}
		for _, col := range ix.Columns {
			if _, ok := seen[col]; !ok {
				return invalid("index %q references unknown column %q", ix.Name, col)
			}
		}
	}
	return nil
}

func copyDef(def model.SchemaDefinition) model.SchemaDefinition {
	out := def
	out.Columns = make([]model.Column, len(def.Columns))
	for i, c := range def.Columns {
		c.Constraints = append([]model.Constraint(nil), c.Constraints...)
		out.Columns[i] = c
	}
	if def.Indexes != nil {
		out.Indexes = make([]model.Index, len(def.Indexes))
		for i, ix := range def.Indexes {
			ix.Columns = append([]string(nil), ix.Columns...)
			out.Indexes[i] = ix
		}
	}
	return out
}
