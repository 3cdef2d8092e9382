package registry

import (
	"fmt"

	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/query"
)

// Registry resolves kinds to descriptors. It is built once at startup,
// checked against the closed kind enumeration, and never mutated.
type Registry struct {
	descriptors map[kind.Kind]*Descriptor
}

// New builds a registry. Every kind in kind.All must be described exactly
// once, and every cross-kind reference must resolve.
func New(descriptors ...*Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[kind.Kind]*Descriptor, len(descriptors))}

	for _, d := range descriptors {
		if d == nil {
			return nil, fmt.Errorf("registry: nil descriptor")
		}
		if _, err := kind.Parse(string(d.Kind)); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		if _, ok := r.descriptors[d.Kind]; ok {
			return nil, fmt.Errorf("registry: kind %s described twice", d.Kind)
		}
		r.descriptors[d.Kind] = d
	}

	for _, k := range kind.All() {
		if _, ok := r.descriptors[k]; !ok {
			return nil, fmt.Errorf("registry: kind %s has no descriptor", k)
		}
	}

	for _, d := range r.descriptors {
		if err := r.check(d); err != nil {
			return nil, fmt.Errorf("registry: %s: %w", d.Kind, err)
		}
	}

	return r, nil
}

// Resolve returns the descriptor for k.
func (r *Registry) Resolve(k kind.Kind) (*Descriptor, error) {
	d, ok := r.descriptors[k]
	if !ok {
		return nil, errs.New(errs.UnknownKind, "kind %q is not registered", k)
	}
	return d, nil
}

// Parse resolves an external kind name.
func (r *Registry) Parse(name string) (*Descriptor, error) {
	k, err := kind.Parse(name)
	if err != nil {
		return nil, errs.Wrap(errs.UnknownKind, err, "resolving %q", name)
	}
	return r.Resolve(k)
}

// Kinds lists registered kinds in declaration order.
func (r *Registry) Kinds() []kind.Kind {
	return kind.All()
}

func (r *Registry) check(d *Descriptor) error {
	if d.Table == "" {
		return fmt.Errorf("no table")
	}

	names := make(map[string]bool)
	claim := func(name string) error {
		if name == "" {
			return fmt.Errorf("empty field name")
		}
		if names[name] {
			return fmt.Errorf("field %q declared twice", name)
		}
		names[name] = true
		return nil
	}

	for _, f := range d.Fields {
		if err := claim(f.Name); err != nil {
			return err
		}
		if f.Column == "" {
			return fmt.Errorf("field %q has no column", f.Name)
		}
	}

	for _, rel := range d.Relations {
		if err := claim(rel.Name); err != nil {
			return err
		}
		if err := r.checkRelation(rel); err != nil {
			return fmt.Errorf("relation %q: %w", rel.Name, err)
		}
	}

	for _, u := range d.Unions {
		if err := claim(u.Name); err != nil {
			return err
		}
		if len(u.Branches) < 2 {
			return fmt.Errorf("union %q needs at least two branches", u.Name)
		}
		seen := make(map[kind.Kind]bool)
		for _, b := range u.Branches {
			if seen[b.Kind] {
				return fmt.Errorf("union %q: branch %s declared twice", u.Name, b.Kind)
			}
			seen[b.Kind] = true
			if err := r.checkRelation(b); err != nil {
				return fmt.Errorf("union %q branch %s: %w", u.Name, b.Kind, err)
			}
		}
	}

	for _, c := range d.Counts {
		if err := claim(c.Name); err != nil {
			return err
		}
		if err := c.Link.Validate(); err != nil {
			return fmt.Errorf("count %q: %w", c.Name, err)
		}
		if c.Link.BelongsTo() {
			return fmt.Errorf("count %q must count a one-to-many link", c.Name)
		}
	}

	if d.Supplemental != nil {
		if d.Supplemental.Resolve == nil {
			return fmt.Errorf("supplemental fields without resolver")
		}
		for _, f := range d.Supplemental.Fields {
			if err := claim(f); err != nil {
				return err
			}
		}
	}

	if err := r.checkMutate(d); err != nil {
		return err
	}

	vis := d.Validate.Visibility
	if vis.Public == nil || vis.Private == nil || vis.Owner == nil {
		return fmt.Errorf("incomplete visibility predicates")
	}
	if d.Validate.PermissionsSelect == nil {
		return fmt.Errorf("no permissions select")
	}
	if d.Validate.PermissionsSelect.Table != d.Table {
		return fmt.Errorf("permissions select targets %s", d.Validate.PermissionsSelect.Table)
	}

	if d.Version != nil {
		if _, ok := r.descriptors[d.Version.RootKind]; !ok {
			return fmt.Errorf("version root kind %s is not registered", d.Version.RootKind)
		}
	}
	if d.Root != nil {
		if _, ok := r.descriptors[d.Root.VersionKind]; !ok {
			return fmt.Errorf("root version kind %s is not registered", d.Root.VersionKind)
		}
	}

	return nil
}

func (r *Registry) checkRelation(rel Relation) error {
	target, ok := r.descriptors[rel.Kind]
	if !ok {
		return fmt.Errorf("target kind %s is not registered", rel.Kind)
	}
	if rel.Storage == "" {
		return fmt.Errorf("no storage name")
	}
	if err := rel.Link.Validate(); err != nil {
		return err
	}
	if rel.Link.Table != target.Table {
		return fmt.Errorf("link table %s does not match %s table %s", rel.Link.Table, rel.Kind, target.Table)
	}
	return nil
}

func (r *Registry) checkMutate(d *Descriptor) error {
	if d.Mutate == nil {
		return nil
	}

	for _, rule := range d.Mutate.Rules {
		rel, ok := d.Relation(rule.Relation)
		if !ok {
			return fmt.Errorf("rule for unknown relation %q", rule.Relation)
		}
		many := rel.Link.Many || rel.Link.Through != nil
		if many != (rule.Cardinality == Many) {
			return fmt.Errorf("rule %q cardinality does not match its link", rule.Relation)
		}
		if rule.Required && rule.Cardinality == Many {
			return fmt.Errorf("rule %q: only one-to-one relations can be required", rule.Relation)
		}
		for _, op := range rule.Ops {
			if !validOp(op) {
				return fmt.Errorf("rule %q: unknown operation %q", rule.Relation, op)
			}
		}
	}

	return nil
}

func validOp(op query.Op) bool {
	for _, o := range query.Ops {
		if o == op {
			return true
		}
	}
	return false
}
