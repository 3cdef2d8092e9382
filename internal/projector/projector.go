package projector

import (
	"github.com/emrgen/omnistore/internal/compress"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
)

// Projector translates client selections into storage selections and stored
// rows back into client objects.
type Projector struct {
	registry *registry.Registry
	codec    compress.Compress
}

func New(reg *registry.Registry, codec compress.Compress) *Projector {
	if codec == nil {
		codec = compress.NewNop()
	}
	return &Projector{registry: reg, codec: codec}
}

// ToQuery builds the storage selection for sel. The id column is always
// selected; unknown and hidden fields fail with ValidationError.
func (p *Projector) ToQuery(d *registry.Descriptor, sel Selection) (*query.Select, error) {
	out := query.NewSelect(d.Table, "id")

	for _, name := range sel.Fields() {
		sub := sel[name]
		if name == "id" || name == registry.TypenameField {
			continue
		}

		if f, ok := d.Field(name); ok {
			if f.Hidden {
				return nil, errs.New(errs.ValidationError, "%s.%s cannot be selected", d.Kind, name)
			}
			out.Column(f.Column)
			continue
		}

		if rel, ok := d.Relation(name); ok {
			nested, err := p.related(rel, sub)
			if err != nil {
				return nil, err
			}
			out.With(rel.Storage, rel.Link, nested)
			continue
		}

		if u, ok := d.Union(name); ok {
			for branch := range sub {
				if _, ok := branchOf(u, branch); !ok {
					return nil, errs.New(errs.ValidationError, "%s.%s has no branch %q", d.Kind, name, branch)
				}
			}
			// every branch is fetched so presence decides which one is populated
			for _, b := range u.Branches {
				nested, err := p.related(b, sub[string(b.Kind)])
				if err != nil {
					return nil, err
				}
				out.With(b.Storage, b.Link, nested)
			}
			continue
		}

		if c, ok := d.Count(name); ok {
			out.Count(c.Name, c.Link)
			continue
		}

		if d.Supplemental.Has(name) {
			out.Column(d.Supplemental.Columns...)
			continue
		}

		return nil, errs.New(errs.ValidationError, "%s has no field %q", d.Kind, name)
	}

	return out, nil
}

func (p *Projector) related(rel registry.Relation, sub Selection) (*query.Select, error) {
	target, err := p.registry.Resolve(rel.Kind)
	if err != nil {
		return nil, err
	}
	q, err := p.ToQuery(target, sub)
	if err != nil {
		return nil, err
	}
	// related rows are authorized on shaping like directly read rows
	return q.Merge(target.Validate.PermissionsSelect), nil
}

func branchOf(u registry.Union, name string) (registry.Relation, bool) {
	for _, b := range u.Branches {
		if string(b.Kind) == name {
			return b, true
		}
	}
	return registry.Relation{}, false
}
