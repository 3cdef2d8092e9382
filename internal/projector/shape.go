package projector

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/emrgen/omnistore/internal/authz"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/sirupsen/logrus"
)

// Shape turns stored rows of d into client objects holding exactly the
// selected fields plus id and __typename, then fills supplemental fields.
func (p *Projector) Shape(ctx context.Context, d *registry.Descriptor, rows []query.Row, sel Selection, viewer perm.Viewer, env registry.Env) ([]registry.Object, error) {
	run := newRun(viewer)
	out := make([]registry.Object, 0, len(rows))
	for _, row := range rows {
		obj, err := p.shape(run, d, row, sel)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}

	p.supplement(ctx, run, viewer, env)
	return out, nil
}

func (p *Projector) shape(run *run, d *registry.Descriptor, row query.Row, sel Selection) (registry.Object, error) {
	obj := registry.Object{
		"id":                   row.ID(),
		registry.TypenameField: string(d.Kind),
	}

	var supplemental []string
	for _, name := range sel.Fields() {
		sub := sel[name]
		if name == "id" || name == registry.TypenameField {
			continue
		}

		if f, ok := d.Field(name); ok {
			if f.Hidden {
				continue
			}
			v, err := p.value(f, row)
			if err != nil {
				return nil, errs.Wrap(errs.Internal, err, "%s.%s", d.Kind, name)
			}
			obj[name] = v
			continue
		}

		if rel, ok := d.Relation(name); ok {
			v, err := p.shapeRelation(run, rel, row, sub)
			if err != nil {
				return nil, err
			}
			obj[name] = v
			continue
		}

		if u, ok := d.Union(name); ok {
			v, err := p.shapeUnion(run, d, u, row, sub)
			if err != nil {
				return nil, err
			}
			obj[name] = v
			continue
		}

		if _, ok := d.Count(name); ok {
			obj[name] = row.Count(name)
			continue
		}

		if d.Supplemental.Has(name) {
			supplemental = append(supplemental, name)
			continue
		}

		return nil, errs.New(errs.ValidationError, "%s has no field %q", d.Kind, name)
	}

	if len(supplemental) > 0 {
		run.add(d, obj, row, supplemental)
	}

	return obj, nil
}

func (p *Projector) shapeRelation(run *run, rel registry.Relation, row query.Row, sub Selection) (any, error) {
	target, err := p.registry.Resolve(rel.Kind)
	if err != nil {
		return nil, err
	}

	if !rel.Link.Many && rel.Link.Through == nil {
		nested := row.Nested(rel.Storage)
		if nested == nil || !p.readable(run, target, nested) {
			return nil, nil
		}
		return p.shape(run, target, nested, sub)
	}

	items := row.Many(rel.Storage)
	out := make([]registry.Object, 0, len(items))
	for _, item := range items {
		if rel.Link.Through != nil {
			// collapse the join row
			item = item.Nested(rel.Link.Through.Field)
			if item == nil {
				continue
			}
		}
		if !p.readable(run, target, item) {
			continue
		}
		obj, err := p.shape(run, target, item, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (p *Projector) shapeUnion(run *run, d *registry.Descriptor, u registry.Union, row query.Row, sub Selection) (any, error) {
	var (
		found  registry.Relation
		nested query.Row
	)
	for _, b := range u.Branches {
		r := row.Nested(b.Storage)
		if r == nil {
			continue
		}
		if nested != nil {
			logrus.Warnf("projector: %s %s.%s populated by both %s and %s, keeping %s",
				d.Kind, row.ID(), u.Name, found.Kind, b.Kind, found.Kind)
			continue
		}
		found, nested = b, r
	}
	if nested == nil {
		return nil, nil
	}

	target, err := p.registry.Resolve(found.Kind)
	if err != nil {
		return nil, err
	}
	if !p.readable(run, target, nested) {
		return nil, nil
	}
	return p.shape(run, target, nested, sub[string(found.Kind)])
}

// readable applies the related kind's read decision to a nested row, the
// same decision a direct read of that row makes.
func (p *Projector) readable(run *run, d *registry.Descriptor, row query.Row) bool {
	set, err := authz.Capabilities(d, row, run.viewer)
	return err == nil && authz.CanRead(set)
}

// value coerces a stored column to the field's declared type.
func (p *Projector) value(f registry.Field, row query.Row) (any, error) {
	raw, ok := row[f.Column]
	if !ok || raw == nil {
		return nil, nil
	}

	if f.Compressed {
		var data []byte
		switch t := raw.(type) {
		case []byte:
			data = t
		case string:
			data = []byte(t)
		default:
			return nil, fmt.Errorf("compressed column %s holds %T", f.Column, raw)
		}
		decoded, err := p.codec.Decode(data)
		if err != nil {
			return nil, err
		}
		return string(decoded), nil
	}

	switch f.Type {
	case registry.String:
		return row.String(f.Column), nil
	case registry.Int:
		if s, ok := raw.(string); ok {
			return strconv.ParseInt(s, 10, 64)
		}
		return row.Int(f.Column), nil
	case registry.Float:
		switch t := raw.(type) {
		case float64:
			return t, nil
		case float32:
			return float64(t), nil
		case string:
			return strconv.ParseFloat(t, 64)
		}
		return float64(row.Int(f.Column)), nil
	case registry.Bool:
		return row.Bool(f.Column), nil
	case registry.Time:
		return toTime(raw)
	}

	return raw, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func toTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.UTC(), nil
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return nil, fmt.Errorf("unrecognized time %q", t)
	}
	return nil, fmt.Errorf("cannot read %T as time", v)
}

// run collects objects awaiting supplemental fields across one shaping pass.
type run struct {
	viewer  perm.Viewer
	kinds   []kind.Kind
	pending map[kind.Kind]*pendingKind
}

type pendingKind struct {
	descriptor *registry.Descriptor
	objects    []registry.Object
	rows       []query.Row
	wants      [][]string
}

func newRun(viewer perm.Viewer) *run {
	return &run{viewer: viewer, pending: make(map[kind.Kind]*pendingKind)}
}

func (r *run) add(d *registry.Descriptor, obj registry.Object, row query.Row, fields []string) {
	pk, ok := r.pending[d.Kind]
	if !ok {
		pk = &pendingKind{descriptor: d}
		r.pending[d.Kind] = pk
		r.kinds = append(r.kinds, d.Kind)
	}
	pk.objects = append(pk.objects, obj)
	pk.rows = append(pk.rows, row)
	pk.wants = append(pk.wants, fields)
}
