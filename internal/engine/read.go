package engine

import (
	"context"
	"time"

	"github.com/emrgen/omnistore/internal/authz"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/projector"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
)

// Lookup identifies a single object. Exactly one field is set.
type Lookup struct {
	ID     string
	Handle string
	// RootID and RootHandle read the latest version of a root.
	RootID     string
	RootHandle string
}

func (l Lookup) filter(reg *registry.Registry, d *registry.Descriptor) (query.Filter, error) {
	set := 0
	for _, v := range []string{l.ID, l.Handle, l.RootID, l.RootHandle} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errs.New(errs.ValidationError, "lookup needs exactly one of id, handle, root id, root handle")
	}

	switch {
	case l.ID != "":
		return query.Eq("id", l.ID), nil
	case l.Handle != "":
		if d.Handle == "" {
			return nil, errs.New(errs.ValidationError, "%s has no handle", d.Kind)
		}
		return query.Eq(d.Handle, l.Handle), nil
	}

	if d.Version == nil {
		return nil, errs.New(errs.ValidationError, "%s is not versioned", d.Kind)
	}
	latest := query.Eq(d.Version.Latest, true)
	if l.RootID != "" {
		return query.And(query.Eq(d.Version.RootColumn, l.RootID), latest), nil
	}

	root, err := reg.Resolve(d.Version.RootKind)
	if err != nil {
		return nil, err
	}
	if root.Handle == "" {
		return nil, errs.New(errs.ValidationError, "%s has no handle", root.Kind)
	}
	link := query.Link{Table: root.Table, LocalKey: d.Version.RootColumn}
	return query.And(latest, query.Related("root", link, query.Eq(root.Handle, l.RootHandle))), nil
}

// ReadOne returns the selected fields of one object. Missing objects and
// objects the viewer cannot read are both NotFound.
func (e *Engine) ReadOne(ctx context.Context, k kind.Kind, lookup Lookup, sel projector.Selection, viewer perm.Viewer) (obj registry.Object, err error) {
	defer e.observe(k, "read", time.Now(), &err)

	d, err := e.registry.Resolve(k)
	if err != nil {
		return nil, err
	}
	where, err := lookup.filter(e.registry, d)
	if err != nil {
		return nil, err
	}
	q, err := e.selection(d, sel)
	if err != nil {
		return nil, err
	}

	rows, err := e.store.Find(ctx, q, where, nil, query.Page{Limit: 1})
	if err != nil {
		return nil, internal(err, "reading %s", k)
	}
	if len(rows) == 0 {
		return nil, errs.New(errs.NotFound, "%s not found", k)
	}

	set, err := authz.Capabilities(d, rows[0], viewer)
	if err != nil {
		return nil, err
	}
	if !authz.CanRead(set) {
		return nil, errs.New(errs.NotFound, "%s not found", k)
	}

	objs, err := e.projector.Shape(ctx, d, rows, sel, viewer, e)
	if err != nil {
		return nil, err
	}
	return objs[0], nil
}

// selection is the storage query for sel plus what authorization needs.
func (e *Engine) selection(d *registry.Descriptor, sel projector.Selection) (*query.Select, error) {
	q, err := e.projector.ToQuery(d, sel)
	if err != nil {
		return nil, err
	}
	return q.Merge(d.Validate.PermissionsSelect), nil
}

// readable fetches ids with q and shapes those the viewer can read, in
// input order.
func (e *Engine) readable(ctx context.Context, d *registry.Descriptor, q *query.Select, ids []string, sel projector.Selection, viewer perm.Viewer) ([]registry.Object, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := e.store.Find(ctx, q.Clone(), query.In("id", ids), nil, query.Page{})
	if err != nil {
		return nil, internal(err, "reading %s", d.Kind)
	}
	byID := make(map[string]query.Row, len(rows))
	for _, r := range rows {
		byID[r.ID()] = r
	}

	ordered := make([]query.Row, 0, len(rows))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		set, err := authz.Capabilities(d, row, viewer)
		if err != nil || !authz.CanRead(set) {
			continue
		}
		ordered = append(ordered, row)
	}

	return e.projector.Shape(ctx, d, ordered, sel, viewer, e)
}

// labels applies the display projection of d to ids.
func (e *Engine) labels(ctx context.Context, d *registry.Descriptor, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 || d.Display.Select == nil || d.Display.Label == nil {
		return out, nil
	}

	rows, err := e.store.Find(ctx, d.Display.Select.Clone(), query.In("id", ids), nil, query.Page{})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID()] = d.Display.Label(r)
	}
	return out, nil
}
