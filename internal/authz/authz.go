package authz

import (
	"context"

	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/emrgen/omnistore/internal/store"
	"github.com/sirupsen/logrus"
)

// Authorizer computes capability sets and visibility filters. The same
// visibility filter values are matched against fetched rows here and
// compiled into search queries, so reads and searches always agree.
type Authorizer struct {
	store store.Store
}

func New(s store.Store) *Authorizer {
	return &Authorizer{store: s}
}

// Resolve fetches the permission rows of ids in one query and returns one
// capability set per id in input order. Ids that do not resolve get nil.
func (a *Authorizer) Resolve(ctx context.Context, d *registry.Descriptor, ids []string, viewer perm.Viewer) ([]perm.Set, []query.Row, error) {
	sets := make([]perm.Set, len(ids))
	rows := make([]query.Row, len(ids))
	if len(ids) == 0 {
		return sets, rows, nil
	}

	found, err := a.store.Find(ctx, d.Validate.PermissionsSelect.Clone(), query.In("id", ids), nil, query.Page{})
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]query.Row, len(found))
	for _, r := range found {
		byID[r.ID()] = r
	}

	for i, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		set, err := Capabilities(d, row, viewer)
		if err != nil {
			return nil, nil, err
		}
		sets[i] = set
		rows[i] = row
	}

	return sets, rows, nil
}

// Context derives the permission context of a fetched row.
func Context(d *registry.Descriptor, row query.Row, viewer perm.Viewer) (perm.Context, error) {
	if _, err := d.Validate.Owner.Extract(row); err != nil {
		return perm.Context{}, err
	}

	vis := d.Validate.Visibility
	return perm.Context{
		IsAdmin:      viewer.LoggedIn() && query.Match(vis.Owner(viewer), row),
		IsLoggedIn:   viewer.LoggedIn(),
		IsDeleted:    d.IsDeleted(row),
		IsPublic:     query.Match(vis.Public(viewer), row),
		Transferable: d.Validate.Transferable,
		Row:          row,
		Viewer:       viewer,
	}, nil
}

// Capabilities applies the kind's capability resolver to a fetched row.
func Capabilities(d *registry.Descriptor, row query.Row, viewer perm.Viewer) (perm.Set, error) {
	ctx, err := Context(d, row, viewer)
	if err != nil {
		logrus.WithFields(logrus.Fields{"kind": d.Kind, "id": row.ID()}).Errorf("authz: %v", err)
		return nil, err
	}
	return d.CapabilitiesOf(ctx), nil
}

// IsOwner reports whether the viewer owns the row or administers its owner.
func IsOwner(d *registry.Descriptor, row query.Row, viewer perm.Viewer) bool {
	owner, err := d.Validate.Owner.Extract(row)
	if err != nil {
		return false
	}
	return owner.OwnedBy(viewer)
}

// CanRead reports the read decision from a capability set. A nil set is an
// unresolved id.
func CanRead(set perm.Set) bool {
	return set != nil && set.Has(perm.CanRead)
}

// Require checks cap on a resolved set. Unreadable and missing objects are
// both NotFound; readable objects lacking cap are PermissionDenied.
func Require(d *registry.Descriptor, id string, set perm.Set, cap perm.Capability) error {
	if !CanRead(set) {
		return errs.New(errs.NotFound, "%s %s not found", d.Kind, id)
	}
	if !set.Has(cap) {
		return errs.New(errs.PermissionDenied, "%s on %s %s is not allowed", cap, d.Kind, id)
	}
	return nil
}
