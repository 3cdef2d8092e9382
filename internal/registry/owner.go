package registry

import (
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
)

// OwnerSpec locates the polymorphic owner of a row. Owners are held either
// on the row itself or on a related row reached through Via.
type OwnerSpec struct {
	UserColumn         string
	OrganizationColumn string
	// UserRelation and OrganizationRelation are the payload relations that
	// set the owner on create.
	UserRelation         string
	OrganizationRelation string
	Via                  *Via
}

// Via reaches the row holding the owner columns.
type Via struct {
	Field    string
	Kind     kind.Kind
	Link     query.Link
	Relation string
}

// Extract returns the owner of a fetched row. A row with both owner columns
// set breaks the owner invariant and is reported as an internal error.
func (o *OwnerSpec) Extract(row query.Row) (perm.Owner, error) {
	if o == nil || row == nil {
		return perm.Owner{}, nil
	}
	if o.Via != nil {
		row = row.Nested(o.Via.Field)
		if row == nil {
			return perm.Owner{}, nil
		}
	}

	var user, org string
	if o.UserColumn != "" {
		user = row.String(o.UserColumn)
	}
	if o.OrganizationColumn != "" {
		org = row.String(o.OrganizationColumn)
	}

	switch {
	case user != "" && org != "":
		return perm.Owner{}, errs.New(errs.Internal, "row %s is owned by both user %s and organization %s", row.ID(), user, org)
	case user != "":
		return perm.Owner{Kind: kind.User, ID: user}, nil
	case org != "":
		return perm.Owner{Kind: kind.Organization, ID: org}, nil
	}
	return perm.Owner{}, nil
}

// ViewerFilter matches rows owned by the viewer or an organization they administer.
func (o *OwnerSpec) ViewerFilter(v perm.Viewer) query.Filter {
	if o == nil || !v.LoggedIn() {
		return query.False()
	}

	var parts []query.Filter
	if o.UserColumn != "" {
		parts = append(parts, query.Eq(o.UserColumn, v.ID))
	}
	if o.OrganizationColumn != "" && len(v.Organizations) > 0 {
		parts = append(parts, query.In(o.OrganizationColumn, v.Organizations))
	}

	return o.via(query.Or(parts...))
}

// OwnedByFilter matches rows held by a specific owner.
func (o *OwnerSpec) OwnedByFilter(owner perm.Owner) query.Filter {
	if o == nil || owner.IsZero() {
		return query.False()
	}

	var f query.Filter
	switch owner.Kind {
	case kind.User:
		if o.UserColumn == "" {
			return query.False()
		}
		f = query.Eq(o.UserColumn, owner.ID)
	case kind.Organization:
		if o.OrganizationColumn == "" {
			return query.False()
		}
		f = query.Eq(o.OrganizationColumn, owner.ID)
	default:
		return query.False()
	}

	return o.via(f)
}

// Select returns the storage selection needed by Extract.
func (o *OwnerSpec) Select(table string) *query.Select {
	if o == nil {
		return query.NewSelect(table, "id")
	}

	cols := []string{"id"}
	if o.UserColumn != "" {
		cols = append(cols, o.UserColumn)
	}
	if o.OrganizationColumn != "" {
		cols = append(cols, o.OrganizationColumn)
	}

	if o.Via == nil {
		return query.NewSelect(table, cols...)
	}
	return query.NewSelect(table, "id", o.Via.Link.LocalKey).
		With(o.Via.Field, o.Via.Link, query.NewSelect(o.Via.Link.Table, cols...))
}

func (o *OwnerSpec) via(f query.Filter) query.Filter {
	if o.Via == nil {
		return f
	}
	return query.Related(o.Via.Field, o.Via.Link, f)
}
