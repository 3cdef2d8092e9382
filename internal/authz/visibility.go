package authz

import (
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
)

// Mode selects which objects a search may return.
type Mode string

const (
	// All returns everything the viewer may read.
	All Mode = "All"
	// Public returns public objects only.
	Public Mode = "Public"
	// Own returns objects the viewer owns.
	Own Mode = "Own"
	// OwnPrivate returns private objects the viewer owns.
	OwnPrivate Mode = "OwnPrivate"
	// OwnPublic returns public objects the viewer owns.
	OwnPublic Mode = "OwnPublic"
)

// ParseMode reads a visibility mode; empty means All.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return All, nil
	case All, Public, Own, OwnPrivate, OwnPublic:
		return Mode(s), nil
	}
	return "", errs.New(errs.ValidationError, "unknown visibility %q", s)
}

// Filter returns the search filter for mode. Soft-deleted rows are always
// excluded. The All filter accepts exactly the rows whose capability set
// grants canRead under the default policy.
func Filter(d *registry.Descriptor, mode Mode, viewer perm.Viewer) (query.Filter, error) {
	vis := d.Validate.Visibility

	var f query.Filter
	switch mode {
	case All, "":
		f = query.Or(vis.Public(viewer), ownerFilter(vis, viewer))
	case Public:
		f = vis.Public(viewer)
	case Own, OwnPrivate, OwnPublic:
		if !viewer.LoggedIn() {
			return nil, errs.New(errs.PermissionDenied, "visibility %s requires a signed-in viewer", mode)
		}
		f = vis.Owner(viewer)
		switch mode {
		case OwnPrivate:
			f = query.And(f, vis.Private(viewer))
		case OwnPublic:
			f = query.And(f, vis.Public(viewer))
		}
	default:
		return nil, errs.New(errs.ValidationError, "unknown visibility %q", mode)
	}

	return query.And(d.NotDeleted(), f), nil
}

func ownerFilter(vis registry.Visibility, viewer perm.Viewer) query.Filter {
	if !viewer.LoggedIn() {
		return query.False()
	}
	return vis.Owner(viewer)
}
