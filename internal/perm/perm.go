package perm

import (
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/query"
)

// Viewer is the actor a request runs on behalf of. The zero value is anonymous.
type Viewer struct {
	ID string
	// Organizations lists the organizations the viewer administers.
	Organizations []string
}

// Anonymous is the unauthenticated viewer.
var Anonymous = Viewer{}

// LoggedIn reports whether the viewer is authenticated.
func (v Viewer) LoggedIn() bool {
	return v.ID != ""
}

// Administers reports whether the viewer administers the organization.
func (v Viewer) Administers(orgID string) bool {
	for _, id := range v.Organizations {
		if id == orgID {
			return true
		}
	}
	return false
}

// Owner is a polymorphic owner reference: a User or an Organization.
// The zero value means the object has no owner.
type Owner struct {
	Kind kind.Kind
	ID   string
}

// IsZero reports whether the owner is absent.
func (o Owner) IsZero() bool {
	return o.ID == ""
}

// OwnedBy reports whether the viewer is the owner or administers it.
func (o Owner) OwnedBy(v Viewer) bool {
	if o.IsZero() || !v.LoggedIn() {
		return false
	}
	switch o.Kind {
	case kind.User:
		return o.ID == v.ID
	case kind.Organization:
		return v.Administers(o.ID)
	default:
		return false
	}
}

// Capability names one permission bit.
type Capability string

const (
	CanRead     Capability = "canRead"
	CanUpdate   Capability = "canUpdate"
	CanDelete   Capability = "canDelete"
	CanReact    Capability = "canReact"
	CanBookmark Capability = "canBookmark"
	CanComment  Capability = "canComment"
	CanReply    Capability = "canReply"
	CanCopy     Capability = "canCopy"
	CanReport   Capability = "canReport"
	CanTransfer Capability = "canTransfer"
)

// Capabilities lists every capability in display order.
var Capabilities = []Capability{
	CanRead,
	CanUpdate,
	CanDelete,
	CanReact,
	CanBookmark,
	CanComment,
	CanReply,
	CanCopy,
	CanReport,
	CanTransfer,
}

// Set is a named set of capabilities. A nil Set grants nothing.
type Set map[Capability]bool

// Has reports whether the capability is granted.
func (s Set) Has(c Capability) bool {
	return s[c]
}

// Map returns every capability as a client-facing boolean map.
func (s Set) Map() map[string]bool {
	out := make(map[string]bool, len(Capabilities))
	for _, c := range Capabilities {
		out[string(c)] = s[c]
	}
	return out
}

// Context is the derived state a capability resolver decides on.
type Context struct {
	IsAdmin      bool
	IsLoggedIn   bool
	IsDeleted    bool
	IsPublic     bool
	Transferable bool
	Row          query.Row
	Viewer       Viewer
}

// Resolver computes capabilities from a context.
type Resolver func(ctx Context) Set

// Default is the capability policy shared by every kind unless overridden.
func Default(ctx Context) Set {
	readable := !ctx.IsDeleted && (ctx.IsPublic || ctx.IsAdmin)
	engage := readable && ctx.IsLoggedIn

	return Set{
		CanRead:     readable,
		CanUpdate:   !ctx.IsDeleted && ctx.IsAdmin,
		CanDelete:   !ctx.IsDeleted && ctx.IsAdmin,
		CanReact:    engage,
		CanBookmark: engage,
		CanComment:  engage,
		CanCopy:     engage,
		CanReport:   engage && !ctx.IsAdmin,
		CanTransfer: !ctx.IsDeleted && ctx.IsAdmin && ctx.Transferable,
	}
}
