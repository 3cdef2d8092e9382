package catalog

import (
	"context"
	"time"

	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/queue"
	"github.com/emrgen/omnistore/internal/registry"
)

const (
	ownerUserColumn         = "owned_by_user_id"
	ownerOrganizationColumn = "owned_by_organization_id"
)

func belongsTo(table, column string) query.Link {
	return query.Link{Table: table, LocalKey: column}
}

func hasMany(table, foreignKey string) query.Link {
	return query.Link{Table: table, ForeignKey: foreignKey, Many: true}
}

func field(name, column string, t registry.FieldType) registry.Field {
	return registry.Field{Name: name, Column: column, Type: t}
}

func readOnly(name, column string, t registry.FieldType) registry.Field {
	return registry.Field{Name: name, Column: column, Type: t, ReadOnly: true}
}

func timestamps() []registry.Field {
	return []registry.Field{
		readOnly("createdAt", "created_at", registry.Time),
		readOnly("updatedAt", "updated_at", registry.Time),
	}
}

func fields(groups ...[]registry.Field) []registry.Field {
	var out []registry.Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// ownerUnion is the polymorphic owner of kinds held by a user or organization.
func ownerUnion(name string) registry.Union {
	return registry.Union{
		Name: name,
		Branches: []registry.Relation{
			{Name: name, Storage: name + "User", Kind: kind.User, Link: belongsTo("users", ownerUserColumn)},
			{Name: name, Storage: name + "Organization", Kind: kind.Organization, Link: belongsTo("organizations", ownerOrganizationColumn)},
		},
	}
}

func ownerRelations() []registry.Relation {
	return []registry.Relation{
		{Name: "ownedByUser", Storage: "ownedByUser", Kind: kind.User, Link: belongsTo("users", ownerUserColumn)},
		{Name: "ownedByOrganization", Storage: "ownedByOrganization", Kind: kind.Organization, Link: belongsTo("organizations", ownerOrganizationColumn)},
	}
}

func ownerRules() []registry.RelationRule {
	return []registry.RelationRule{
		{Relation: "ownedByUser", Ops: []query.Op{query.Connect, query.Disconnect}, Cardinality: registry.One},
		{Relation: "ownedByOrganization", Ops: []query.Op{query.Connect, query.Disconnect}, Cardinality: registry.One},
	}
}

func directOwner() *registry.OwnerSpec {
	return &registry.OwnerSpec{
		UserColumn:           ownerUserColumn,
		OrganizationColumn:   ownerOrganizationColumn,
		UserRelation:         "ownedByUser",
		OrganizationRelation: "ownedByOrganization",
	}
}

// flagVisibility is the visibility of kinds carrying an is_private column.
func flagVisibility(owner *registry.OwnerSpec) registry.Visibility {
	return registry.Visibility{
		Private: func(perm.Viewer) query.Filter { return query.Eq("is_private", true) },
		Public:  func(perm.Viewer) query.Filter { return query.Eq("is_private", false) },
		Owner:   owner.ViewerFilter,
	}
}

// openVisibility is the visibility of kinds every viewer may read.
func openVisibility(owner *registry.OwnerSpec) registry.Visibility {
	return registry.Visibility{
		Private: func(perm.Viewer) query.Filter { return query.False() },
		Public:  func(perm.Viewer) query.Filter { return query.True() },
		Owner:   owner.ViewerFilter,
	}
}

// privateVisibility is the visibility of kinds only their owner may read.
func privateVisibility(owner *registry.OwnerSpec) registry.Visibility {
	return registry.Visibility{
		Private: func(perm.Viewer) query.Filter { return query.True() },
		Public:  func(perm.Viewer) query.Filter { return query.False() },
		Owner:   owner.ViewerFilter,
	}
}

func deletedFlag() query.Filter {
	return query.Eq("is_deleted", true)
}

func permissions(table string, owner *registry.OwnerSpec, columns ...string) *query.Select {
	return owner.Select(table).Column(columns...)
}

func sorts() map[string][]query.Order {
	return map[string][]query.Order{
		"new": {{Column: "created_at", Desc: true}},
		"old": {{Column: "created_at"}},
	}
}

func withScore(s map[string][]query.Order) map[string][]query.Order {
	s["top"] = []query.Order{{Column: "score", Desc: true}, {Column: "created_at", Desc: true}}
	return s
}

func eqFilter(column string) registry.FilterFunc {
	return func(value any) (query.Filter, error) {
		if value == nil {
			return query.IsNull(column), nil
		}
		return query.Eq(column, value), nil
	}
}

func textFilter(columns ...string) func(string) query.Filter {
	return func(text string) query.Filter {
		parts := make([]query.Filter, 0, len(columns))
		for _, c := range columns {
			parts = append(parts, query.Contains(c, text))
		}
		return query.Or(parts...)
	}
}

// lifecycle reports created, updated and deleted objects after commit.
func lifecycle(k kind.Kind) registry.PostFunc {
	return func(ctx context.Context, in registry.HookInput) ([]queue.Event, error) {
		at := time.Now().UTC()
		events := make([]queue.Event, 0, len(in.Created)+len(in.Updated)+len(in.Deleted))
		emit := func(t queue.EventType, ids []string) {
			for _, id := range ids {
				events = append(events, queue.Event{Type: t, Kind: k, ObjectID: id, ActorID: in.Viewer.ID, At: at})
			}
		}
		emit(queue.ObjectCreated, in.Created)
		emit(queue.ObjectUpdated, in.Updated)
		emit(queue.ObjectDeleted, in.Deleted)
		return events, nil
	}
}

func label(column string) func(query.Row) string {
	return func(row query.Row) string {
		if v := row.String(column); v != "" {
			return v
		}
		return row.ID()
	}
}
