package catalog

import (
	"context"

	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
)

// engagementTargets maps every kind that can be bookmarked, reacted to or
// viewed to its table.
var engagementTargets = []struct {
	kind  kind.Kind
	table string
}{
	{kind.Note, "notes"},
	{kind.NoteVersion, "note_versions"},
	{kind.Comment, "comments"},
	{kind.Tag, "tags"},
	{kind.User, "users"},
	{kind.Organization, "organizations"},
}

// targetUnion is the polymorphic target of an engagement row, discriminated
// by its target_kind column.
func targetUnion(name string, kinds ...kind.Kind) registry.Union {
	u := registry.Union{Name: name}
	for _, t := range engagementTargets {
		if !containsKind(kinds, t.kind) {
			continue
		}
		u.Branches = append(u.Branches, registry.Relation{
			Name:    name,
			Storage: name + string(t.kind),
			Kind:    t.kind,
			Link: query.Link{
				Table:    t.table,
				LocalKey: "target_id",
				When:     &query.Discriminator{Column: "target_kind", Value: string(t.kind)},
			},
		})
	}
	return u
}

func containsKind(kinds []kind.Kind, k kind.Kind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

func targetFields() []registry.Field {
	return []registry.Field{
		readOnly("targetKind", "target_kind", registry.String),
		readOnly("targetId", "target_id", registry.String),
	}
}

func targetFilters(extra map[string]registry.FilterFunc) map[string]registry.FilterFunc {
	out := map[string]registry.FilterFunc{
		"targetKind": eqFilter("target_kind"),
		"target":     eqFilter("target_id"),
	}
	for k, f := range extra {
		out[k] = f
	}
	return out
}

// recordCapabilities lets engagement rows be read but never engaged with;
// they change only through the engagement tracker.
func recordCapabilities(ctx perm.Context) perm.Set {
	return perm.Set{perm.CanRead: !ctx.IsDeleted && (ctx.IsPublic || ctx.IsAdmin)}
}

var (
	bookmarkableKinds = []kind.Kind{kind.Note, kind.NoteVersion, kind.Comment, kind.Tag, kind.User, kind.Organization}
	reactableKinds    = []kind.Kind{kind.Note, kind.NoteVersion, kind.Comment}
	viewableKinds     = []kind.Kind{kind.Note, kind.NoteVersion, kind.User, kind.Organization}
)

func bookmarkListDescriptor(settings Settings) *registry.Descriptor {
	owner := &registry.OwnerSpec{UserColumn: "user_id", UserRelation: "user"}
	bookmarks := hasMany("bookmarks", "list_id")

	return &registry.Descriptor{
		Kind:  kind.BookmarkList,
		Table: "bookmark_lists",
		Fields: fields([]registry.Field{
			field("label", "label", registry.String),
		}, timestamps()),
		Relations: []registry.Relation{
			{Name: "user", Storage: "user", Kind: kind.User, Link: belongsTo("users", "user_id")},
			{Name: "bookmarks", Storage: "bookmarks", Kind: kind.Bookmark, Link: bookmarks},
		},
		Counts: []registry.CountField{
			{Name: "bookmarksCount", Link: bookmarks},
		},
		Display: registry.Display{
			Select: query.NewSelect("bookmark_lists", "id", "label"),
			Label:  label("label"),
		},
		Mutate: &registry.MutateSpec{
			Rules: []registry.RelationRule{
				{Relation: "user", Ops: []query.Op{query.Connect}, Cardinality: registry.One},
			},
			CreateSchema: map[string]any{"label": "required,min=1,max=128"},
			UpdateSchema: map[string]any{"label": "omitempty,min=1,max=128"},
			Finalize:     finalizeBookmarkLists,
			Post:         lifecycle(kind.BookmarkList),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "old",
			Sorts:       sorts(),
			Filters:     map[string]registry.FilterFunc{"user": eqFilter("user_id")},
			Text:        textFilter("label"),
		},
		Validate: registry.ValidateSpec{
			Visibility: privateVisibility(owner),
			Owner:      owner,
			MaxObjects: settings.cap(kind.BookmarkList),
			Capabilities: func(ctx perm.Context) perm.Set {
				set := recordCapabilities(ctx)
				set[perm.CanUpdate] = !ctx.IsDeleted && ctx.IsAdmin
				set[perm.CanDelete] = !ctx.IsDeleted && ctx.IsAdmin
				return set
			},
			PermissionsSelect: permissions("bookmark_lists", owner),
		},
	}
}

// finalizeBookmarkLists removes the bookmarks of deleted lists and releases
// their hold on the targets' bookmark counters.
func finalizeBookmarkLists(ctx context.Context, in registry.HookInput) error {
	if len(in.Deleted) == 0 {
		return nil
	}

	rows, err := in.Tx.Find(ctx, query.NewSelect("bookmarks", "id", "target_kind", "target_id"),
		query.In("list_id", in.Deleted), nil, query.Page{})
	if err != nil || len(rows) == 0 {
		return err
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID())
		table := targetTable(kind.Kind(r.String("target_kind")))
		if table == "" {
			continue
		}
		if err := in.Tx.Increment(ctx, table, r.String("target_id"), "bookmarks", -1); err != nil {
			return err
		}
	}
	return in.Tx.Delete(ctx, "bookmarks", ids)
}

func targetTable(k kind.Kind) string {
	for _, t := range engagementTargets {
		if t.kind == k {
			return t.table
		}
	}
	return ""
}

func bookmarkDescriptor() *registry.Descriptor {
	list := belongsTo("bookmark_lists", "list_id")
	owner := &registry.OwnerSpec{
		UserColumn: "user_id",
		Via:        &registry.Via{Field: "list", Kind: kind.BookmarkList, Link: list, Relation: "list"},
	}

	return &registry.Descriptor{
		Kind:   kind.Bookmark,
		Table:  "bookmarks",
		Fields: fields(targetFields(), timestamps()),
		Relations: []registry.Relation{
			{Name: "list", Storage: "list", Kind: kind.BookmarkList, Link: list},
		},
		Unions: []registry.Union{targetUnion("to", bookmarkableKinds...)},
		Display: registry.Display{
			Select: query.NewSelect("bookmarks", "id", "target_id"),
			Label:  label("target_id"),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "new",
			Sorts:       sorts(),
			Filters:     targetFilters(map[string]registry.FilterFunc{"list": eqFilter("list_id")}),
		},
		Validate: registry.ValidateSpec{
			Visibility:        privateVisibility(owner),
			Owner:             owner,
			Capabilities:      recordCapabilities,
			PermissionsSelect: owner.Select("bookmarks"),
		},
	}
}

func reactionDescriptor() *registry.Descriptor {
	owner := &registry.OwnerSpec{UserColumn: "by_id"}

	return &registry.Descriptor{
		Kind:  kind.Reaction,
		Table: "reactions",
		Fields: fields([]registry.Field{
			readOnly("emoji", "emoji", registry.String),
		}, targetFields(), timestamps()),
		Relations: []registry.Relation{
			{Name: "by", Storage: "by", Kind: kind.User, Link: belongsTo("users", "by_id")},
		},
		Unions: []registry.Union{targetUnion("to", reactableKinds...)},
		Display: registry.Display{
			Select: query.NewSelect("reactions", "id", "emoji"),
			Label:  label("emoji"),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "new",
			Sorts:       sorts(),
			Filters: targetFilters(map[string]registry.FilterFunc{
				"by":    eqFilter("by_id"),
				"emoji": eqFilter("emoji"),
			}),
		},
		Validate: registry.ValidateSpec{
			Visibility:        openVisibility(owner),
			Owner:             owner,
			Capabilities:      recordCapabilities,
			PermissionsSelect: permissions("reactions", owner),
		},
	}
}

func reactionSummaryDescriptor() *registry.Descriptor {
	var owner *registry.OwnerSpec

	return &registry.Descriptor{
		Kind:  kind.ReactionSummary,
		Table: "reaction_summaries",
		Fields: fields([]registry.Field{
			readOnly("emoji", "emoji", registry.String),
			readOnly("count", "count", registry.Int),
		}, targetFields(), timestamps()),
		Unions: []registry.Union{targetUnion("to", reactableKinds...)},
		Display: registry.Display{
			Select: query.NewSelect("reaction_summaries", "id", "emoji"),
			Label:  label("emoji"),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "count",
			Sorts: map[string][]query.Order{
				"count": {{Column: "count", Desc: true}, {Column: "emoji"}},
				"new":   {{Column: "created_at", Desc: true}},
			},
			Filters: targetFilters(map[string]registry.FilterFunc{"emoji": eqFilter("emoji")}),
		},
		Validate: registry.ValidateSpec{
			Visibility:        openVisibility(owner),
			Owner:             owner,
			Capabilities:      recordCapabilities,
			PermissionsSelect: permissions("reaction_summaries", owner),
		},
	}
}

func viewDescriptor() *registry.Descriptor {
	owner := &registry.OwnerSpec{UserColumn: "by_id"}

	return &registry.Descriptor{
		Kind:  kind.View,
		Table: "views",
		Fields: fields([]registry.Field{
			readOnly("lastViewedAt", "last_viewed_at", registry.Time),
		}, targetFields(), timestamps()),
		Relations: []registry.Relation{
			{Name: "by", Storage: "by", Kind: kind.User, Link: belongsTo("users", "by_id")},
		},
		Unions: []registry.Union{targetUnion("to", viewableKinds...)},
		Display: registry.Display{
			Select: query.NewSelect("views", "id", "target_id"),
			Label:  label("target_id"),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "recent",
			Sorts: map[string][]query.Order{
				"recent": {{Column: "last_viewed_at", Desc: true}},
				"new":    {{Column: "created_at", Desc: true}},
			},
			Filters: targetFilters(nil),
		},
		Validate: registry.ValidateSpec{
			Visibility:        privateVisibility(owner),
			Owner:             owner,
			Capabilities:      recordCapabilities,
			PermissionsSelect: permissions("views", owner),
		},
	}
}
