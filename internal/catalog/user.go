package catalog

import (
	"context"

	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
)

// Users are created by the identity provider, never through mutations.
func userDescriptor() *registry.Descriptor {
	owner := &registry.OwnerSpec{UserColumn: "id"}

	return &registry.Descriptor{
		Kind:   kind.User,
		Table:  "users",
		Handle: "handle",
		Fields: fields([]registry.Field{
			field("handle", "handle", registry.String),
			field("name", "name", registry.String),
			field("isPrivate", "is_private", registry.Bool),
			readOnly("isBot", "is_bot", registry.Bool),
			readOnly("bookmarks", "bookmarks", registry.Int),
			readOnly("views", "views", registry.Int),
		}, timestamps()),
		Supplemental: viewerSupplemental(youField, isBookmarkedField),
		Display: registry.Display{
			Select: query.NewSelect("users", "id", "handle", "name"),
			Label:  label("name"),
		},
		Mutate: &registry.MutateSpec{
			DisableCreate: true,
			UpdateSchema: map[string]any{
				"handle": "omitempty,min=3,max=64",
				"name":   "omitempty,max=128",
			},
			Post: lifecycle(kind.User),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "new",
			Sorts:       sorts(),
			Filters: map[string]registry.FilterFunc{
				"isBot": eqFilter("is_bot"),
			},
			Text: textFilter("handle", "name"),
		},
		Validate: registry.ValidateSpec{
			Visibility: flagVisibility(owner),
			Owner:      owner,
			Capabilities: func(ctx perm.Context) perm.Set {
				set := perm.Default(ctx)
				set[perm.CanDelete] = false
				set[perm.CanComment] = false
				return set
			},
			PermissionsSelect: permissions("users", owner, "is_private"),
		},
		Counters: &registry.Counters{Bookmarks: "bookmarks", Views: "views"},
	}
}

func organizationDescriptor() *registry.Descriptor {
	owner := &registry.OwnerSpec{OrganizationColumn: "id"}

	return &registry.Descriptor{
		Kind:   kind.Organization,
		Table:  "organizations",
		Handle: "handle",
		Fields: fields([]registry.Field{
			field("handle", "handle", registry.String),
			field("name", "name", registry.String),
			field("isPrivate", "is_private", registry.Bool),
			field("isOpenToNewMembers", "is_open_to_new_members", registry.Bool),
			readOnly("bookmarks", "bookmarks", registry.Int),
			readOnly("views", "views", registry.Int),
		}, timestamps()),
		Relations: []registry.Relation{
			{Name: "members", Storage: "members", Kind: kind.Member, Link: hasMany("members", "organization_id")},
		},
		Counts: []registry.CountField{
			{Name: "membersCount", Link: hasMany("members", "organization_id")},
		},
		Supplemental: viewerSupplemental(youField, isBookmarkedField),
		Display: registry.Display{
			Select: query.NewSelect("organizations", "id", "handle", "name"),
			Label:  label("name"),
		},
		Mutate: &registry.MutateSpec{
			CreateSchema: map[string]any{
				"handle": "omitempty,min=3,max=64",
				"name":   "required,max=128",
			},
			UpdateSchema: map[string]any{
				"handle": "omitempty,min=3,max=64",
				"name":   "omitempty,max=128",
			},
			Finalize: finalizeOrganizations,
			Post:     lifecycle(kind.Organization),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "new",
			Sorts:       sorts(),
			Filters: map[string]registry.FilterFunc{
				"isOpenToNewMembers": eqFilter("is_open_to_new_members"),
			},
			Text: textFilter("handle", "name"),
		},
		Validate: registry.ValidateSpec{
			Visibility: flagVisibility(owner),
			Owner:      owner,
			Capabilities: func(ctx perm.Context) perm.Set {
				set := perm.Default(ctx)
				set[perm.CanComment] = false
				return set
			},
			PermissionsSelect: permissions("organizations", owner, "is_private"),
		},
		Counters: &registry.Counters{Bookmarks: "bookmarks", Views: "views"},
	}
}

// finalizeOrganizations makes the creator the first administrator and drops
// the memberships of deleted organizations.
func finalizeOrganizations(ctx context.Context, in registry.HookInput) error {
	for _, id := range in.Created {
		w := &query.Write{
			Table: "members",
			Data: map[string]any{
				"organization_id": id,
				"user_id":         in.Viewer.ID,
				"is_admin":        true,
			},
		}
		if err := in.Tx.Apply(ctx, w, true); err != nil {
			return err
		}
	}

	if len(in.Deleted) == 0 {
		return nil
	}
	rows, err := in.Tx.Find(ctx, query.NewSelect("members", "id"), query.In("organization_id", in.Deleted), nil, query.Page{})
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID())
	}
	if len(ids) == 0 {
		return nil
	}
	return in.Tx.Delete(ctx, "members", ids)
}

func memberDescriptor() *registry.Descriptor {
	organization := belongsTo("organizations", "organization_id")
	owner := &registry.OwnerSpec{
		OrganizationColumn: "id",
		Via: &registry.Via{
			Field:    "organization",
			Kind:     kind.Organization,
			Link:     organization,
			Relation: "organization",
		},
	}

	return &registry.Descriptor{
		Kind:  kind.Member,
		Table: "members",
		Fields: fields([]registry.Field{
			field("isAdmin", "is_admin", registry.Bool),
		}, timestamps()),
		Relations: []registry.Relation{
			{Name: "organization", Storage: "organization", Kind: kind.Organization, Link: organization},
			{Name: "user", Storage: "user", Kind: kind.User, Link: belongsTo("users", "user_id")},
		},
		Display: registry.Display{
			Select: query.NewSelect("members", "id", "user_id"),
			Label:  label("user_id"),
		},
		Mutate: &registry.MutateSpec{
			Rules: []registry.RelationRule{
				{Relation: "organization", Ops: []query.Op{query.Connect}, Cardinality: registry.One, Required: true},
				{Relation: "user", Ops: []query.Op{query.Connect}, Cardinality: registry.One, Required: true},
			},
			Post: lifecycle(kind.Member),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "old",
			Sorts:       sorts(),
			Filters: map[string]registry.FilterFunc{
				"organization": eqFilter("organization_id"),
				"user":         eqFilter("user_id"),
				"isAdmin":      eqFilter("is_admin"),
			},
		},
		Validate: registry.ValidateSpec{
			Visibility: registry.Visibility{
				Private: func(perm.Viewer) query.Filter {
					return query.Related("organization", organization, query.Eq("is_private", true))
				},
				Public: func(perm.Viewer) query.Filter {
					return query.Related("organization", organization, query.Eq("is_private", false))
				},
				Owner: owner.ViewerFilter,
			},
			Owner: owner,
			Capabilities: func(ctx perm.Context) perm.Set {
				set := perm.Default(ctx)
				self := ctx.IsLoggedIn && ctx.Row.String("user_id") == ctx.Viewer.ID
				// members may always leave
				set[perm.CanDelete] = set[perm.CanDelete] || (set[perm.CanRead] && self)
				set[perm.CanReact] = false
				set[perm.CanBookmark] = false
				set[perm.CanComment] = false
				return set
			},
			PermissionsSelect: query.NewSelect("members", "id", "organization_id", "user_id").
				With("organization", organization, query.NewSelect("organizations", "id", "is_private")),
		},
	}
}
