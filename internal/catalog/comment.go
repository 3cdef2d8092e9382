package catalog

import (
	"context"

	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
)

var (
	commentNoteLink    = belongsTo("notes", "note_id")
	commentVersionLink = belongsTo("note_versions", "note_version_id")
	commentParentLink  = belongsTo("comments", "parent_id")
)

func commentDescriptor(settings Settings) *registry.Descriptor {
	owner := &registry.OwnerSpec{UserColumn: ownerUserColumn, UserRelation: "ownedByUser"}
	replies := hasMany("comments", "parent_id")

	return &registry.Descriptor{
		Kind:  kind.Comment,
		Table: "comments",
		Fields: fields([]registry.Field{
			field("text", "text", registry.String),
			readOnly("isDeleted", "is_deleted", registry.Bool),
			readOnly("score", "score", registry.Int),
			readOnly("bookmarks", "bookmarks", registry.Int),
		}, timestamps()),
		Relations: []registry.Relation{
			{Name: "ownedByUser", Storage: "ownedByUser", Kind: kind.User, Link: belongsTo("users", ownerUserColumn)},
			{Name: "note", Storage: "note", Kind: kind.Note, Link: commentNoteLink},
			{Name: "noteVersion", Storage: "noteVersion", Kind: kind.NoteVersion, Link: commentVersionLink},
			{Name: "parent", Storage: "parent", Kind: kind.Comment, Link: commentParentLink},
			{Name: "replies", Storage: "replies", Kind: kind.Comment, Link: replies},
		},
		Unions: []registry.Union{{
			Name: "commentedOn",
			Branches: []registry.Relation{
				{Name: "commentedOn", Storage: "note", Kind: kind.Note, Link: commentNoteLink},
				{Name: "commentedOn", Storage: "noteVersion", Kind: kind.NoteVersion, Link: commentVersionLink},
			},
		}},
		Counts: []registry.CountField{
			{Name: "repliesCount", Link: replies},
		},
		Supplemental: viewerSupplemental(youField, isBookmarkedField, reactionField),
		Display: registry.Display{
			Select: query.NewSelect("comments", "id", "text"),
			Label:  label("text"),
		},
		Mutate: &registry.MutateSpec{
			Rules: []registry.RelationRule{
				{Relation: "ownedByUser", Ops: []query.Op{query.Connect}, Cardinality: registry.One},
				{Relation: "note", Ops: []query.Op{query.Connect}, Cardinality: registry.One},
				{Relation: "noteVersion", Ops: []query.Op{query.Connect}, Cardinality: registry.One},
				{Relation: "parent", Ops: []query.Op{query.Connect}, Cardinality: registry.One},
			},
			CreateSchema: map[string]any{"text": "required,min=1,max=10000"},
			UpdateSchema: map[string]any{"text": "omitempty,min=1,max=10000"},
			Authorize:    authorizeComment,
			SoftDelete:   "is_deleted",
			Post:         lifecycle(kind.Comment),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "old",
			Sorts:       withScore(sorts()),
			Filters: map[string]registry.FilterFunc{
				"note":        eqFilter("note_id"),
				"noteVersion": eqFilter("note_version_id"),
				"parent":      eqFilter("parent_id"),
				"ownedByUser": eqFilter(ownerUserColumn),
			},
			Text: textFilter("text"),
		},
		Validate: registry.ValidateSpec{
			Deleted: deletedFlag(),
			Visibility: registry.Visibility{
				Private: func(v perm.Viewer) query.Filter { return query.Not(commentTargetPublic()) },
				Public:  func(v perm.Viewer) query.Filter { return commentTargetPublic() },
				Owner:   owner.ViewerFilter,
			},
			Owner:      owner,
			MaxObjects: settings.cap(kind.Comment),
			Capabilities: func(ctx perm.Context) perm.Set {
				set := perm.Default(ctx)
				set[perm.CanReply] = set[perm.CanComment]
				set[perm.CanComment] = false
				return set
			},
			PermissionsSelect: query.NewSelect("comments", "id", ownerUserColumn, "note_id", "note_version_id", "parent_id", "is_deleted").
				With("note", commentNoteLink, query.NewSelect("notes", "id", "is_private", "is_deleted")).
				With("noteVersion", commentVersionLink, query.NewSelect("note_versions", "id", "root_id", "is_private", "is_deleted").
					With("root", rootLink, query.NewSelect("notes", "id", "is_private", "is_deleted"))),
		},
		Counters: &registry.Counters{Score: "score", Bookmarks: "bookmarks"},
	}
}

// commentTargetPublic matches comments on a public, live note or version.
func commentTargetPublic() query.Filter {
	live := func(f query.Filter) query.Filter {
		return query.And(f, query.Eq("is_private", false), query.Eq("is_deleted", false))
	}
	return query.Or(
		query.Related("note", commentNoteLink, live(query.True())),
		query.Related("noteVersion", commentVersionLink, live(query.Related("root", rootLink, live(query.True())))),
	)
}

// authorizeComment requires comment rights on the commented object and
// reply rights on the parent comment. Comments never change target.
func authorizeComment(ctx context.Context, in registry.AuthorizeInput) error {
	if in.Update {
		for _, rel := range []string{"note", "noteVersion", "parent"} {
			if _, ok := in.Payload[rel+string(query.Connect)]; ok {
				return errs.New(errs.ValidationError, "a comment cannot be moved to another %s", rel)
			}
		}
		return nil
	}

	noteID, _ := in.Payload["note"+string(query.Connect)].(string)
	versionID, _ := in.Payload["noteVersion"+string(query.Connect)].(string)

	switch {
	case noteID != "" && versionID != "":
		return errs.New(errs.ValidationError, "a comment is on a note or a note version, not both")
	case noteID != "":
		if err := requireCapability(ctx, in, kind.Note, noteID, perm.CanComment); err != nil {
			return err
		}
	case versionID != "":
		if err := requireCapability(ctx, in, kind.NoteVersion, versionID, perm.CanComment); err != nil {
			return err
		}
	default:
		return errs.New(errs.ValidationError, "a comment needs a note or a note version")
	}

	if parentID, _ := in.Payload["parent"+string(query.Connect)].(string); parentID != "" {
		return requireCapability(ctx, in, kind.Comment, parentID, perm.CanReply)
	}
	return nil
}

func requireCapability(ctx context.Context, in registry.AuthorizeInput, k kind.Kind, id string, c perm.Capability) error {
	sets, err := in.Env.Capabilities(ctx, k, []string{id}, in.Viewer)
	if err != nil {
		return err
	}
	if len(sets) != 1 || !sets[0].Has(perm.CanRead) {
		return errs.New(errs.NotFound, "%s %s not found", k, id)
	}
	if !sets[0].Has(c) {
		return errs.New(errs.PermissionDenied, "%s on %s %s is not allowed", c, k, id)
	}
	return nil
}
