package catalog

import (
	"context"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/ledger"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/emrgen/omnistore/internal/store"
	"github.com/google/uuid"
)

var (
	versionsLink = hasMany("note_versions", "root_id")
	rootLink     = belongsTo("notes", "root_id")
	noteTagsLink = query.Link{
		Table: "tags",
		Many:  true,
		Through: &query.Through{
			Table:     "note_tags",
			LocalKey:  "note_id",
			TargetKey: "tag_id",
			Field:     "tag",
		},
	}
)

func noteVersionSpec() *registry.VersionSpec {
	return &registry.VersionSpec{
		RootKind:     kind.Note,
		RootColumn:   "root_id",
		RootRelation: "root",
		Index:        "version_index",
		Latest:       "is_latest",
		Private:      "is_private",
		Complete:     "is_complete",
		Parent:       "parent_id",
	}
}

func tagDescriptor(settings Settings) *registry.Descriptor {
	owner := &registry.OwnerSpec{UserColumn: "created_by_id", UserRelation: "createdBy"}

	return &registry.Descriptor{
		Kind:  kind.Tag,
		Table: "tags",
		Fields: fields([]registry.Field{
			field("tag", "tag", registry.String),
			readOnly("bookmarks", "bookmarks", registry.Int),
		}, timestamps()),
		Relations: []registry.Relation{
			{Name: "createdBy", Storage: "createdBy", Kind: kind.User, Link: belongsTo("users", "created_by_id")},
		},
		Supplemental: viewerSupplemental(youField, isBookmarkedField),
		Display: registry.Display{
			Select: query.NewSelect("tags", "id", "tag"),
			Label:  label("tag"),
		},
		Mutate: &registry.MutateSpec{
			Rules: []registry.RelationRule{
				{Relation: "createdBy", Ops: []query.Op{query.Connect}, Cardinality: registry.One},
			},
			CreateSchema: map[string]any{"tag": "required,min=1,max=128"},
			UpdateSchema: map[string]any{"tag": "omitempty,min=1,max=128"},
			Post:         lifecycle(kind.Tag),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "name",
			Sorts: map[string][]query.Order{
				"name": {{Column: "tag"}},
				"new":  {{Column: "created_at", Desc: true}},
			},
			Text: textFilter("tag"),
		},
		Validate: registry.ValidateSpec{
			Visibility:        openVisibility(owner),
			Owner:             owner,
			MaxObjects:        settings.cap(kind.Tag),
			PermissionsSelect: permissions("tags", owner),
			Capabilities: func(ctx perm.Context) perm.Set {
				set := perm.Default(ctx)
				set[perm.CanComment] = false
				set[perm.CanReact] = false
				return set
			},
		},
		Counters: &registry.Counters{Bookmarks: "bookmarks"},
	}
}

func noteDescriptor(settings Settings) *registry.Descriptor {
	owner := directOwner()
	spec := noteVersionSpec()

	return &registry.Descriptor{
		Kind:   kind.Note,
		Table:  "notes",
		Handle: "handle",
		Fields: fields([]registry.Field{
			field("handle", "handle", registry.String),
			field("isPrivate", "is_private", registry.Bool),
			field("isClosed", "is_closed", registry.Bool),
			readOnly("isDeleted", "is_deleted", registry.Bool),
			readOnly("hasCompleteVersion", "has_complete_version", registry.Bool),
			readOnly("score", "score", registry.Int),
			readOnly("bookmarks", "bookmarks", registry.Int),
			readOnly("views", "views", registry.Int),
		}, timestamps()),
		Relations: append(ownerRelations(),
			registry.Relation{Name: "tags", Storage: "tags", Kind: kind.Tag, Link: noteTagsLink},
			registry.Relation{Name: "versions", Storage: "versions", Kind: kind.NoteVersion, Link: versionsLink},
			registry.Relation{Name: "parent", Storage: "parent", Kind: kind.NoteVersion, Link: belongsTo("note_versions", "parent_id")},
			registry.Relation{Name: "comments", Storage: "comments", Kind: kind.Comment, Link: hasMany("comments", "note_id")},
		),
		Unions: []registry.Union{ownerUnion("owner")},
		Counts: []registry.CountField{
			{Name: "versionsCount", Link: versionsLink},
			{Name: "commentsCount", Link: hasMany("comments", "note_id")},
		},
		Supplemental: viewerSupplemental(youField, isBookmarkedField, reactionField),
		Display: registry.Display{
			Select: query.NewSelect("notes", "id", "handle").
				With("versions", versionsLink, query.NewSelect("note_versions", "id", "name", "is_latest", "is_private")),
			Label: func(row query.Row) string {
				if v := ledger.Pick(row.Many("versions"), spec); v != nil && v.String("name") != "" {
					return v.String("name")
				}
				return label("handle")(row)
			},
		},
		Mutate: &registry.MutateSpec{
			Rules: append(ownerRules(),
				registry.RelationRule{Relation: "tags", Ops: []query.Op{query.Connect, query.Create, query.Disconnect}, Cardinality: registry.Many},
				registry.RelationRule{Relation: "versions", Ops: []query.Op{query.Create, query.Update, query.Delete}, Cardinality: registry.Many},
				registry.RelationRule{Relation: "parent", Ops: []query.Op{query.Connect, query.Disconnect}, Cardinality: registry.One},
			),
			CreateSchema: map[string]any{"handle": "omitempty,min=3,max=64"},
			UpdateSchema: map[string]any{"handle": "omitempty,min=3,max=64"},
			Authorize:    authorizeDerivation("versions"),
			SoftDelete:   "is_deleted",
			Post:         lifecycle(kind.Note),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "new",
			Sorts:       withScore(sorts()),
			Filters: map[string]registry.FilterFunc{
				"ownedByUser":         eqFilter(ownerUserColumn),
				"ownedByOrganization": eqFilter(ownerOrganizationColumn),
				"isClosed":            eqFilter("is_closed"),
				"hasCompleteVersion":  eqFilter("has_complete_version"),
				"parent":              eqFilter("parent_id"),
			},
			Text: textFilter("handle"),
		},
		Validate: registry.ValidateSpec{
			Deleted:      deletedFlag(),
			Visibility:   flagVisibility(owner),
			Owner:        owner,
			Transferable: true,
			MaxObjects:   settings.cap(kind.Note),
			Capabilities: func(ctx perm.Context) perm.Set {
				set := perm.Default(ctx)
				set[perm.CanComment] = set[perm.CanComment] && !ctx.Row.Bool("is_closed")
				return set
			},
			PermissionsSelect: permissions("notes", owner, "is_private", "is_deleted", "is_closed"),
		},
		Counters: &registry.Counters{Score: "score", Bookmarks: "bookmarks", Views: "views"},
		Root: &registry.RootSpec{
			VersionKind:  kind.NoteVersion,
			CompleteFlag: "has_complete_version",
			Parent:       "parent_id",
		},
	}
}

// attachNoteHooks checks and normalizes the versions written through a note.
func attachNoteHooks(note *registry.Descriptor, versions *ledger.Ledger) {
	note.Mutate.Pre = func(ctx context.Context, in registry.HookInput) (registry.Sidecar, error) {
		assignNestedIDs(in.Batch, "versions")

		sidecar := make(registry.Sidecar)
		nested := versions.NestedBatch(in.Batch, "versions")
		if len(nested.Creates)+len(nested.Updates)+len(nested.Deletes) > 0 {
			sc, err := versions.Check(ctx, in.Tx, nested)
			if err != nil {
				return nil, err
			}
			mergeSidecar(sidecar, sc)
		}
		mergeSidecar(sidecar, complexitySidecar(append(nested.Creates, nested.Updates...)))

		if err := checkDerivation(ctx, in.Tx, in.Batch); err != nil {
			return nil, err
		}
		return sidecar, nil
	}

	note.Mutate.Finalize = func(ctx context.Context, in registry.HookInput) error {
		roots := append(append([]string(nil), in.Created...), in.Updated...)
		if _, err := versions.Normalize(ctx, in.Tx, roots, versions.NestedLatest(in.Batch, "versions")); err != nil {
			return err
		}
		if len(in.Deleted) == 0 {
			return nil
		}
		_, err := in.Tx.UpdateWhere(ctx, "note_versions", query.In("root_id", in.Deleted), map[string]any{"is_deleted": true})
		return err
	}
}

func noteVersionDescriptor() *registry.Descriptor {
	owner := &registry.OwnerSpec{
		UserColumn:         ownerUserColumn,
		OrganizationColumn: ownerOrganizationColumn,
		Via: &registry.Via{
			Field:    "root",
			Kind:     kind.Note,
			Link:     rootLink,
			Relation: "root",
		},
	}
	forks := hasMany("note_versions", "parent_id")

	return &registry.Descriptor{
		Kind:  kind.NoteVersion,
		Table: "note_versions",
		Fields: fields([]registry.Field{
			field("versionIndex", "version_index", registry.Int),
			field("versionLabel", "version_label", registry.String),
			field("isLatest", "is_latest", registry.Bool),
			field("isPrivate", "is_private", registry.Bool),
			field("isComplete", "is_complete", registry.Bool),
			field("name", "name", registry.String),
			field("description", "description", registry.String),
			{Name: "content", Column: "content", Type: registry.String, Compressed: true},
			readOnly("rootId", "root_id", registry.String),
			readOnly("isDeleted", "is_deleted", registry.Bool),
			readOnly("complexity", "complexity", registry.Int),
			readOnly("score", "score", registry.Int),
			readOnly("bookmarks", "bookmarks", registry.Int),
			readOnly("views", "views", registry.Int),
		}, timestamps()),
		Relations: []registry.Relation{
			{Name: "root", Storage: "root", Kind: kind.Note, Link: rootLink},
			{Name: "parent", Storage: "parent", Kind: kind.NoteVersion, Link: belongsTo("note_versions", "parent_id")},
			{Name: "forks", Storage: "forks", Kind: kind.NoteVersion, Link: forks},
			{Name: "comments", Storage: "comments", Kind: kind.Comment, Link: hasMany("comments", "note_version_id")},
		},
		Counts: []registry.CountField{
			{Name: "forksCount", Link: forks},
			{Name: "commentsCount", Link: hasMany("comments", "note_version_id")},
		},
		Supplemental: viewerSupplemental(youField, isBookmarkedField, reactionField),
		Display: registry.Display{
			Select: query.NewSelect("note_versions", "id", "name", "version_label"),
			Label:  label("name"),
		},
		Mutate: &registry.MutateSpec{
			Rules: []registry.RelationRule{
				{Relation: "root", Ops: []query.Op{query.Connect, query.Create}, Cardinality: registry.One, Required: true},
				{Relation: "parent", Ops: []query.Op{query.Connect, query.Disconnect}, Cardinality: registry.One},
			},
			CreateSchema: map[string]any{
				"name":         "omitempty,max=256",
				"description":  "omitempty,max=4096",
				"versionLabel": "omitempty,max=64",
			},
			UpdateSchema: map[string]any{
				"name":         "omitempty,max=256",
				"description":  "omitempty,max=4096",
				"versionLabel": "omitempty,max=64",
			},
			Authorize: authorizeDerivation(""),
			Post:      lifecycle(kind.NoteVersion),
		},
		Search: &registry.SearchSpec{
			DefaultSort: "new",
			Sorts: func() map[string][]query.Order {
				s := withScore(sorts())
				s["index"] = []query.Order{{Column: "root_id"}, {Column: "version_index"}}
				return s
			}(),
			Filters: map[string]registry.FilterFunc{
				"root":       eqFilter("root_id"),
				"isLatest":   eqFilter("is_latest"),
				"isComplete": eqFilter("is_complete"),
				"parent":     eqFilter("parent_id"),
			},
			Text: textFilter("name", "description"),
		},
		Validate: registry.ValidateSpec{
			Deleted: query.Or(deletedFlag(), query.Related("root", rootLink, deletedFlag())),
			Visibility: registry.Visibility{
				Private: func(perm.Viewer) query.Filter {
					return query.Or(query.Eq("is_private", true), query.Related("root", rootLink, query.Eq("is_private", true)))
				},
				Public: func(perm.Viewer) query.Filter {
					return query.And(query.Eq("is_private", false), query.Related("root", rootLink, query.Eq("is_private", false)))
				},
				Owner: owner.ViewerFilter,
			},
			Owner: owner,
			Capabilities: func(ctx perm.Context) perm.Set {
				set := perm.Default(ctx)
				root := ctx.Row.Nested("root")
				set[perm.CanComment] = set[perm.CanComment] && root != nil && !root.Bool("is_closed")
				return set
			},
			PermissionsSelect: query.NewSelect("note_versions", "id", "root_id", "is_private", "is_deleted").
				With("root", rootLink, query.NewSelect("notes", "id", "is_private", "is_deleted", "is_closed", ownerUserColumn, ownerOrganizationColumn)),
		},
		Counters: &registry.Counters{Score: "score", Bookmarks: "bookmarks", Views: "views"},
		Version:  noteVersionSpec(),
	}
}

func attachNoteVersionHooks(version *registry.Descriptor, versions *ledger.Ledger) {
	version.Mutate.Pre = func(ctx context.Context, in registry.HookInput) (registry.Sidecar, error) {
		sidecar, err := versions.Check(ctx, in.Tx, in.Batch)
		if err != nil {
			return nil, err
		}
		mergeSidecar(sidecar, complexitySidecar(append(append([]registry.Payload(nil), in.Batch.Creates...), in.Batch.Updates...)))
		return sidecar, nil
	}
	version.Mutate.Finalize = versions.Finalize
}

// assignNestedIDs gives every nested create under relation an id so hooks
// and the shaper agree on row identity.
func assignNestedIDs(batch registry.Batch, relation string) {
	for _, root := range append(append([]registry.Payload(nil), batch.Creates...), batch.Updates...) {
		items, ok := root[relation+string(query.Create)].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			p, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if id, _ := p["id"].(string); id == "" {
				p["id"] = uuid.NewString()
			}
		}
	}
}

// authorizeDerivation requires read rights on every version a payload, or a
// version nested under relation, derives from. Parents that do not exist yet
// are left to the ledger's lineage check.
func authorizeDerivation(relation string) registry.AuthorizeFunc {
	return func(ctx context.Context, in registry.AuthorizeInput) error {
		parents := mapset.NewThreadUnsafeSet[string]()
		collect := func(p map[string]any) {
			if id, ok := p["parent"+string(query.Connect)].(string); ok && id != "" {
				parents.Add(id)
			}
		}
		collect(in.Payload)
		if relation != "" {
			for _, op := range []query.Op{query.Create, query.Update} {
				for _, p := range nestedPayloads(in.Payload[relation+string(op)]) {
					collect(p)
				}
			}
		}
		if parents.Cardinality() == 0 {
			return nil
		}

		ids := parents.ToSlice()
		sets, err := in.Env.Capabilities(ctx, kind.NoteVersion, ids, in.Viewer)
		if err != nil {
			return err
		}
		for i, set := range sets {
			if set != nil && !set.Has(perm.CanRead) {
				return errs.New(errs.VersionConsistencyError, "%s cannot derive from version %s", in.Kind, ids[i])
			}
		}
		return nil
	}
}

func nestedPayloads(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if p, ok := item.(map[string]any); ok {
				out = append(out, p)
			}
		}
		return out
	case []registry.Payload:
		return t
	case map[string]any:
		return []map[string]any{t}
	}
	return nil
}

// checkDerivation rejects notes derived from versions that do not exist.
func checkDerivation(ctx context.Context, tx store.RowStore, batch registry.Batch) error {
	parents := mapset.NewThreadUnsafeSet[string]()
	for _, p := range append(append([]registry.Payload(nil), batch.Creates...), batch.Updates...) {
		if id, ok := p["parent"+string(query.Connect)].(string); ok && id != "" {
			parents.Add(id)
		}
	}
	if parents.Cardinality() == 0 {
		return nil
	}

	n, err := tx.Count(ctx, "note_versions", query.In("id", parents.ToSlice()))
	if err != nil {
		return err
	}
	if int(n) != parents.Cardinality() {
		return errs.New(errs.VersionConsistencyError, "notes must derive from existing versions")
	}
	return nil
}

// complexitySidecar scores the content of each payload carrying content.
func complexitySidecar(payloads []registry.Payload) registry.Sidecar {
	out := make(registry.Sidecar)
	for _, p := range payloads {
		content, ok := p["content"].(string)
		id, _ := p["id"].(string)
		if !ok || id == "" {
			continue
		}
		out[id] = map[string]any{"complexity": Complexity(content)}
	}
	return out
}

// Complexity counts the non-blank lines of a version's content.
func Complexity(content string) int {
	n := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func mergeSidecar(dst, src registry.Sidecar) {
	for id, cols := range src {
		if dst[id] == nil {
			dst[id] = make(map[string]any, len(cols))
		}
		for col, v := range cols {
			dst[id][col] = v
		}
	}
}
