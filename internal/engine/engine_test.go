package engine_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/emrgen/omnistore/internal/catalog"
	"github.com/emrgen/omnistore/internal/compress"
	"github.com/emrgen/omnistore/internal/engine"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/projector"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/queue"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/emrgen/omnistore/internal/store"
	"github.com/emrgen/omnistore/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = perm.Viewer{ID: "alice"}
	bob   = perm.Viewer{ID: "bob"}
)

type fixture struct {
	engine *engine.Engine
	store  store.Store
	queue  *queue.MemoryQueue
}

func newFixture(t *testing.T, settings catalog.Settings) *fixture {
	reg, err := catalog.New(settings)
	require.NoError(t, err)

	codec, err := compress.New("gzip")
	require.NoError(t, err)

	s := store.NewGormStore(tester.TestDB(t))
	q := queue.NewMemoryQueue()
	e := engine.New(reg, s, engine.Options{Codec: codec, Publisher: q})

	for _, id := range []string{alice.ID, bob.ID} {
		require.NoError(t, s.Apply(context.Background(), &query.Write{Table: "users", ID: id, Data: map[string]any{
			"handle":     id,
			"name":       id,
			"is_private": false,
		}}, true))
	}

	return &fixture{engine: e, store: s, queue: q}
}

func (f *fixture) createNote(t *testing.T, viewer perm.Viewer, payload registry.Payload) string {
	res, err := f.engine.Mutate(context.Background(), kind.Note, registry.Batch{
		Creates: []registry.Payload{payload},
	}, projector.Selection{"id": nil}, viewer)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	return fmt.Sprint(res.Created[0]["id"])
}

func ids(objs []registry.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, fmt.Sprint(o["id"]))
	}
	return out
}

func TestEngine_MutateCreatesNoteWithVersions(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()

	sel := projector.Selection{
		"isPrivate":     nil,
		"versionsCount": nil,
		"owner":         projector.Selection{"User": {"handle": nil}},
		"versions":      {"versionIndex": nil, "isLatest": nil},
		"you":           nil,
	}
	res, err := f.engine.Mutate(ctx, kind.Note, registry.Batch{
		Creates: []registry.Payload{{
			"isPrivate": false,
			"versionsCreate": []any{
				map[string]any{"name": "first", "content": "a\nb\n\nc"},
				map[string]any{"name": "second", "content": "d"},
			},
		}},
	}, sel, alice)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)

	note := res.Created[0]
	assert.Equal(t, string(kind.Note), note[registry.TypenameField])
	assert.Equal(t, false, note["isPrivate"])
	assert.Equal(t, int64(2), note["versionsCount"])

	owner, ok := note["owner"].(registry.Object)
	require.True(t, ok)
	assert.Equal(t, string(kind.User), owner[registry.TypenameField])
	assert.Equal(t, "alice", owner["handle"])

	you, ok := note["you"].(map[string]bool)
	require.True(t, ok)
	assert.True(t, you[string(perm.CanUpdate)])
	assert.True(t, you[string(perm.CanTransfer)])

	versions, ok := note["versions"].([]registry.Object)
	require.True(t, ok)
	require.Len(t, versions, 2)
	latest := 0
	indices := map[int64]bool{}
	for _, v := range versions {
		indices[v["versionIndex"].(int64)] = true
		if v["isLatest"] == true {
			latest++
		}
	}
	assert.Equal(t, map[int64]bool{0: true, 1: true}, indices)
	assert.Equal(t, 1, latest)

	events := f.queue.Events()
	require.Len(t, events, 1)
	assert.Equal(t, queue.ObjectCreated, events[0].Type)
	assert.Equal(t, "alice", events[0].ActorID)
	assert.Equal(t, note["id"], events[0].ObjectID)
}

func TestEngine_ReadLatestVersionContent(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()

	id := f.createNote(t, alice, registry.Payload{
		"handle": "notes-on-go",
		"versionsCreate": []any{
			map[string]any{"name": "draft", "content": "a\nb\n\nc", "isComplete": true},
		},
	})

	sel := projector.Selection{"name": nil, "content": nil, "complexity": nil, "versionIndex": nil, "isLatest": nil}
	v, err := f.engine.ReadOne(ctx, kind.NoteVersion, engine.Lookup{RootID: id}, sel, bob)
	require.NoError(t, err)
	assert.Equal(t, "draft", v["name"])
	assert.Equal(t, "a\nb\n\nc", v["content"])
	assert.Equal(t, int64(3), v["complexity"])
	assert.Equal(t, int64(0), v["versionIndex"])
	assert.Equal(t, true, v["isLatest"])

	byHandle, err := f.engine.ReadOne(ctx, kind.NoteVersion, engine.Lookup{RootHandle: "notes-on-go"}, sel, bob)
	require.NoError(t, err)
	assert.Equal(t, v["id"], byHandle["id"])

	note, err := f.engine.ReadOne(ctx, kind.Note, engine.Lookup{Handle: "notes-on-go"}, projector.Selection{"hasCompleteVersion": nil}, perm.Anonymous)
	require.NoError(t, err)
	assert.Equal(t, id, note["id"])
	assert.Equal(t, true, note["hasCompleteVersion"])
}

func TestEngine_ReadOneErrors(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()
	private := f.createNote(t, alice, registry.Payload{"isPrivate": true})

	tests := []struct {
		name   string
		kind   kind.Kind
		lookup engine.Lookup
		sel    projector.Selection
		viewer perm.Viewer
		code   errs.Code
	}{
		{name: "hidden", kind: kind.Note, lookup: engine.Lookup{ID: private}, viewer: bob, code: errs.NotFound},
		{name: "missing", kind: kind.Note, lookup: engine.Lookup{ID: "nope"}, viewer: bob, code: errs.NotFound},
		{name: "two lookups", kind: kind.Note, lookup: engine.Lookup{ID: private, Handle: "x"}, viewer: alice, code: errs.ValidationError},
		{name: "no lookup", kind: kind.Note, viewer: alice, code: errs.ValidationError},
		{name: "not versioned", kind: kind.Tag, lookup: engine.Lookup{RootID: "x"}, viewer: alice, code: errs.ValidationError},
		{name: "no handle", kind: kind.Tag, lookup: engine.Lookup{Handle: "x"}, viewer: alice, code: errs.ValidationError},
		{name: "unknown field", kind: kind.Note, lookup: engine.Lookup{ID: private}, sel: projector.Selection{"colour": nil}, viewer: alice, code: errs.ValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ReadOne(ctx, tt.kind, tt.lookup, tt.sel, tt.viewer)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}

	obj, err := f.engine.ReadOne(ctx, kind.Note, engine.Lookup{ID: private}, nil, alice)
	require.NoError(t, err)
	assert.Equal(t, private, obj["id"])
}

func TestEngine_MutateRejects(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()
	note := f.createNote(t, alice, registry.Payload{})

	tests := []struct {
		name   string
		kind   kind.Kind
		batch  registry.Batch
		viewer perm.Viewer
		code   errs.Code
	}{
		{
			name:   "anonymous",
			kind:   kind.Tag,
			batch:  registry.Batch{Creates: []registry.Payload{{"tag": "go"}}},
			viewer: perm.Anonymous,
			code:   errs.PermissionDenied,
		},
		{
			name:   "schema",
			kind:   kind.Tag,
			batch:  registry.Batch{Creates: []registry.Payload{{"tag": ""}}},
			viewer: alice,
			code:   errs.ValidationError,
		},
		{
			name:   "duplicate id",
			kind:   kind.Tag,
			batch:  registry.Batch{Creates: []registry.Payload{{"id": "t1", "tag": "a"}, {"id": "t1", "tag": "b"}}},
			viewer: alice,
			code:   errs.ValidationError,
		},
		{
			name:   "create for another user",
			kind:   kind.Note,
			batch:  registry.Batch{Creates: []registry.Payload{{"ownedByUserConnect": "bob"}}},
			viewer: alice,
			code:   errs.PermissionDenied,
		},
		{
			name:   "update by stranger",
			kind:   kind.Note,
			batch:  registry.Batch{Updates: []registry.Payload{{"id": note, "isClosed": true}}},
			viewer: bob,
			code:   errs.PermissionDenied,
		},
		{
			name:   "delete by stranger",
			kind:   kind.Note,
			batch:  registry.Batch{Deletes: []string{note}},
			viewer: bob,
			code:   errs.PermissionDenied,
		},
		{
			name:   "transfer to stranger",
			kind:   kind.Note,
			batch:  registry.Batch{Updates: []registry.Payload{{"id": note, "ownedByUserConnect": "bob"}}},
			viewer: alice,
			code:   errs.PermissionDenied,
		},
		{
			name:   "read-only kind",
			kind:   kind.ReactionSummary,
			batch:  registry.Batch{Deletes: []string{"s1"}},
			viewer: alice,
			code:   errs.ValidationError,
		},
		{
			name:   "derived from missing version",
			kind:   kind.Note,
			batch:  registry.Batch{Creates: []registry.Payload{{"parentConnect": "gone"}}},
			viewer: alice,
			code:   errs.VersionConsistencyError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Mutate(ctx, tt.kind, tt.batch, nil, tt.viewer)
			require.Error(t, err)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}

	// failed batches leave nothing behind
	n, err := f.store.Count(ctx, "tags", query.True())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_EmptyBatch(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())

	res, err := f.engine.Mutate(context.Background(), kind.Note, registry.Batch{}, nil, perm.Anonymous)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Events)
}

func TestEngine_ObjectCap(t *testing.T) {
	f := newFixture(t, catalog.Settings{MaxObjects: map[kind.Kind]int{kind.Tag: 1}})
	ctx := context.Background()

	_, err := f.engine.Mutate(ctx, kind.Tag, registry.Batch{Creates: []registry.Payload{{"tag": "go"}}}, nil, alice)
	require.NoError(t, err)

	_, err = f.engine.Mutate(ctx, kind.Tag, registry.Batch{Creates: []registry.Payload{{"tag": "rust"}}}, nil, alice)
	assert.Equal(t, errs.ObjectCapExceeded, errs.CodeOf(err))

	_, err = f.engine.Mutate(ctx, kind.Tag, registry.Batch{Creates: []registry.Payload{{"tag": "rust"}}}, nil, bob)
	assert.NoError(t, err)
}

func TestEngine_SoftDelete(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()
	id := f.createNote(t, alice, registry.Payload{
		"versionsCreate": []any{map[string]any{"name": "only"}},
	})

	res, err := f.engine.Mutate(ctx, kind.Note, registry.Batch{Deletes: []string{id}}, nil, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, res.Deleted)

	_, err = f.engine.ReadOne(ctx, kind.Note, engine.Lookup{ID: id}, nil, alice)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
	_, err = f.engine.ReadOne(ctx, kind.NoteVersion, engine.Lookup{RootID: id}, nil, alice)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))

	rows, err := f.store.Find(ctx, query.NewSelect("notes", "is_deleted"), query.Eq("id", id), nil, query.Page{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Bool("is_deleted"))
}

func TestEngine_UpdateHidesPrivatizedObject(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()
	id := f.createNote(t, alice, registry.Payload{})

	res, err := f.engine.Mutate(ctx, kind.Note, registry.Batch{
		Updates: []registry.Payload{{"id": id, "isPrivate": true, "isClosed": true}},
	}, projector.Selection{"isPrivate": nil, "isClosed": nil}, alice)
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, true, res.Updated[0]["isPrivate"])
	assert.Equal(t, true, res.Updated[0]["isClosed"])

	_, err = f.engine.ReadOne(ctx, kind.Note, engine.Lookup{ID: id}, nil, bob)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestEngine_Comments(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()
	open := f.createNote(t, alice, registry.Payload{})
	closed := f.createNote(t, alice, registry.Payload{"isClosed": true})
	private := f.createNote(t, alice, registry.Payload{"isPrivate": true})

	sel := projector.Selection{
		"text":        nil,
		"commentedOn": {"Note": {"id": nil}},
		"ownedByUser": {"handle": nil},
	}
	res, err := f.engine.Mutate(ctx, kind.Comment, registry.Batch{
		Creates: []registry.Payload{{"text": "nice", "noteConnect": open}},
	}, sel, bob)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)

	c := res.Created[0]
	assert.Equal(t, "nice", c["text"])
	assert.Equal(t, "bob", c["ownedByUser"].(registry.Object)["handle"])
	target := c["commentedOn"].(registry.Object)
	assert.Equal(t, string(kind.Note), target[registry.TypenameField])
	assert.Equal(t, open, target["id"])

	_, err = f.engine.Mutate(ctx, kind.Comment, registry.Batch{
		Creates: []registry.Payload{{"text": "nope", "noteConnect": closed}},
	}, nil, bob)
	assert.Equal(t, errs.PermissionDenied, errs.CodeOf(err))

	_, err = f.engine.Mutate(ctx, kind.Comment, registry.Batch{
		Creates: []registry.Payload{{"text": "nope", "noteConnect": private}},
	}, nil, bob)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))

	note, err := f.engine.ReadOne(ctx, kind.Note, engine.Lookup{ID: open}, projector.Selection{"commentsCount": nil}, perm.Anonymous)
	require.NoError(t, err)
	assert.Equal(t, int64(1), note["commentsCount"])
}

func TestEngine_SearchPages(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()

	var creates []registry.Payload
	for i := 0; i < 5; i++ {
		creates = append(creates, registry.Payload{"tag": fmt.Sprintf("tag-%d", i)})
	}
	_, err := f.engine.Mutate(ctx, kind.Tag, registry.Batch{Creates: creates}, nil, alice)
	require.NoError(t, err)

	sel := projector.Selection{"tag": nil}
	var got []string
	after := ""
	for pages := 0; pages < 5; pages++ {
		page, err := f.engine.Search(ctx, kind.Tag, engine.SearchInput{Sort: "name", Take: 2, After: after}, sel, perm.Anonymous)
		require.NoError(t, err)
		for _, e := range page.Edges {
			got = append(got, e["tag"].(string))
		}
		if !page.HasNextPage {
			assert.Equal(t, "5", page.EndCursor)
			break
		}
		after = page.EndCursor
	}
	assert.Equal(t, []string{"tag-0", "tag-1", "tag-2", "tag-3", "tag-4"}, got)

	page, err := f.engine.Search(ctx, kind.Tag, engine.SearchInput{Text: "tag-3"}, sel, perm.Anonymous)
	require.NoError(t, err)
	require.Len(t, page.Edges, 1)
	assert.Equal(t, "tag-3", page.Edges[0]["tag"])

	page, err = f.engine.Search(ctx, kind.Tag, engine.SearchInput{Take: 500}, sel, perm.Anonymous)
	require.NoError(t, err)
	assert.Len(t, page.Edges, 5)
	assert.False(t, page.HasNextPage)

	page, err = f.engine.Search(ctx, kind.Tag, engine.SearchInput{After: "10"}, sel, perm.Anonymous)
	require.NoError(t, err)
	assert.Empty(t, page.Edges)
	assert.Empty(t, page.EndCursor)
}

func TestEngine_SearchRejects(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()

	tests := []struct {
		name   string
		kind   kind.Kind
		in     engine.SearchInput
		viewer perm.Viewer
		code   errs.Code
	}{
		{name: "negative take", kind: kind.Note, in: engine.SearchInput{Take: -1}, code: errs.ValidationError},
		{name: "bad cursor", kind: kind.Note, in: engine.SearchInput{After: "abc"}, code: errs.ValidationError},
		{name: "unknown sort", kind: kind.Note, in: engine.SearchInput{Sort: "random"}, code: errs.ValidationError},
		{name: "unknown filter", kind: kind.Note, in: engine.SearchInput{Filters: map[string]any{"colour": "red"}}, code: errs.ValidationError},
		{name: "unknown visibility", kind: kind.Note, in: engine.SearchInput{Visibility: "Mine"}, code: errs.ValidationError},
		{name: "own while anonymous", kind: kind.Note, in: engine.SearchInput{Visibility: "Own"}, code: errs.PermissionDenied},
		{name: "no text search", kind: kind.Member, in: engine.SearchInput{Text: "x"}, viewer: alice, code: errs.ValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Search(ctx, tt.kind, tt.in, nil, tt.viewer)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}
}

func TestEngine_SearchVisibility(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()

	alicePublic := f.createNote(t, alice, registry.Payload{})
	alicePrivate := f.createNote(t, alice, registry.Payload{"isPrivate": true})
	bobPublic := f.createNote(t, bob, registry.Payload{"isClosed": true})

	tests := []struct {
		name    string
		viewer  perm.Viewer
		mode    string
		filters map[string]any
		want    []string
	}{
		{name: "anonymous", viewer: perm.Anonymous, want: []string{alicePublic, bobPublic}},
		{name: "owner sees private", viewer: alice, want: []string{alicePublic, alicePrivate, bobPublic}},
		{name: "own", viewer: alice, mode: "Own", want: []string{alicePublic, alicePrivate}},
		{name: "own private", viewer: alice, mode: "OwnPrivate", want: []string{alicePrivate}},
		{name: "own public", viewer: alice, mode: "OwnPublic", want: []string{alicePublic}},
		{name: "public", viewer: alice, mode: "Public", want: []string{alicePublic, bobPublic}},
		{name: "stranger", viewer: bob, want: []string{alicePublic, bobPublic}},
		{name: "filtered", viewer: alice, filters: map[string]any{"isClosed": true}, want: []string{bobPublic}},
		{name: "by owner", viewer: bob, filters: map[string]any{"ownedByUser": "alice"}, want: []string{alicePublic}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.engine.Search(ctx, kind.Note, engine.SearchInput{Visibility: tt.mode, Filters: tt.filters}, nil, tt.viewer)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(page.Edges))
		})
	}
}

func TestEngine_ResolveCapabilities(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()
	public := f.createNote(t, alice, registry.Payload{})
	private := f.createNote(t, alice, registry.Payload{"isPrivate": true})

	sets, err := f.engine.ResolveCapabilities(ctx, kind.Note, []string{public, private, "missing"}, bob)
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.True(t, sets[0].Has(perm.CanRead))
	assert.True(t, sets[0].Has(perm.CanComment))
	assert.False(t, sets[0].Has(perm.CanUpdate))
	assert.False(t, sets[1].Has(perm.CanRead))
	assert.Nil(t, sets[2])

	sets, err = f.engine.ResolveCapabilities(ctx, kind.Note, []string{private}, alice)
	require.NoError(t, err)
	assert.True(t, sets[0].Has(perm.CanDelete))

	_, err = f.engine.ResolveCapabilities(ctx, kind.Kind("Widget"), []string{public}, alice)
	assert.Equal(t, errs.UnknownKind, errs.CodeOf(err))
}

func TestEngine_OrganizationOwnership(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()

	res, err := f.engine.Mutate(ctx, kind.Organization, registry.Batch{
		Creates: []registry.Payload{{"name": "Acme", "handle": "acme"}},
	}, projector.Selection{"membersCount": nil}, alice)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	org := fmt.Sprint(res.Created[0]["id"])
	assert.Equal(t, int64(1), res.Created[0]["membersCount"])

	viewer, err := f.engine.ViewerFor(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{org}, viewer.Organizations)

	note := f.createNote(t, viewer, registry.Payload{"isPrivate": true, "ownedByOrganizationConnect": org})
	_, err = f.engine.ReadOne(ctx, kind.Note, engine.Lookup{ID: note}, nil, viewer)
	assert.NoError(t, err)
	_, err = f.engine.ReadOne(ctx, kind.Note, engine.Lookup{ID: note}, nil, bob)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))

	_, err = f.engine.Mutate(ctx, kind.Note, registry.Batch{
		Creates: []registry.Payload{{"ownedByOrganizationConnect": org}},
	}, nil, bob)
	assert.Equal(t, errs.PermissionDenied, errs.CodeOf(err))

	// bob joins as an administrator
	_, err = f.engine.Mutate(ctx, kind.Member, registry.Batch{
		Creates: []registry.Payload{{"organizationConnect": org, "userConnect": bob.ID, "isAdmin": true}},
	}, nil, viewer)
	require.NoError(t, err)

	bobViewer, err := f.engine.ViewerFor(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{org}, bobViewer.Organizations)
	_, err = f.engine.ReadOne(ctx, kind.Note, engine.Lookup{ID: note}, nil, bobViewer)
	assert.NoError(t, err)

	anon, err := f.engine.ViewerFor(ctx, "")
	require.NoError(t, err)
	assert.False(t, anon.LoggedIn())
}

func TestEngine_Engagement(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()
	id := f.createNote(t, alice, registry.Payload{})

	_, err := f.engine.React(ctx, kind.Note, id, "❤️", bob)
	require.NoError(t, err)
	created, err := f.engine.Bookmark(ctx, kind.Note, id, "", bob)
	require.NoError(t, err)
	assert.True(t, created)
	counted, err := f.engine.View(ctx, kind.Note, id, bob)
	require.NoError(t, err)
	assert.True(t, counted)

	sel := projector.Selection{"score": nil, "bookmarks": nil, "views": nil, "isBookmarked": nil, "reaction": nil}
	note, err := f.engine.ReadOne(ctx, kind.Note, engine.Lookup{ID: id}, sel, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(2), note["score"])
	assert.Equal(t, int64(1), note["bookmarks"])
	assert.Equal(t, int64(1), note["views"])
	assert.Equal(t, true, note["isBookmarked"])
	assert.Equal(t, "❤️", note["reaction"])

	note, err = f.engine.ReadOne(ctx, kind.Note, engine.Lookup{ID: id}, sel, alice)
	require.NoError(t, err)
	assert.Equal(t, false, note["isBookmarked"])
	assert.Nil(t, note["reaction"])

	removed, err := f.engine.Unbookmark(ctx, kind.Note, id, bob)
	require.NoError(t, err)
	assert.True(t, removed)
	marked, err := f.engine.IsBookmarked(ctx, kind.Note, []string{id}, bob)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, marked)
}

func (f *fixture) versionIDs(t *testing.T, note string) map[string]string {
	obj, err := f.engine.ReadOne(context.Background(), kind.Note, engine.Lookup{ID: note},
		projector.Selection{"versions": {"name": nil}}, alice)
	require.NoError(t, err)
	out := make(map[string]string)
	for _, v := range obj["versions"].([]registry.Object) {
		out[fmt.Sprint(v["name"])] = fmt.Sprint(v["id"])
	}
	return out
}

func TestEngine_VersionsStayWithTheirRoot(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()
	a := f.createNote(t, alice, registry.Payload{"versionsCreate": []any{
		map[string]any{"name": "a0"},
		map[string]any{"name": "a1"},
	}})
	b := f.createNote(t, alice, registry.Payload{"versionsCreate": []any{map[string]any{"name": "b0"}}})
	av, bv := f.versionIDs(t, a), f.versionIDs(t, b)

	tests := []struct {
		name    string
		payload registry.Payload
	}{
		{name: "latest moved away", payload: registry.Payload{"id": av["a1"], "rootConnect": b}},
		{name: "only version moved away", payload: registry.Payload{"id": bv["b0"], "rootConnect": a}},
		{name: "moved to a new note", payload: registry.Payload{"id": av["a0"], "rootCreate": map[string]any{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Mutate(ctx, kind.NoteVersion, registry.Batch{Updates: []registry.Payload{tt.payload}}, nil, alice)
			assert.Equal(t, errs.VersionConsistencyError, errs.CodeOf(err))
		})
	}

	assert.Len(t, f.versionIDs(t, a), 2)
	assert.Len(t, f.versionIDs(t, b), 1)

	_, err := f.engine.Mutate(ctx, kind.NoteVersion, registry.Batch{
		Updates: []registry.Payload{{"id": av["a0"], "rootConnect": a, "name": "first"}},
	}, nil, alice)
	require.NoError(t, err)
	assert.Contains(t, f.versionIDs(t, a), "first")
}

func TestEngine_NestedReadsFollowReadRules(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()
	note := f.createNote(t, alice, registry.Payload{"versionsCreate": []any{
		map[string]any{"name": "open", "content": "hello"},
		map[string]any{"name": "secret", "content": "hidden", "isPrivate": true},
	}})
	versions := f.versionIDs(t, note)
	require.Len(t, versions, 2)

	sel := projector.Selection{"versions": {"name": nil, "content": nil}}
	tests := []struct {
		name   string
		viewer perm.Viewer
		want   []string
	}{
		{name: "owner", viewer: alice, want: []string{"open", "secret"}},
		{name: "stranger", viewer: bob, want: []string{"open"}},
		{name: "anonymous", viewer: perm.Anonymous, want: []string{"open"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := f.engine.ReadOne(ctx, kind.Note, engine.Lookup{ID: note}, sel, tt.viewer)
			require.NoError(t, err)
			var names []string
			for _, v := range obj["versions"].([]registry.Object) {
				names = append(names, fmt.Sprint(v["name"]))
			}
			assert.ElementsMatch(t, tt.want, names)
		})
	}

	_, err := f.engine.Mutate(ctx, kind.Note, registry.Batch{
		Creates: []registry.Payload{{"parentConnect": versions["secret"]}},
	}, nil, bob)
	assert.Equal(t, errs.VersionConsistencyError, errs.CodeOf(err))

	_, err = f.engine.Mutate(ctx, kind.Note, registry.Batch{
		Creates: []registry.Payload{{"versionsCreate": []any{
			map[string]any{"name": "copy", "parentConnect": versions["secret"]},
		}}},
	}, nil, bob)
	assert.Equal(t, errs.VersionConsistencyError, errs.CodeOf(err))

	res, err := f.engine.Mutate(ctx, kind.Note, registry.Batch{
		Creates: []registry.Payload{{"parentConnect": versions["open"]}},
	}, projector.Selection{"parent": {"name": nil}}, bob)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, "open", res.Created[0]["parent"].(registry.Object)["name"])
}

func TestEngine_CommentsStayOnTheirTarget(t *testing.T) {
	f := newFixture(t, catalog.DefaultSettings())
	ctx := context.Background()
	open := f.createNote(t, alice, registry.Payload{"versionsCreate": []any{map[string]any{"name": "v0"}}})
	closed := f.createNote(t, alice, registry.Payload{"isClosed": true, "versionsCreate": []any{map[string]any{"name": "v0"}}})
	closedVersion := f.versionIDs(t, closed)["v0"]

	sel := projector.Selection{"commentedOn": {"Note": {"id": nil}}}
	res, err := f.engine.Mutate(ctx, kind.Comment, registry.Batch{
		Creates: []registry.Payload{{"text": "nice", "noteConnect": open}},
	}, sel, bob)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	comment := fmt.Sprint(res.Created[0]["id"])

	tests := []struct {
		name    string
		payload registry.Payload
	}{
		{name: "to a closed note", payload: registry.Payload{"id": comment, "noteConnect": closed}},
		{name: "to a closed note's version", payload: registry.Payload{"id": comment, "noteVersionConnect": closedVersion}},
		{name: "under another comment", payload: registry.Payload{"id": comment, "parentConnect": comment}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Mutate(ctx, kind.Comment, registry.Batch{Updates: []registry.Payload{tt.payload}}, nil, bob)
			assert.Equal(t, errs.ValidationError, errs.CodeOf(err))
		})
	}

	res, err = f.engine.Mutate(ctx, kind.Comment, registry.Batch{
		Updates: []registry.Payload{{"id": comment, "text": "nicer"}},
	}, sel, bob)
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, open, res.Updated[0]["commentedOn"].(registry.Object)["id"])
}
