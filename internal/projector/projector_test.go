package projector_test

import (
	"context"
	"errors"
	"testing"

	"github.com/emrgen/omnistore/internal/catalog"
	"github.com/emrgen/omnistore/internal/compress"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/projector"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	capsErr error
	panics  bool
}

func (e env) Capabilities(_ context.Context, _ kind.Kind, ids []string, _ perm.Viewer) ([]perm.Set, error) {
	if e.capsErr != nil {
		return nil, e.capsErr
	}
	out := make([]perm.Set, len(ids))
	for i := range ids {
		out[i] = perm.Set{perm.CanRead: true}
	}
	return out, nil
}

func (e env) Bookmarked(_ context.Context, _ kind.Kind, ids []string, _ perm.Viewer) ([]bool, error) {
	if e.panics {
		panic("bookmarks unavailable")
	}
	out := make([]bool, len(ids))
	for i := range out {
		out[i] = i%2 == 0
	}
	return out, nil
}

func (e env) Reactions(_ context.Context, _ kind.Kind, ids []string, _ perm.Viewer) ([]string, error) {
	out := make([]string, len(ids))
	out[0] = "🔥"
	return out, nil
}

func newProjector(t *testing.T) (*projector.Projector, *registry.Registry) {
	reg := catalog.MustNew(catalog.DefaultSettings())
	codec, err := compress.New("lz4")
	require.NoError(t, err)
	return projector.New(reg, codec), reg
}

func noteRows() []query.Row {
	return []query.Row{
		{"id": "n1", "handle": "one", "is_private": false, "score": int64(3), "is_secret": "x"},
		{"id": "n2", "handle": "two", "is_private": true, "score": "7"},
	}
}

func TestParseSelection(t *testing.T) {
	sel, err := projector.ParseSelection(map[string]any{
		"handle": true,
		"skip":   false,
		"owner":  map[string]any{"User": map[string]any{"name": nil}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"handle", "owner"}, sel.Fields())
	assert.True(t, sel["owner"]["User"].Has("name"))

	_, err = projector.ParseSelection(map[string]any{"handle": "yes"})
	assert.True(t, errs.Is(err, errs.ValidationError))
}

func TestProjector_ToQuery(t *testing.T) {
	p, reg := newProjector(t)
	note, err := reg.Resolve(kind.Note)
	require.NoError(t, err)

	_, err = p.ToQuery(note, projector.Selection{"handle": nil, "owner": {"User": {"name": nil}}, "versionsCount": nil, "you": nil})
	assert.NoError(t, err)

	tests := []struct {
		name string
		sel  projector.Selection
	}{
		{name: "unknown field", sel: projector.Selection{"colour": nil}},
		{name: "unknown nested field", sel: projector.Selection{"tags": {"colour": nil}}},
		{name: "unknown union branch", sel: projector.Selection{"owner": {"Tag": {"tag": nil}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ToQuery(note, tt.sel)
			assert.True(t, errs.Is(err, errs.ValidationError), "%v", err)
		})
	}
}

func TestProjector_Shape(t *testing.T) {
	p, reg := newProjector(t)
	note, err := reg.Resolve(kind.Note)
	require.NoError(t, err)

	sel := projector.Selection{"handle": nil, "score": nil, "isPrivate": nil, "you": nil, "isBookmarked": nil, "reaction": nil}
	objs, err := p.Shape(context.Background(), note, noteRows(), sel, perm.Viewer{ID: "u1"}, env{})
	require.NoError(t, err)
	require.Len(t, objs, 2)

	first := objs[0]
	assert.Equal(t, "n1", first["id"])
	assert.Equal(t, "Note", first[registry.TypenameField])
	assert.Equal(t, "one", first["handle"])
	assert.Equal(t, int64(3), first["score"])
	you, ok := first["you"].(map[string]bool)
	require.True(t, ok)
	assert.True(t, you["canRead"])
	assert.False(t, you["canUpdate"])
	assert.Equal(t, true, first["isBookmarked"])
	assert.Equal(t, "🔥", first["reaction"])
	assert.NotContains(t, first, "is_secret")

	assert.Equal(t, int64(7), objs[1]["score"])
	assert.Equal(t, false, objs[1]["isBookmarked"])
	assert.Nil(t, objs[1]["reaction"])
}

func TestProjector_SupplementalFailuresDegrade(t *testing.T) {
	p, reg := newProjector(t)
	note, err := reg.Resolve(kind.Note)
	require.NoError(t, err)
	sel := projector.Selection{"handle": nil, "you": nil, "isBookmarked": nil}

	objs, err := p.Shape(context.Background(), note, noteRows(), sel, perm.Anonymous, env{capsErr: errors.New("down")})
	require.NoError(t, err)
	assert.NotContains(t, objs[0], "you")
	assert.Contains(t, objs[0], "isBookmarked")

	objs, err = p.Shape(context.Background(), note, noteRows(), sel, perm.Anonymous, env{panics: true})
	require.NoError(t, err)
	assert.Equal(t, "one", objs[0]["handle"])
	assert.NotContains(t, objs[0], "isBookmarked")
}

func publicVersion(id string) query.Row {
	return query.Row{
		"id":         id,
		"root_id":    "n1",
		"is_private": false,
		"is_deleted": false,
		"root":       publicNote(),
	}
}

func publicNote() query.Row {
	return query.Row{"id": "n1", "handle": "one", "is_private": false, "is_deleted": false, "owned_by_user_id": "u1"}
}

func TestProjector_ShapeNested(t *testing.T) {
	p, reg := newProjector(t)
	version, err := reg.Resolve(kind.NoteVersion)
	require.NoError(t, err)
	codec, err := compress.New("lz4")
	require.NoError(t, err)
	content, err := codec.Encode([]byte("hello"))
	require.NoError(t, err)

	rows := []query.Row{{
		"id":      "v1",
		"content": content,
		"root":    publicNote(),
		"forks":   []query.Row{publicVersion("v2"), publicVersion("v3")},
	}}
	sel := projector.Selection{"content": nil, "root": {"handle": nil}, "forks": {"id": nil}}

	objs, err := p.Shape(context.Background(), version, rows, sel, perm.Anonymous, env{})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "hello", objs[0]["content"])
	assert.Equal(t, "one", objs[0]["root"].(registry.Object)["handle"])
	forks := objs[0]["forks"].([]registry.Object)
	require.Len(t, forks, 2)
	assert.Equal(t, "NoteVersion", forks[1][registry.TypenameField])
}

func TestProjector_ToQuerySelectsRelatedPermissions(t *testing.T) {
	p, reg := newProjector(t)
	note, err := reg.Resolve(kind.Note)
	require.NoError(t, err)

	q, err := p.ToQuery(note, projector.Selection{"versions": {"name": nil}})
	require.NoError(t, err)
	versions := q.Nested["versions"].Select
	assert.True(t, versions.HasColumn("is_private"))
	assert.True(t, versions.HasColumn("is_deleted"))
	require.Contains(t, versions.Nested, "root")
	assert.True(t, versions.Nested["root"].Select.HasColumn("owned_by_user_id"))
}

func TestProjector_ShapeHidesUnreadableRelations(t *testing.T) {
	p, reg := newProjector(t)
	note, err := reg.Resolve(kind.Note)
	require.NoError(t, err)

	private := publicVersion("secret")
	private["is_private"] = true
	deleted := publicVersion("gone")
	deleted["is_deleted"] = true

	row := publicNote()
	row["versions"] = []query.Row{publicVersion("open"), private, deleted}
	row["parent"] = private
	row["ownerUser"] = query.Row{"id": "u1", "is_private": true}

	sel := projector.Selection{"versions": {"id": nil}, "parent": {"id": nil}, "owner": {"User": {"id": nil}}}

	tests := []struct {
		name     string
		viewer   perm.Viewer
		versions []string
		parent   bool
		owner    bool
	}{
		{name: "stranger", viewer: perm.Viewer{ID: "u2"}, versions: []string{"open"}},
		{name: "anonymous", viewer: perm.Anonymous, versions: []string{"open"}},
		{name: "owner", viewer: perm.Viewer{ID: "u1"}, versions: []string{"open", "secret"}, parent: true, owner: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs, err := p.Shape(context.Background(), note, []query.Row{row}, sel, tt.viewer, env{})
			require.NoError(t, err)
			require.Len(t, objs, 1)

			var got []string
			for _, v := range objs[0]["versions"].([]registry.Object) {
				got = append(got, v["id"].(string))
			}
			assert.Equal(t, tt.versions, got)
			assert.Equal(t, tt.parent, objs[0]["parent"] != nil)
			assert.Equal(t, tt.owner, objs[0]["owner"] != nil)
		})
	}
}
