package catalog

import (
	"context"
	"testing"

	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptors() []*registry.Descriptor {
	settings := DefaultSettings()
	return []*registry.Descriptor{
		userDescriptor(),
		organizationDescriptor(),
		memberDescriptor(),
		tagDescriptor(settings),
		noteDescriptor(settings),
		noteVersionDescriptor(),
		commentDescriptor(settings),
		bookmarkListDescriptor(settings),
		bookmarkDescriptor(),
		reactionDescriptor(),
		reactionSummaryDescriptor(),
		viewDescriptor(),
	}
}

func find(ds []*registry.Descriptor, k kind.Kind) *registry.Descriptor {
	for _, d := range ds {
		if d.Kind == k {
			return d
		}
	}
	return nil
}

func TestNew(t *testing.T) {
	reg, err := New(DefaultSettings())
	require.NoError(t, err)

	for _, k := range kind.All() {
		d, err := reg.Resolve(k)
		require.NoError(t, err, k)
		assert.Equal(t, k, d.Kind)
	}

	note, err := reg.Parse("Note")
	require.NoError(t, err)
	assert.NotNil(t, note.Mutate.Pre)
	assert.NotNil(t, note.Mutate.Finalize)
	assert.NotNil(t, note.Validate.MaxObjects)
	assert.Equal(t, 1000, note.Validate.MaxObjects(perm.Owner{Kind: kind.User, ID: "u1"}))
}

func TestNew_Unlimited(t *testing.T) {
	reg, err := New(Settings{MaxObjects: map[kind.Kind]int{kind.Tag: 0}})
	require.NoError(t, err)

	tag, err := reg.Resolve(kind.Tag)
	require.NoError(t, err)
	assert.Nil(t, tag.Validate.MaxObjects)
}

func TestRegistryChecks(t *testing.T) {
	tests := []struct {
		name   string
		breaks func(ds []*registry.Descriptor) []*registry.Descriptor
		err    string
	}{
		{
			name: "duplicate kind",
			breaks: func(ds []*registry.Descriptor) []*registry.Descriptor {
				return append(ds, userDescriptor())
			},
			err: "described twice",
		},
		{
			name: "missing kind",
			breaks: func(ds []*registry.Descriptor) []*registry.Descriptor {
				return ds[1:]
			},
			err: "User has no descriptor",
		},
		{
			name: "single branch union",
			breaks: func(ds []*registry.Descriptor) []*registry.Descriptor {
				note := find(ds, kind.Note)
				note.Unions[0].Branches = note.Unions[0].Branches[:1]
				return ds
			},
			err: "at least two branches",
		},
		{
			name: "rule for unknown relation",
			breaks: func(ds []*registry.Descriptor) []*registry.Descriptor {
				tag := find(ds, kind.Tag)
				tag.Mutate.Rules = append(tag.Mutate.Rules, registry.RelationRule{Relation: "notes", Ops: []query.Op{query.Connect}})
				return ds
			},
			err: "unknown relation",
		},
		{
			name: "rule cardinality",
			breaks: func(ds []*registry.Descriptor) []*registry.Descriptor {
				note := find(ds, kind.Note)
				for i, r := range note.Mutate.Rules {
					if r.Relation == "tags" {
						note.Mutate.Rules[i].Cardinality = registry.One
					}
				}
				return ds
			},
			err: "cardinality",
		},
		{
			name: "link table mismatch",
			breaks: func(ds []*registry.Descriptor) []*registry.Descriptor {
				tag := find(ds, kind.Tag)
				tag.Relations[0].Link.Table = "notes"
				return ds
			},
			err: "does not match",
		},
		{
			name: "incomplete visibility",
			breaks: func(ds []*registry.Descriptor) []*registry.Descriptor {
				find(ds, kind.Comment).Validate.Visibility.Public = nil
				return ds
			},
			err: "incomplete visibility",
		},
		{
			name: "permissions select table",
			breaks: func(ds []*registry.Descriptor) []*registry.Descriptor {
				find(ds, kind.User).Validate.PermissionsSelect = query.NewSelect("notes", "id")
				return ds
			},
			err: "permissions select targets notes",
		},
		{
			name: "duplicate field name",
			breaks: func(ds []*registry.Descriptor) []*registry.Descriptor {
				tag := find(ds, kind.Tag)
				tag.Fields = append(tag.Fields, field("createdBy", "created_by_id", registry.String))
				return ds
			},
			err: "declared twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.New(tt.breaks(descriptors())...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestComplexity(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{content: "", want: 0},
		{content: "one line", want: 1},
		{content: "a\nb\nc", want: 3},
		{content: "a\n\n   \nb\n", want: 2},
		{content: "\t\n\n", want: 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Complexity(tt.content), "%q", tt.content)
	}
}

func TestComplexitySidecar(t *testing.T) {
	sidecar := complexitySidecar([]registry.Payload{
		{"id": "v1", "content": "a\nb"},
		{"id": "v2", "name": "no content"},
		{"content": "no id"},
	})

	require.Len(t, sidecar, 1)
	assert.Equal(t, 2, sidecar["v1"]["complexity"])
}

func TestAssignNestedIDs(t *testing.T) {
	keep := map[string]any{"id": "v1"}
	fresh := map[string]any{"name": "draft"}
	batch := registry.Batch{
		Creates: []registry.Payload{{"versionsCreate": []any{keep, fresh}}},
	}

	assignNestedIDs(batch, "versions")

	assert.Equal(t, "v1", keep["id"])
	assert.NotEmpty(t, fresh["id"])
}

func TestCapabilities(t *testing.T) {
	ds := descriptors()
	admin := perm.Context{IsAdmin: true, IsLoggedIn: true, IsPublic: true, Transferable: true}
	reader := perm.Context{IsLoggedIn: true, IsPublic: true}

	t.Run("closed note", func(t *testing.T) {
		note := find(ds, kind.Note)
		ctx := reader
		ctx.Row = query.Row{"id": "n1", "is_closed": true}
		set := note.CapabilitiesOf(ctx)
		assert.True(t, set.Has(perm.CanRead))
		assert.False(t, set.Has(perm.CanComment))

		ctx.Row = query.Row{"id": "n1", "is_closed": false}
		assert.True(t, note.CapabilitiesOf(ctx).Has(perm.CanComment))
	})

	t.Run("note transfer", func(t *testing.T) {
		ctx := admin
		ctx.Row = query.Row{"id": "n1"}
		assert.True(t, find(ds, kind.Note).CapabilitiesOf(ctx).Has(perm.CanTransfer))
	})

	t.Run("comment replies", func(t *testing.T) {
		ctx := reader
		ctx.Row = query.Row{"id": "c1"}
		set := find(ds, kind.Comment).CapabilitiesOf(ctx)
		assert.True(t, set.Has(perm.CanReply))
		assert.False(t, set.Has(perm.CanComment))
	})

	t.Run("members may leave", func(t *testing.T) {
		ctx := reader
		ctx.Viewer = perm.Viewer{ID: "u1"}
		ctx.Row = query.Row{"id": "m1", "user_id": "u1"}
		assert.True(t, find(ds, kind.Member).CapabilitiesOf(ctx).Has(perm.CanDelete))

		ctx.Row = query.Row{"id": "m2", "user_id": "u2"}
		assert.False(t, find(ds, kind.Member).CapabilitiesOf(ctx).Has(perm.CanDelete))
	})

	t.Run("users are never deleted", func(t *testing.T) {
		ctx := admin
		ctx.Row = query.Row{"id": "u1"}
		assert.False(t, find(ds, kind.User).CapabilitiesOf(ctx).Has(perm.CanDelete))
	})
}

type fakeEnv struct {
	caps map[string]perm.Set
}

func (f fakeEnv) Capabilities(_ context.Context, _ kind.Kind, ids []string, _ perm.Viewer) ([]perm.Set, error) {
	out := make([]perm.Set, len(ids))
	for i, id := range ids {
		out[i] = f.caps[id]
	}
	return out, nil
}

func (f fakeEnv) Bookmarked(_ context.Context, _ kind.Kind, ids []string, _ perm.Viewer) ([]bool, error) {
	return make([]bool, len(ids)), nil
}

func (f fakeEnv) Reactions(_ context.Context, _ kind.Kind, ids []string, _ perm.Viewer) ([]string, error) {
	return make([]string, len(ids)), nil
}

func TestAuthorizeComment(t *testing.T) {
	env := fakeEnv{caps: map[string]perm.Set{
		"open":   {perm.CanRead: true, perm.CanComment: true},
		"closed": {perm.CanRead: true},
		"reply":  {perm.CanRead: true, perm.CanReply: true},
		"quiet":  {perm.CanRead: true},
	}}

	tests := []struct {
		name    string
		payload registry.Payload
		code    errs.Code
	}{
		{name: "note", payload: registry.Payload{"noteConnect": "open"}},
		{name: "version", payload: registry.Payload{"noteVersionConnect": "open"}},
		{name: "reply", payload: registry.Payload{"noteConnect": "open", "parentConnect": "reply"}},
		{name: "no target", payload: registry.Payload{}, code: errs.ValidationError},
		{name: "both targets", payload: registry.Payload{"noteConnect": "open", "noteVersionConnect": "open"}, code: errs.ValidationError},
		{name: "closed", payload: registry.Payload{"noteConnect": "closed"}, code: errs.PermissionDenied},
		{name: "unreadable", payload: registry.Payload{"noteConnect": "hidden"}, code: errs.NotFound},
		{name: "reply not allowed", payload: registry.Payload{"noteConnect": "open", "parentConnect": "quiet"}, code: errs.PermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authorizeComment(context.Background(), registry.AuthorizeInput{
				Kind:    kind.Comment,
				Viewer:  perm.Viewer{ID: "u1"},
				Payload: tt.payload,
				Env:     env,
			})
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}
}
