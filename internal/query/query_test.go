package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatch_ThreeValuedLogic(t *testing.T) {
	row := Row{"id": "a", "name": nil, "is_private": int64(1), "score": int64(3)}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq on null is unknown", Eq("name", "x"), false},
		{"not of unknown stays unknown", Not(Eq("name", "x")), false},
		{"ne on null is unknown", Ne("name", "x"), false},
		{"is null", IsNull("name"), true},
		{"eq nil becomes is null", Eq("name", nil), true},
		{"bool vs int", Eq("is_private", true), true},
		{"not bool", Not(Eq("is_private", false)), true},
		{"or rescues unknown", Or(Eq("name", "x"), Gt("score", 2)), true},
		{"and with unknown", And(Eq("name", "x"), Gt("score", 2)), false},
		{"empty in", In[string]("id", nil), false},
		{"not empty in", Not(In[string]("id", nil)), true},
		{"in hit", In("id", []string{"b", "a"}), true},
		{"float vs int", Lte("score", 3.0), true},
		{"contains null", Contains("name", "x"), false},
		{"true", True(), true},
		{"empty or", Or(), false},
		{"empty and", And(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.filter, row))
		})
	}
}

func TestMatch_Related(t *testing.T) {
	link := Link{Table: "notes", LocalKey: "root_id"}
	f := Related("root", link, Eq("is_private", false))

	assert.True(t, Match(f, Row{"root": Row{"is_private": false}}))
	assert.False(t, Match(f, Row{"root": Row{"is_private": true}}))
	assert.False(t, Match(f, Row{"root": nil}))
	assert.False(t, Match(Not(f), Row{"root": Row{"is_private": false}}))
	assert.True(t, Match(Not(f), Row{}))
}

func TestMatch_Contains(t *testing.T) {
	row := Row{"name": "Hello World"}
	assert.True(t, Match(Contains("name", "WORLD"), row))
	assert.False(t, Match(Contains("name", "moon"), row))
}

func TestMatch_Time(t *testing.T) {
	now := time.Now()
	row := Row{"created_at": now}
	assert.True(t, Match(Lt("created_at", now.Add(time.Minute)), row))
	assert.False(t, Match(Gt("created_at", now.Add(time.Minute)), row))
}

func TestCompile(t *testing.T) {
	link := Link{Table: "notes", LocalKey: "root_id", Where: map[string]any{"kind": "Note"}}
	f := And(
		Eq("is_private", false),
		Or(In("id", []string{"a", "b"}), IsNull("parent_id")),
		Not(Contains("name", "50%")),
		Related("root", link, Eq("is_deleted", false)),
	)

	sql, args := Compile(f, "note_versions")
	assert.Equal(t,
		`(note_versions.is_private = ? AND (note_versions.id IN ? OR note_versions.parent_id IS NULL) AND NOT (LOWER(note_versions.name) LIKE ? ESCAPE '\') AND EXISTS (SELECT 1 FROM notes AS r1 WHERE r1.id = note_versions.root_id AND r1.kind = ? AND (r1.is_deleted = ?)))`,
		sql)
	assert.Equal(t, []any{false, []any{"a", "b"}, `%50\%%`, "Note", false}, args)
}

func TestCompile_Constants(t *testing.T) {
	sql, args := Compile(In[string]("id", nil), "t")
	assert.Equal(t, "1 = 0", sql)
	assert.Empty(t, args)

	sql, _ = Compile(And(), "t")
	assert.Equal(t, "1 = 1", sql)
}

func TestSelect_Merge(t *testing.T) {
	link := Link{Table: "users", LocalKey: "owned_by_user_id"}
	a := NewSelect("notes", "id", "handle").With("owner", link, NewSelect("users", "id"))
	b := NewSelect("notes", "id", "is_private").With("owner", link, NewSelect("users", "name"))

	a.Merge(b)
	assert.Equal(t, []string{"id", "handle", "is_private"}, a.Columns)
	assert.Equal(t, []string{"id", "name"}, a.Nested["owner"].Select.Columns)
	assert.Equal(t, []string{"name"}, b.Nested["owner"].Select.Columns, "merge must not alias")
}

func TestLink_Validate(t *testing.T) {
	assert.NoError(t, Link{Table: "users", LocalKey: "user_id"}.Validate())
	assert.Error(t, Link{Table: "users"}.Validate())
	assert.Error(t, Link{Table: "users", LocalKey: "a", ForeignKey: "b"}.Validate())
	assert.Error(t, Link{Table: "users", ForeignKey: "b", When: &Discriminator{Column: "k", Value: "x"}}.Validate())
}
