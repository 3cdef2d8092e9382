package kind

import "fmt"

// Kind names an object kind known to the engine.
// The set is closed: every value must have a descriptor in the registry.
type Kind string

const (
	User            Kind = "User"
	Organization    Kind = "Organization"
	Member          Kind = "Member"
	Tag             Kind = "Tag"
	Note            Kind = "Note"
	NoteVersion     Kind = "NoteVersion"
	Comment         Kind = "Comment"
	BookmarkList    Kind = "BookmarkList"
	Bookmark        Kind = "Bookmark"
	Reaction        Kind = "Reaction"
	ReactionSummary Kind = "ReactionSummary"
	View            Kind = "View"
)

var all = []Kind{
	User,
	Organization,
	Member,
	Tag,
	Note,
	NoteVersion,
	Comment,
	BookmarkList,
	Bookmark,
	Reaction,
	ReactionSummary,
	View,
}

// All returns every kind in declaration order.
func All() []Kind {
	out := make([]Kind, len(all))
	copy(out, all)
	return out
}

// Parse maps an external name to a Kind.
func Parse(name string) (Kind, error) {
	for _, k := range all {
		if string(k) == name {
			return k, nil
		}
	}

	return "", fmt.Errorf("unknown kind %q", name)
}

func (k Kind) String() string {
	return string(k)
}
