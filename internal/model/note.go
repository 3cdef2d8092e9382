package model

// Note is the root of a versioned document: stable identity, ownership and tags.
type Note struct {
	Base
	Handle                *string `gorm:"uniqueIndex;size:64"`
	IsPrivate             bool    `gorm:"not null;default:false"`
	IsDeleted             bool    `gorm:"not null;default:false"`
	IsClosed              bool    `gorm:"not null;default:false"`
	HasCompleteVersion    bool    `gorm:"not null;default:false"`
	OwnedByUserID         *string `gorm:"size:36;index"`
	OwnedByOrganizationID *string `gorm:"size:36;index"`
	// ParentID is the version this note was derived from.
	ParentID  *string `gorm:"size:36"`
	Score     int64   `gorm:"not null;default:0"`
	Bookmarks int64   `gorm:"not null;default:0"`
	Views     int64   `gorm:"not null;default:0"`
}

func (Note) TableName() string {
	return "notes"
}

// NoteVersion holds the content of one version of a note.
type NoteVersion struct {
	Base
	RootID       string `gorm:"not null;size:36;index"`
	VersionIndex int    `gorm:"not null;default:0"`
	VersionLabel string `gorm:"not null;default:''"`
	IsLatest     bool   `gorm:"not null;default:false"`
	IsPrivate    bool   `gorm:"not null;default:false"`
	IsComplete   bool   `gorm:"not null;default:false"`
	IsDeleted    bool   `gorm:"not null;default:false"`
	// ParentID is the version this one was forked from.
	ParentID    *string `gorm:"size:36"`
	Name        string  `gorm:"not null;default:''"`
	Description string  `gorm:"not null;default:''"`
	Content     []byte
	Complexity  int   `gorm:"not null;default:0"`
	Score       int64 `gorm:"not null;default:0"`
	Bookmarks   int64 `gorm:"not null;default:0"`
	Views       int64 `gorm:"not null;default:0"`
}

func (NoteVersion) TableName() string {
	return "note_versions"
}

// NoteTag joins notes and tags.
type NoteTag struct {
	Base
	NoteID string `gorm:"not null;size:36;index"`
	TagID  string `gorm:"not null;size:36;index"`
}

func (NoteTag) TableName() string {
	return "note_tags"
}

// Tag is a shared label.
type Tag struct {
	Base
	Tag         string  `gorm:"not null;uniqueIndex;size:128"`
	CreatedByID *string `gorm:"size:36"`
	Bookmarks   int64   `gorm:"not null;default:0"`
}

func (Tag) TableName() string {
	return "tags"
}

// Comment is a remark on a note or a specific note version.
type Comment struct {
	Base
	Text          string  `gorm:"not null;default:''"`
	OwnedByUserID *string `gorm:"size:36;index"`
	NoteID        *string `gorm:"size:36;index"`
	NoteVersionID *string `gorm:"size:36;index"`
	ParentID      *string `gorm:"size:36;index"`
	IsDeleted     bool    `gorm:"not null;default:false"`
	Score         int64   `gorm:"not null;default:0"`
	Bookmarks     int64   `gorm:"not null;default:0"`
}

func (Comment) TableName() string {
	return "comments"
}
