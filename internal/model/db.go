package model

import "gorm.io/gorm"

// Migrate creates or updates every table the engine reads and writes.
func Migrate(db *gorm.DB) error {
	models := []any{
		&User{},
		&Organization{},
		&Member{},
		&Tag{},
		&Note{},
		&NoteVersion{},
		&NoteTag{},
		&Comment{},
		&BookmarkList{},
		&Bookmark{},
		&Reaction{},
		&ReactionSummary{},
		&View{},
	}

	for _, m := range models {
		if err := db.AutoMigrate(m); err != nil {
			return err
		}
	}

	return nil
}
