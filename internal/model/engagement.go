package model

import "time"

// BookmarkList is an actor-owned collection of bookmarks.
type BookmarkList struct {
	Base
	Label  string `gorm:"not null;default:''"`
	UserID string `gorm:"not null;size:36;index"`
}

func (BookmarkList) TableName() string {
	return "bookmark_lists"
}

// Bookmark places a target object in a list.
type Bookmark struct {
	Base
	ListID     string `gorm:"not null;size:36;uniqueIndex:idx_bookmarks_list_target"`
	TargetKind string `gorm:"not null;size:32;uniqueIndex:idx_bookmarks_list_target"`
	TargetID   string `gorm:"not null;size:36;uniqueIndex:idx_bookmarks_list_target;index"`
}

func (Bookmark) TableName() string {
	return "bookmarks"
}

// Reaction is one actor's emoji on one target.
type Reaction struct {
	Base
	ByID       string `gorm:"not null;size:36;uniqueIndex:idx_reactions_by_target"`
	TargetKind string `gorm:"not null;size:32;uniqueIndex:idx_reactions_by_target"`
	TargetID   string `gorm:"not null;size:36;uniqueIndex:idx_reactions_by_target;index"`
	Emoji      string `gorm:"not null;size:32"`
}

func (Reaction) TableName() string {
	return "reactions"
}

// ReactionSummary caches the number of live reactions per (target, emoji).
type ReactionSummary struct {
	Base
	TargetKind string `gorm:"not null;size:32;uniqueIndex:idx_reaction_summaries_target_emoji"`
	TargetID   string `gorm:"not null;size:36;uniqueIndex:idx_reaction_summaries_target_emoji"`
	Emoji      string `gorm:"not null;size:32;uniqueIndex:idx_reaction_summaries_target_emoji"`
	Count      int64  `gorm:"not null;default:0"`
}

func (ReactionSummary) TableName() string {
	return "reaction_summaries"
}

// View records when an actor last viewed a target.
type View struct {
	Base
	ByID         string    `gorm:"not null;size:36;uniqueIndex:idx_views_by_target"`
	TargetKind   string    `gorm:"not null;size:32;uniqueIndex:idx_views_by_target"`
	TargetID     string    `gorm:"not null;size:36;uniqueIndex:idx_views_by_target"`
	LastViewedAt time.Time `gorm:"not null"`
}

func (View) TableName() string {
	return "views"
}
