package store

import (
	"context"
	"time"

	"github.com/emrgen/omnistore/internal/model"
	"github.com/emrgen/omnistore/internal/query"
)

type Store interface {
	RowStore
	ReactionStore
	BookmarkStore
	ViewStore
	MemberStore
	Transaction(ctx context.Context, f func(tx Store) error) error
	Migrate() error
	// Dialect returns the name of the underlying sql dialect.
	Dialect() string
}

type RowStore interface {
	// Find returns rows of sel.Table matching where, with nested selections and counts populated.
	Find(ctx context.Context, sel *query.Select, where query.Filter, order []query.Order, page query.Page) ([]query.Row, error)
	// Count counts rows of table matching where.
	Count(ctx context.Context, table string, where query.Filter) (int64, error)
	// Apply writes a row and its nested relation writes.
	Apply(ctx context.Context, w *query.Write, create bool) error
	// UpdateColumns sets columns on a row.
	UpdateColumns(ctx context.Context, table, id string, values map[string]any) error
	// UpdateWhere sets columns on every row matching where.
	UpdateWhere(ctx context.Context, table string, where query.Filter, values map[string]any) (int64, error)
	// Delete removes rows by id.
	Delete(ctx context.Context, table string, ids []string) error
	// Increment atomically adds delta to a numeric column.
	Increment(ctx context.Context, table, id, column string, delta int64) error
}

type ReactionStore interface {
	// GetReaction returns the actor's reaction on a target, or nil.
	GetReaction(ctx context.Context, byID, targetKind, targetID string, lock bool) (*model.Reaction, error)
	// SaveReaction creates or updates a reaction.
	SaveReaction(ctx context.Context, reaction *model.Reaction) error
	// DeleteReaction removes a reaction by id.
	DeleteReaction(ctx context.Context, id string) error
	// AdjustReactionSummary adds delta to the (target, emoji) summary count.
	AdjustReactionSummary(ctx context.Context, targetKind, targetID, emoji string, delta int64) error
	// ListReactionSummaries returns the summaries of a target.
	ListReactionSummaries(ctx context.Context, targetKind, targetID string) ([]*model.ReactionSummary, error)
	// ListViewerReactions maps target id to the actor's emoji.
	ListViewerReactions(ctx context.Context, byID, targetKind string, targetIDs []string) (map[string]string, error)
	// ReconcileReactionSummaries recomputes summary counts from reactions and
	// returns how many summaries changed.
	ReconcileReactionSummaries(ctx context.Context) (int64, error)
}

type BookmarkStore interface {
	// EnsureBookmarkList returns the actor's list with label, creating it when missing.
	EnsureBookmarkList(ctx context.Context, userID, label string) (*model.BookmarkList, error)
	// CreateBookmark adds a target to a list. It reports false when already present.
	CreateBookmark(ctx context.Context, bookmark *model.Bookmark) (bool, error)
	// DeleteBookmarks removes the actor's bookmarks of a target and returns how many were removed.
	DeleteBookmarks(ctx context.Context, userID, targetKind, targetID string) (int64, error)
	// ListBookmarkedIDs returns which of targetIDs the actor bookmarked.
	ListBookmarkedIDs(ctx context.Context, userID, targetKind string, targetIDs []string) ([]string, error)
}

type ViewStore interface {
	// UpsertView records that an actor viewed a target at a time.
	UpsertView(ctx context.Context, byID, targetKind, targetID string, at time.Time) error
}

type MemberStore interface {
	// ListAdminOrganizations returns the ids of organizations the user administers.
	ListAdminOrganizations(ctx context.Context, userID string) ([]string, error)
}
