package store

import (
	"context"
	"errors"
	"time"

	"github.com/emrgen/omnistore/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (g *GormStore) GetReaction(ctx context.Context, byID, targetKind, targetID string, lock bool) (*model.Reaction, error) {
	tx := g.db.WithContext(ctx)
	// sqlite serializes writers and has no row locks
	if lock && g.Dialect() != "sqlite" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var reaction model.Reaction
	err := tx.Where("by_id = ? AND target_kind = ? AND target_id = ?", byID, targetKind, targetID).First(&reaction).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reaction, nil
}

func (g *GormStore) SaveReaction(ctx context.Context, reaction *model.Reaction) error {
	if reaction.ID == "" {
		reaction.ID = uuid.NewString()
		return g.db.WithContext(ctx).Create(reaction).Error
	}
	return g.db.WithContext(ctx).Save(reaction).Error
}

func (g *GormStore) DeleteReaction(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Reaction{}).Error
}

func (g *GormStore) AdjustReactionSummary(ctx context.Context, targetKind, targetID, emoji string, delta int64) error {
	db := g.db.WithContext(ctx)
	summary := &model.ReactionSummary{
		Base:       model.Base{ID: uuid.NewString()},
		TargetKind: targetKind,
		TargetID:   targetID,
		Emoji:      emoji,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "target_kind"}, {Name: "target_id"}, {Name: "emoji"}},
		DoNothing: true,
	}).Create(summary).Error
	if err != nil {
		return logQueryError("create reaction summary", err)
	}

	err = db.Model(&model.ReactionSummary{}).
		Where("target_kind = ? AND target_id = ? AND emoji = ?", targetKind, targetID, emoji).
		UpdateColumn("count", gorm.Expr("CASE WHEN count + ? < 0 THEN 0 ELSE count + ? END", delta, delta)).Error
	return logQueryError("adjust reaction summary", err)
}

func (g *GormStore) ListReactionSummaries(ctx context.Context, targetKind, targetID string) ([]*model.ReactionSummary, error) {
	var summaries []*model.ReactionSummary
	err := g.db.WithContext(ctx).
		Where("target_kind = ? AND target_id = ? AND count > 0", targetKind, targetID).
		Order("emoji").
		Find(&summaries).Error
	return summaries, err
}

func (g *GormStore) ListViewerReactions(ctx context.Context, byID, targetKind string, targetIDs []string) (map[string]string, error) {
	out := make(map[string]string)
	if byID == "" || len(targetIDs) == 0 {
		return out, nil
	}

	var reactions []*model.Reaction
	err := g.db.WithContext(ctx).
		Where("by_id = ? AND target_kind = ? AND target_id IN ?", byID, targetKind, targetIDs).
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}

	for _, r := range reactions {
		out[r.TargetID] = r.Emoji
	}
	return out, nil
}

type reactionKey struct {
	TargetKind string
	TargetID   string
	Emoji      string
}

func (g *GormStore) ReconcileReactionSummaries(ctx context.Context) (int64, error) {
	db := g.db.WithContext(ctx)

	var missing []reactionKey
	err := db.Table("reactions AS r").
		Select("r.target_kind, r.target_id, r.emoji").
		Joins("LEFT JOIN reaction_summaries AS s ON s.target_kind = r.target_kind AND s.target_id = r.target_id AND s.emoji = r.emoji").
		Where("s.id IS NULL").
		Group("r.target_kind, r.target_id, r.emoji").
		Scan(&missing).Error
	if err != nil {
		return 0, err
	}

	for _, key := range missing {
		summary := &model.ReactionSummary{
			Base:       model.Base{ID: uuid.NewString()},
			TargetKind: key.TargetKind,
			TargetID:   key.TargetID,
			Emoji:      key.Emoji,
		}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(summary).Error; err != nil {
			return 0, err
		}
	}

	live := "(SELECT COUNT(*) FROM reactions WHERE reactions.target_kind = reaction_summaries.target_kind" +
		" AND reactions.target_id = reaction_summaries.target_id AND reactions.emoji = reaction_summaries.emoji)"
	res := db.Exec("UPDATE reaction_summaries SET count = " + live + " WHERE count <> " + live)
	if res.Error != nil {
		return 0, res.Error
	}

	return res.RowsAffected, nil
}

func (g *GormStore) EnsureBookmarkList(ctx context.Context, userID, label string) (*model.BookmarkList, error) {
	db := g.db.WithContext(ctx)

	var list model.BookmarkList
	err := db.Where("user_id = ? AND label = ?", userID, label).Order("created_at").First(&list).Error
	if err == nil {
		return &list, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	list = model.BookmarkList{
		Base:   model.Base{ID: uuid.NewString()},
		Label:  label,
		UserID: userID,
	}
	if err := db.Create(&list).Error; err != nil {
		return nil, err
	}
	return &list, nil
}

func (g *GormStore) CreateBookmark(ctx context.Context, bookmark *model.Bookmark) (bool, error) {
	if bookmark.ID == "" {
		bookmark.ID = uuid.NewString()
	}

	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(bookmark)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (g *GormStore) DeleteBookmarks(ctx context.Context, userID, targetKind, targetID string) (int64, error) {
	db := g.db.WithContext(ctx)
	lists := db.Model(&model.BookmarkList{}).Select("id").Where("user_id = ?", userID)

	res := db.Where("target_kind = ? AND target_id = ? AND list_id IN (?)", targetKind, targetID, lists).
		Delete(&model.Bookmark{})
	return res.RowsAffected, res.Error
}

func (g *GormStore) ListBookmarkedIDs(ctx context.Context, userID, targetKind string, targetIDs []string) ([]string, error) {
	var ids []string
	if userID == "" || len(targetIDs) == 0 {
		return ids, nil
	}

	err := g.db.WithContext(ctx).Model(&model.Bookmark{}).
		Joins("JOIN bookmark_lists ON bookmark_lists.id = bookmarks.list_id").
		Where("bookmark_lists.user_id = ? AND bookmarks.target_kind = ? AND bookmarks.target_id IN ?", userID, targetKind, targetIDs).
		Distinct().
		Pluck("bookmarks.target_id", &ids).Error
	return ids, err
}

func (g *GormStore) UpsertView(ctx context.Context, byID, targetKind, targetID string, at time.Time) error {
	view := &model.View{
		Base:         model.Base{ID: uuid.NewString()},
		ByID:         byID,
		TargetKind:   targetKind,
		TargetID:     targetID,
		LastViewedAt: at,
	}

	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "by_id"}, {Name: "target_kind"}, {Name: "target_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_viewed_at", "updated_at"}),
	}).Create(view).Error
}

func (g *GormStore) ListAdminOrganizations(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if userID == "" {
		return ids, nil
	}

	err := g.db.WithContext(ctx).Model(&model.Member{}).
		Where("user_id = ? AND is_admin = ?", userID, true).
		Order("organization_id").
		Pluck("organization_id", &ids).Error
	return ids, err
}
