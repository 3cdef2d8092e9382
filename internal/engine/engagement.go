package engine

import (
	"context"
	"time"

	"github.com/emrgen/omnistore/internal/engagement"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
)

func (e *Engine) React(ctx context.Context, k kind.Kind, id, emoji string, viewer perm.Viewer) (res *engagement.ReactionResult, err error) {
	defer e.observe(k, "react", time.Now(), &err)
	return e.tracker.React(ctx, k, id, emoji, viewer)
}

func (e *Engine) Bookmark(ctx context.Context, k kind.Kind, id, list string, viewer perm.Viewer) (created bool, err error) {
	defer e.observe(k, "bookmark", time.Now(), &err)
	return e.tracker.Bookmark(ctx, k, id, list, viewer)
}

func (e *Engine) Unbookmark(ctx context.Context, k kind.Kind, id string, viewer perm.Viewer) (removed bool, err error) {
	defer e.observe(k, "unbookmark", time.Now(), &err)
	return e.tracker.Unbookmark(ctx, k, id, viewer)
}

func (e *Engine) IsBookmarked(ctx context.Context, k kind.Kind, ids []string, viewer perm.Viewer) ([]bool, error) {
	return e.tracker.IsBookmarked(ctx, k, ids, viewer)
}

func (e *Engine) View(ctx context.Context, k kind.Kind, id string, viewer perm.Viewer) (counted bool, err error) {
	defer e.observe(k, "view", time.Now(), &err)
	return e.tracker.View(ctx, k, id, viewer)
}
