package engagement

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/omnistore/internal/authz"
	"github.com/emrgen/omnistore/internal/cache"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/metrics"
	"github.com/emrgen/omnistore/internal/model"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/queue"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/emrgen/omnistore/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	DefaultListLabel = "Favorites"
	DefaultCooldown  = time.Hour

	maxEmojiLength = 32
)

// Tracker maintains reactions, bookmarks and views together with the
// denormalized counters on their targets.
type Tracker struct {
	registry  *registry.Registry
	store     store.Store
	authz     *authz.Authorizer
	cache     cache.Cache
	publisher queue.Publisher
	scores    Scores
	cooldown  time.Duration
	now       func() time.Time
}

type Option func(t *Tracker)

func WithScores(s Scores) Option {
	return func(t *Tracker) {
		t.scores = DefaultScores().Merge(s)
	}
}

func WithCooldown(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.cooldown = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func WithPublisher(p queue.Publisher) Option {
	return func(t *Tracker) {
		t.publisher = p
	}
}

func New(reg *registry.Registry, s store.Store, c cache.Cache, opts ...Option) *Tracker {
	t := &Tracker{
		registry: reg,
		store:    s,
		authz:    authz.New(s),
		cache:    c,
		scores:   DefaultScores(),
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ReactionResult describes the target after a reaction changed.
type ReactionResult struct {
	Emoji     string
	Previous  string
	Delta     int64
	Score     int64
	Summaries []*model.ReactionSummary
}

// React sets the viewer's reaction on a target; an empty emoji removes it.
// The reaction row, the summaries and the target score change in one
// transaction.
func (t *Tracker) React(ctx context.Context, k kind.Kind, id, emoji string, viewer perm.Viewer) (*ReactionResult, error) {
	d, err := t.target(ctx, k, id, viewer, perm.CanReact, func(c *registry.Counters) string { return c.Score })
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(emoji) > maxEmojiLength {
		return nil, errs.New(errs.ValidationError, "emoji is too long")
	}

	result := &ReactionResult{Emoji: emoji}
	err = t.store.Transaction(ctx, func(tx store.Store) error {
		current, err := tx.GetReaction(ctx, viewer.ID, string(k), id, true)
		if err != nil {
			return err
		}
		if current != nil {
			result.Previous = current.Emoji
		}

		if result.Previous != emoji {
			switch {
			case emoji == "":
				err = tx.DeleteReaction(ctx, current.ID)
			case current == nil:
				err = tx.SaveReaction(ctx, &model.Reaction{ByID: viewer.ID, TargetKind: string(k), TargetID: id, Emoji: emoji})
			default:
				current.Emoji = emoji
				err = tx.SaveReaction(ctx, current)
			}
			if err != nil {
				return err
			}

			if result.Previous != "" {
				if err := tx.AdjustReactionSummary(ctx, string(k), id, result.Previous, -1); err != nil {
					return err
				}
			}
			if emoji != "" {
				if err := tx.AdjustReactionSummary(ctx, string(k), id, emoji, 1); err != nil {
					return err
				}
			}

			result.Delta = t.scores.Of(emoji) - t.scores.Of(result.Previous)
			if result.Delta != 0 {
				if err := tx.Increment(ctx, d.Table, id, d.Counters.Score, result.Delta); err != nil {
					return err
				}
			}
		}

		rows, err := tx.Find(ctx, query.NewSelect(d.Table, "id", d.Counters.Score), query.Eq("id", id), nil, query.Page{Limit: 1})
		if err != nil {
			return err
		}
		if len(rows) == 1 {
			result.Score = rows[0].Int(d.Counters.Score)
		}

		result.Summaries, err = tx.ListReactionSummaries(ctx, string(k), id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Previous != emoji {
		metrics.RecordReaction(string(k))
		t.publish(ctx, queue.Event{
			Type:     queue.ReactionChanged,
			Kind:     k,
			ObjectID: id,
			ActorID:  viewer.ID,
			Payload: map[string]any{
				"emoji":    emoji,
				"previous": result.Previous,
				"delta":    result.Delta,
			},
			At: t.now().UTC(),
		})
	}

	return result, nil
}

// Bookmark adds a target to one of the viewer's lists, creating the list on
// first use. It reports whether the bookmark was new.
func (t *Tracker) Bookmark(ctx context.Context, k kind.Kind, id, listLabel string, viewer perm.Viewer) (bool, error) {
	d, err := t.target(ctx, k, id, viewer, perm.CanBookmark, func(c *registry.Counters) string { return c.Bookmarks })
	if err != nil {
		return false, err
	}
	if listLabel == "" {
		listLabel = DefaultListLabel
	}

	created := false
	err = t.store.Transaction(ctx, func(tx store.Store) error {
		list, err := tx.EnsureBookmarkList(ctx, viewer.ID, listLabel)
		if err != nil {
			return err
		}
		created, err = tx.CreateBookmark(ctx, &model.Bookmark{ListID: list.ID, TargetKind: string(k), TargetID: id})
		if err != nil || !created {
			return err
		}
		return tx.Increment(ctx, d.Table, id, d.Counters.Bookmarks, 1)
	})
	if err != nil {
		return false, err
	}

	if created {
		t.publish(ctx, queue.Event{Type: queue.Bookmarked, Kind: k, ObjectID: id, ActorID: viewer.ID, Label: listLabel, At: t.now().UTC()})
	}
	return created, nil
}

// Unbookmark removes a target from every list of the viewer. Targets the
// viewer can no longer read may still be removed.
func (t *Tracker) Unbookmark(ctx context.Context, k kind.Kind, id string, viewer perm.Viewer) (bool, error) {
	if !viewer.LoggedIn() {
		return false, errs.New(errs.PermissionDenied, "bookmarks require a signed-in viewer")
	}
	d, err := t.counted(k, func(c *registry.Counters) string { return c.Bookmarks })
	if err != nil {
		return false, err
	}

	var removed int64
	err = t.store.Transaction(ctx, func(tx store.Store) error {
		removed, err = tx.DeleteBookmarks(ctx, viewer.ID, string(k), id)
		if err != nil || removed == 0 {
			return err
		}
		return tx.Increment(ctx, d.Table, id, d.Counters.Bookmarks, -removed)
	})
	if err != nil {
		return false, err
	}

	if removed > 0 {
		t.publish(ctx, queue.Event{Type: queue.Unbookmarked, Kind: k, ObjectID: id, ActorID: viewer.ID, At: t.now().UTC()})
	}
	return removed > 0, nil
}

// IsBookmarked reports, per id, whether the viewer bookmarked it.
func (t *Tracker) IsBookmarked(ctx context.Context, k kind.Kind, ids []string, viewer perm.Viewer) ([]bool, error) {
	out := make([]bool, len(ids))
	if !viewer.LoggedIn() || len(ids) == 0 {
		return out, nil
	}

	marked, err := t.store.ListBookmarkedIDs(ctx, viewer.ID, string(k), ids)
	if err != nil {
		return nil, err
	}
	set := mapset.NewThreadUnsafeSet(marked...)
	for i, id := range ids {
		out[i] = set.Contains(id)
	}
	return out, nil
}

// Reactions returns, per id, the viewer's emoji or "".
func (t *Tracker) Reactions(ctx context.Context, k kind.Kind, ids []string, viewer perm.Viewer) ([]string, error) {
	out := make([]string, len(ids))
	if !viewer.LoggedIn() || len(ids) == 0 {
		return out, nil
	}

	byTarget, err := t.store.ListViewerReactions(ctx, viewer.ID, string(k), ids)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		out[i] = byTarget[id]
	}
	return out, nil
}

// View records that the viewer looked at a target and counts the view at
// most once per cooldown window. Owners' views are recorded but never
// counted. It reports whether the view was counted.
func (t *Tracker) View(ctx context.Context, k kind.Kind, id string, viewer perm.Viewer) (bool, error) {
	if !viewer.LoggedIn() {
		return false, nil
	}
	d, err := t.counted(k, func(c *registry.Counters) string { return c.Views })
	if err != nil {
		return false, err
	}

	sets, rows, err := t.authz.Resolve(ctx, d, []string{id}, viewer)
	if err != nil {
		return false, err
	}
	if !authz.CanRead(sets[0]) {
		return false, errs.New(errs.NotFound, "%s %s not found", k, id)
	}

	now := t.now().UTC()
	counted := !authz.IsOwner(d, rows[0], viewer)
	var window string
	if counted {
		key := fmt.Sprintf("view:%s:%s:%s", viewer.ID, k, id)
		claimed, err := t.cache.SetNX(ctx, key, now.Format(time.RFC3339), t.cooldown)
		if err != nil {
			logrus.WithFields(logrus.Fields{"kind": k, "id": id}).Warnf("engagement: view cooldown unavailable: %v", err)
			claimed = true
		} else if claimed {
			window = key
		}
		counted = claimed
	}

	err = t.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.UpsertView(ctx, viewer.ID, string(k), id, now); err != nil {
			return err
		}
		if !counted {
			return nil
		}
		return tx.Increment(ctx, d.Table, id, d.Counters.Views, 1)
	})
	if err != nil {
		// the view was not counted, so the window stays open
		if window != "" {
			if derr := t.cache.Delete(ctx, window); derr != nil {
				logrus.WithFields(logrus.Fields{"kind": k, "id": id}).Warnf("engagement: cannot release view cooldown: %v", derr)
			}
		}
		return false, err
	}

	metrics.RecordView(string(k), counted)
	if counted {
		t.publish(ctx, queue.Event{Type: queue.Viewed, Kind: k, ObjectID: id, ActorID: viewer.ID, At: now})
	}
	return counted, nil
}

// target resolves an engageable target the viewer holds cap on.
func (t *Tracker) target(ctx context.Context, k kind.Kind, id string, viewer perm.Viewer, cap perm.Capability, column func(*registry.Counters) string) (*registry.Descriptor, error) {
	if !viewer.LoggedIn() {
		return nil, errs.New(errs.PermissionDenied, "%s requires a signed-in viewer", cap)
	}
	d, err := t.counted(k, column)
	if err != nil {
		return nil, err
	}

	sets, _, err := t.authz.Resolve(ctx, d, []string{id}, viewer)
	if err != nil {
		return nil, err
	}
	if err := authz.Require(d, id, sets[0], cap); err != nil {
		return nil, err
	}
	return d, nil
}

func (t *Tracker) counted(k kind.Kind, column func(*registry.Counters) string) (*registry.Descriptor, error) {
	d, err := t.registry.Resolve(k)
	if err != nil {
		return nil, err
	}
	if d.Counters == nil || column(d.Counters) == "" {
		return nil, errs.New(errs.ValidationError, "%s does not support this engagement", k)
	}
	return d, nil
}

func (t *Tracker) publish(ctx context.Context, events ...queue.Event) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ctx, events...); err != nil {
		logrus.Errorf("engagement: failed to publish events: %v", err)
	}
}
