package engagement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emrgen/omnistore/internal/cache"
	"github.com/emrgen/omnistore/internal/catalog"
	"github.com/emrgen/omnistore/internal/engagement"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/queue"
	"github.com/emrgen/omnistore/internal/store"
	"github.com/emrgen/omnistore/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

type fixture struct {
	tracker *engagement.Tracker
	store   store.Store
	queue   *queue.MemoryQueue
	clock   *clock
}

func newFixture(t *testing.T, opts ...engagement.Option) *fixture {
	s := store.NewGormStore(tester.TestDB(t))
	q := queue.NewMemoryQueue()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	opts = append([]engagement.Option{engagement.WithClock(c.Now), engagement.WithPublisher(q)}, opts...)
	tracker := engagement.New(catalog.MustNew(catalog.DefaultSettings()), s, cache.NewMemory(c.Now), opts...)

	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, &query.Write{Table: "notes", ID: "public", Data: map[string]any{
		"is_private":       false,
		"owned_by_user_id": "owner",
		"score":            10,
	}}, true))
	require.NoError(t, s.Apply(ctx, &query.Write{Table: "notes", ID: "private", Data: map[string]any{
		"is_private":       true,
		"owned_by_user_id": "owner",
	}}, true))
	require.NoError(t, s.Apply(ctx, &query.Write{Table: "notes", ID: "deleted", Data: map[string]any{
		"is_private":       false,
		"is_deleted":       true,
		"owned_by_user_id": "owner",
	}}, true))

	return &fixture{tracker: tracker, store: s, queue: q, clock: c}
}

func (f *fixture) counter(t *testing.T, id, column string) int64 {
	rows, err := f.store.Find(context.Background(), query.NewSelect("notes", column), query.Eq("id", id), nil, query.Page{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0].Int(column)
}

func TestTracker_React(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := perm.Viewer{ID: "u1"}

	steps := []struct {
		emoji     string
		previous  string
		delta     int64
		score     int64
		summaries map[string]int64
	}{
		{emoji: "👍", delta: 1, score: 11, summaries: map[string]int64{"👍": 1}},
		{emoji: "👎", previous: "👍", delta: -2, score: 9, summaries: map[string]int64{"👎": 1}},
		{emoji: "👎", previous: "👎", delta: 0, score: 9, summaries: map[string]int64{"👎": 1}},
		{emoji: "", previous: "👎", delta: 1, score: 10, summaries: map[string]int64{}},
	}

	for _, step := range steps {
		res, err := f.tracker.React(ctx, kind.Note, "public", step.emoji, viewer)
		require.NoError(t, err)

		assert.Equal(t, step.previous, res.Previous)
		assert.Equal(t, step.delta, res.Delta)
		assert.Equal(t, step.score, res.Score)
		assert.Equal(t, step.score, f.counter(t, "public", "score"))

		got := make(map[string]int64)
		for _, s := range res.Summaries {
			got[s.Emoji] = s.Count
		}
		assert.Equal(t, step.summaries, got, "after %q", step.emoji)
	}

	// the repeated reaction publishes nothing
	events := f.queue.Events()
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, queue.ReactionChanged, e.Type)
		assert.Equal(t, "u1", e.ActorID)
	}
}

func TestTracker_ReactionsPerViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.React(ctx, kind.Note, "public", "🔥", perm.Viewer{ID: "u1"})
	require.NoError(t, err)
	res, err := f.tracker.React(ctx, kind.Note, "public", "🔥", perm.Viewer{ID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, int64(14), res.Score)
	require.Len(t, res.Summaries, 1)
	assert.Equal(t, int64(2), res.Summaries[0].Count)

	got, err := f.tracker.Reactions(ctx, kind.Note, []string{"public", "private"}, perm.Viewer{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"🔥", ""}, got)

	got, err = f.tracker.Reactions(ctx, kind.Note, []string{"public"}, perm.Anonymous)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, got)
}

func TestTracker_ReactRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		kind   kind.Kind
		id     string
		emoji  string
		viewer perm.Viewer
		code   errs.Code
	}{
		{name: "anonymous", kind: kind.Note, id: "public", emoji: "👍", code: errs.PermissionDenied},
		{name: "hidden", kind: kind.Note, id: "private", emoji: "👍", viewer: perm.Viewer{ID: "u1"}, code: errs.NotFound},
		{name: "deleted", kind: kind.Note, id: "deleted", emoji: "👍", viewer: perm.Viewer{ID: "u1"}, code: errs.NotFound},
		{name: "missing", kind: kind.Note, id: "nope", emoji: "👍", viewer: perm.Viewer{ID: "u1"}, code: errs.NotFound},
		{name: "not reactable", kind: kind.Tag, id: "t1", emoji: "👍", viewer: perm.Viewer{ID: "u1"}, code: errs.ValidationError},
		{name: "long emoji", kind: kind.Note, id: "public", emoji: "abcdefghijklmnopqrstuvwxyz0123456789", viewer: perm.Viewer{ID: "u1"}, code: errs.ValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tracker.React(ctx, tt.kind, tt.id, tt.emoji, tt.viewer)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}
	assert.Equal(t, int64(10), f.counter(t, "public", "score"))
}

func TestTracker_CustomScores(t *testing.T) {
	f := newFixture(t, engagement.WithScores(engagement.Scores{"👍": 5}))

	res, err := f.tracker.React(context.Background(), kind.Note, "public", "👍", perm.Viewer{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Delta)

	res, err = f.tracker.React(context.Background(), kind.Note, "public", "🦀", perm.Viewer{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(-4), res.Delta)
	assert.Equal(t, int64(11), res.Score)
}

func TestTracker_Bookmark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := perm.Viewer{ID: "u1"}

	created, err := f.tracker.Bookmark(ctx, kind.Note, "public", "", viewer)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.tracker.Bookmark(ctx, kind.Note, "public", "", viewer)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = f.tracker.Bookmark(ctx, kind.Note, "public", "Reading", viewer)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(2), f.counter(t, "public", "bookmarks"))

	marked, err := f.tracker.IsBookmarked(ctx, kind.Note, []string{"private", "public"}, viewer)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, marked)

	marked, err = f.tracker.IsBookmarked(ctx, kind.Note, []string{"public"}, perm.Viewer{ID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, marked)

	removed, err := f.tracker.Unbookmark(ctx, kind.Note, "public", viewer)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Zero(t, f.counter(t, "public", "bookmarks"))

	removed, err = f.tracker.Unbookmark(ctx, kind.Note, "public", viewer)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = f.tracker.Bookmark(ctx, kind.Note, "private", "", viewer)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
	_, err = f.tracker.Unbookmark(ctx, kind.Note, "public", perm.Anonymous)
	assert.Equal(t, errs.PermissionDenied, errs.CodeOf(err))

	var types []queue.EventType
	for _, e := range f.queue.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []queue.EventType{queue.Bookmarked, queue.Bookmarked, queue.Unbookmarked}, types)
}

func TestTracker_ViewCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := perm.Viewer{ID: "u1"}

	steps := []struct {
		advance time.Duration
		viewer  perm.Viewer
		counted bool
		views   int64
	}{
		{viewer: viewer, counted: true, views: 1},
		{advance: 30 * time.Minute, viewer: viewer, counted: false, views: 1},
		{viewer: perm.Viewer{ID: "u2"}, counted: true, views: 2},
		{advance: 31 * time.Minute, viewer: viewer, counted: true, views: 3},
		{viewer: perm.Viewer{ID: "owner"}, counted: false, views: 3},
		{viewer: perm.Anonymous, counted: false, views: 3},
	}

	for i, step := range steps {
		f.clock.now = f.clock.now.Add(step.advance)
		counted, err := f.tracker.View(ctx, kind.Note, "public", step.viewer)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.counted, counted, "step %d", i)
		assert.Equal(t, step.views, f.counter(t, "public", "views"), "step %d", i)
	}

	n, err := f.store.Count(ctx, "views", query.Eq("target_id", "public"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = f.tracker.View(ctx, kind.Note, "private", viewer)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
}

// failingCounters fails every counter increment made inside a transaction.
type failingCounters struct {
	store.Store
	fail bool
}

func (s *failingCounters) Transaction(ctx context.Context, f func(tx store.Store) error) error {
	return s.Store.Transaction(ctx, func(tx store.Store) error {
		return f(&failingCounters{Store: tx, fail: s.fail})
	})
}

func (s *failingCounters) Increment(ctx context.Context, table, id, column string, delta int64) error {
	if s.fail {
		return errors.New("counter unavailable")
	}
	return s.Store.Increment(ctx, table, id, column, delta)
}

func TestTracker_ViewFailureKeepsWindowOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := perm.Viewer{ID: "u1"}

	s := &failingCounters{Store: f.store, fail: true}
	tracker := engagement.New(catalog.MustNew(catalog.DefaultSettings()), s, cache.NewMemory(f.clock.Now),
		engagement.WithClock(f.clock.Now))

	_, err := tracker.View(ctx, kind.Note, "public", viewer)
	require.Error(t, err)
	assert.Equal(t, int64(0), f.counter(t, "public", "views"))

	s.fail = false
	counted, err := tracker.View(ctx, kind.Note, "public", viewer)
	require.NoError(t, err)
	assert.True(t, counted)
	assert.Equal(t, int64(1), f.counter(t, "public", "views"))

	counted, err = tracker.View(ctx, kind.Note, "public", viewer)
	require.NoError(t, err)
	assert.False(t, counted)
}

func TestScores(t *testing.T) {
	s := engagement.DefaultScores()
	assert.Equal(t, int64(0), s.Of(""))
	assert.Equal(t, int64(1), s.Of("👍"))
	assert.Equal(t, int64(-1), s.Of("👎"))
	assert.Equal(t, int64(1), s.Of("🦀"))

	merged := s.Merge(engagement.Scores{"👎": -3})
	assert.Equal(t, int64(-3), merged.Of("👎"))
	assert.Equal(t, int64(-1), s.Of("👎"))
}
